package peripheral

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const mqttPublishTimeout = 5 * time.Second

var ErrMQTTTimeout = errors.New("mqtt publish timed out")

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Payload  string
}

// MQTTLock opens a networked lock by publishing to its command topic.
type MQTTLock struct {
	client  mqtt.Client
	topic   string
	payload []byte
	logger  *zap.Logger
}

// NewMQTTLock wraps an existing client.  The client is expected to be
// connected already.
func NewMQTTLock(client mqtt.Client, topic, payload string, logger *zap.Logger) *MQTTLock {
	if payload == "" {
		payload = "OPEN"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTLock{client: client, topic: topic, payload: []byte(payload), logger: logger}
}

// DialMQTTLock connects to the broker with automatic reconnect.
func DialMQTTLock(cfg MQTTConfig, logger *zap.Logger) (*MQTTLock, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttPublishTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttPublishTimeout) {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, ErrMQTTTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return NewMQTTLock(client, cfg.Topic, cfg.Payload, logger), nil
}

// Open publishes the open command with QoS 1 and waits for the broker's
// acknowledgement, not the lock's.
func (l *MQTTLock) Open(ctx context.Context) error {
	token := l.client.Publish(l.topic, 1, false, l.payload)

	timeout := mqttPublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return ErrMQTTTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", l.topic, err)
	}
	l.logger.Debug("lock open published", zap.String("topic", l.topic))
	return nil
}

func (l *MQTTLock) Close() {
	if l.client.IsConnected() {
		l.client.Disconnect(250)
	}
}
