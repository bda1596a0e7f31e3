package peripheral_test

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/gate/internal/peripheral"
)

type fakeToken struct {
	complete bool
	err      error
}

func (t *fakeToken) Wait() bool                     { return t.complete }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.complete {
		close(ch)
	}
	return ch
}

// fakeClient records publishes.  Unused methods panic through the nil
// embedded interface.
type fakeClient struct {
	mqtt.Client
	token   *fakeToken
	topic   string
	qos     byte
	payload any
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic, c.qos, c.payload = topic, qos, payload
	return c.token
}

func TestMQTTLock_PublishesOpen(t *testing.T) {
	c := &fakeClient{token: &fakeToken{complete: true}}
	l := peripheral.NewMQTTLock(c, "gate/front/cmd", "", nil)

	require.NoError(t, l.Open(context.Background()))
	require.Equal(t, "gate/front/cmd", c.topic)
	require.Equal(t, byte(1), c.qos)
	require.Equal(t, []byte("OPEN"), c.payload)
}

func TestMQTTLock_Timeout(t *testing.T) {
	c := &fakeClient{token: &fakeToken{complete: false}}
	l := peripheral.NewMQTTLock(c, "gate/front/cmd", "OPEN", nil)

	require.ErrorIs(t, l.Open(context.Background()), peripheral.ErrMQTTTimeout)
}

func TestMQTTLock_BrokerError(t *testing.T) {
	boom := errors.New("not authorized")
	c := &fakeClient{token: &fakeToken{complete: true, err: boom}}
	l := peripheral.NewMQTTLock(c, "gate/front/cmd", "OPEN", nil)

	require.ErrorIs(t, l.Open(context.Background()), boom)
}
