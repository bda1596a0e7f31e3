// Package app assembles the engine and its peripherals from configuration.
// Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Portunus/gate/internal/config"
	"github.com/BrandonDHaskell/Portunus/gate/internal/db"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/match"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store/memory"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/gate/internal/grpchealth"
	"github.com/BrandonDHaskell/Portunus/gate/internal/peripheral"
)

type App struct {
	Engine  *service.Engine
	Matcher *match.Matcher
	Poller  *service.CardPoller
	Store   store.Store

	logger  *zap.Logger
	closers []func()
}

// Build opens storage and peripherals and starts the card poller.  A
// missing serial device or MQTT broker degrades to the absent reader and
// the log-only lock; storage failures are fatal.
func Build(ctx context.Context, cfg config.Config, registry *prometheus.Registry, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	st, err := a.openStore(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	a.Store = st

	policy, err := match.ParsePolicy(cfg.Match.Policy)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.Matcher, err = match.New(cfg.Match.Tolerance, policy, cfg.Match.VectorLength); err != nil {
		a.Close()
		return nil, err
	}

	reader, lock := a.openPeripherals(ctx, cfg)

	a.Poller, err = service.NewCardPoller(reader, service.PollerConfig{
		Interval:    cfg.Card.PollInterval,
		SettleDelay: cfg.Card.SettleDelay,
		UIDPattern:  cfg.Card.UIDPattern,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Poller.Start(ctx)
	a.closers = append(a.closers, a.Poller.Stop)

	var metrics *service.Metrics
	if registry != nil {
		metrics = service.NewMetrics(registry)
	}

	a.Engine = service.NewEngine(service.Deps{
		Store:     st,
		Matcher:   a.Matcher,
		Capture:   peripheral.NewHTTPCapture(nil, cfg.Capture.SnapshotURL),
		Extractor: peripheral.NewHTTPExtractor(nil, cfg.Extract.URL, cfg.Extract.Timeout),
		Poller:    a.Poller,
		Lock:      lock,
		Metrics:   metrics,
		Logger:    logger,
	}, service.EngineConfig{CardWaitTimeout: cfg.Card.WaitTimeout})

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.DBConfig) (store.Store, error) {
	if cfg.Ephemeral {
		a.logger.Warn("ephemeral store: nothing will be persisted")
		return memory.New(), nil
	}

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.Path})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	writer := db.NewWorker(sqlDB)
	a.closers = append(a.closers, func() {
		writer.Close()
		_ = sqlDB.Close()
	})
	a.logger.Info("store opened", zap.String("path", cfg.Path))
	return sqlite.New(sqlDB, writer), nil
}

func (a *App) openPeripherals(ctx context.Context, cfg config.Config) (service.CardReader, service.LockActuator) {
	var (
		reader service.CardReader   = peripheral.AbsentReader{}
		lock   service.LockActuator = peripheral.LogLock{Logger: a.logger}
	)

	if !cfg.Serial.Disabled {
		dev, err := peripheral.OpenSerial(ctx, peripheral.SerialConfig{
			Port:        cfg.Serial.Port,
			Products:    cfg.Serial.Products,
			Baud:        cfg.Serial.Baud,
			BootDelay:   cfg.Serial.BootDelay,
			OpenCommand: cfg.Serial.OpenCommand,
		}, a.logger)
		switch {
		case err == nil:
			reader, lock = dev, dev
			a.closers = append(a.closers, func() { _ = dev.Close() })
		case errors.Is(err, peripheral.ErrNoSerialPort):
			a.logger.Warn("no serial device found; card reader absent")
		default:
			a.logger.Warn("serial device unavailable; card reader absent", zap.Error(err))
		}
	}

	if cfg.MQTT.Broker != "" {
		ml, err := peripheral.DialMQTTLock(peripheral.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, a.logger)
		if err != nil {
			a.logger.Warn("mqtt lock unavailable", zap.Error(err))
		} else {
			lock = ml
			a.closers = append(a.closers, ml.Close)
		}
	}
	return reader, lock
}

// Apply pushes the hot-reloadable settings to the running matcher.
func (a *App) Apply(cfg config.Config) {
	if err := a.Matcher.SetTolerance(cfg.Match.Tolerance); err != nil {
		a.logger.Warn("reload: tolerance rejected", zap.Error(err))
	}
	if p, err := match.ParsePolicy(cfg.Match.Policy); err != nil {
		a.logger.Warn("reload: policy rejected", zap.Error(err))
	} else {
		a.Matcher.SetPolicy(p)
	}
	tol, policy := a.Matcher.Settings()
	a.logger.Info("match settings applied", zap.Float64("tolerance", tol), zap.String("policy", string(policy)))
}

// HealthProbes reports the components the gRPC health service tracks.
func (a *App) HealthProbes() map[string]grpchealth.Probe {
	return map[string]grpchealth.Probe{
		"card_reader": func(context.Context) bool { return a.Poller.Present() },
		"store": func(ctx context.Context) bool {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			err := a.Store.View(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := tx.RecentAudit(ctx, 1)
				return err
			})
			if err != nil {
				a.logger.Warn("store probe failed", zap.Error(err))
				return false
			}
			return true
		},
	}
}

// Close releases everything Build opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
