package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/Portunus/gate/internal/app"
	"github.com/BrandonDHaskell/Portunus/gate/internal/config"
	"github.com/BrandonDHaskell/Portunus/gate/internal/grpchealth"
	"github.com/BrandonDHaskell/Portunus/gate/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/gate/internal/logger"
	"github.com/BrandonDHaskell/Portunus/gate/internal/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("GATE_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, *configPath, log); err != nil {
		log.Fatal("gate stopped", zap.Error(err))
	}
}

func run(cfg config.Config, configPath string, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.NewRegistry()

	a, err := app.Build(ctx, cfg, registry, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Engine.Reconcile(ctx)
	if err != nil {
		return err
	}
	if n := len(report.OrphanBindings) + len(report.OrphanPresence); n > 0 {
		log.Warn("reconciled orphan rows",
			zap.Strings("bindings", report.OrphanBindings),
			zap.Strings("presence", report.OrphanPresence))
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, config.DefaultDebounce, a.Apply, func(err error) {
				log.Warn("config reload failed", zap.Error(err))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	var limiter *rate.Limiter
	if cfg.API.UnlockRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.API.UnlockRate), cfg.API.UnlockBurst)
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        log,
		Addr:          cfg.HTTP.Addr,
		Gate:          a.Engine,
		Registry:      registry,
		UnlockLimiter: limiter,
	})

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	var health *grpchealth.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		health = grpchealth.New(a.HealthProbes(), grpchealth.DefaultInterval, log)
		go health.Run(ctx)
		go func() {
			log.Info("grpc health listening", zap.String("addr", cfg.GRPC.Addr))
			if err := health.Serve(lis); err != nil {
				log.Error("grpc server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	// A workflow blocked on a card wait would hold the HTTP drain open.
	a.Engine.CancelWait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if health != nil {
		health.Stop()
	}
	return nil
}
