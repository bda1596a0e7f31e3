package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Portunus/gate/internal/app"
	"github.com/BrandonDHaskell/Portunus/gate/internal/config"
	"github.com/BrandonDHaskell/Portunus/gate/internal/console"
	"github.com/BrandonDHaskell/Portunus/gate/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("GATE_CONFIG"), "path to TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// The console owns the terminal, so only warnings reach the log.
	log, err := logger.New("warn", "dev")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if report, err := a.Engine.Reconcile(ctx); err != nil {
		return err
	} else if len(report.OrphanBindings)+len(report.OrphanPresence) > 0 {
		log.Warn("reconciled orphan rows",
			zap.Strings("bindings", report.OrphanBindings),
			zap.Strings("presence", report.OrphanPresence))
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := filepath.Join(os.TempDir(), "portunus-console_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
		line.Close()
	}()

	c := console.New(a.Engine, line, os.Stdout)

	// Outside a prompt Ctrl+C arrives as SIGINT; it cancels the card wait
	// instead of killing the process.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			c.Interrupt()
		}
	}()

	return c.Run(ctx)
}
