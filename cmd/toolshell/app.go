// ABOUTME: Wires config, store, registry, host, gate and shell into one application
// ABOUTME: Shared by the server and the one-shot management commands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/2389/toolshell/internal/config"
	"github.com/2389/toolshell/internal/enablement"
	"github.com/2389/toolshell/internal/gate"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/modules"
	"github.com/2389/toolshell/internal/registry"
	"github.com/2389/toolshell/internal/shell"
	"github.com/2389/toolshell/internal/store"
)

type app struct {
	cfg        *config.Config
	configPath string // empty when running on defaults
	logger     *slog.Logger

	store    *store.SQLiteStore
	registry *registry.Registry
	host     *hostapi.Standard
	gate     *gate.Gate
	shell    *shell.Shell
}

// loadConfig reads the config file, or defaults when none exists.
func loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openApp builds every component and opens the shell. Logs go to logOut at no
// less than minLevel.
func openApp(ctx context.Context, logOut io.Writer, minLevel slog.Level) (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging, logOut, minLevel)
	slog.SetDefault(logger)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &app{cfg: cfg, configPath: path, logger: logger, store: db}
	if err := a.wire(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	a.registry = registry.New(logger)
	if _, errs := modules.RegisterAll(a.registry, logger); len(errs) > 0 {
		logger.Warn("some built-in modules were skipped", "count", len(errs))
	}
	if cfg.Modules.ManifestDir != "" {
		a.checkManifestDir()
	}

	en := enablement.New(a.store, logger)

	host, err := hostapi.NewStandard(hostapi.Options{
		SandboxDir:           cfg.Host.SandboxDir,
		NetworkTimeout:       cfg.Host.NetworkTimeout,
		AllowedHosts:         cfg.Host.AllowedHosts,
		FeedSize:             cfg.Host.NotificationFeed,
		RepeatWindow:         cfg.Host.RepeatWindow,
		RequestsPerSecond:    cfg.Host.RequestsPerSecond,
		Burst:                cfg.Host.Burst,
		AllowPrivateNetworks: cfg.Host.AllowPrivateNetworks,
	}, a.store, logger)
	if err != nil {
		return fmt.Errorf("creating host: %w", err)
	}
	a.host = host

	var sink gate.AuditSink = gate.NewLogSink(logger)
	if cfg.Audit.Enabled {
		sink = gate.MultiSink{sink, gate.NewStoreSink(a.store)}
	}
	a.gate = gate.New(gate.Config{
		Registry:   a.registry,
		Enablement: en,
		Host:       host,
		Sink:       sink,
		Logger:     logger,
	})

	a.shell = shell.New(shell.Config{
		Registry:   a.registry,
		Enablement: en,
		Gate:       a.gate,
		Logger:     logger,
	})
	a.shell.Open(ctx)
	return nil
}

// checkManifestDir validates the extra manifest directory and logs diagnostics.
// Manifests there have no implementation, so they are never registered.
func (a *app) checkManifestDir() manifest.Scan {
	scan := manifest.ScanDir(a.cfg.Modules.ManifestDir)
	scan.Log(a.logger)
	return scan
}

// auditStore returns the store backing the audit log, or nil when auditing is off.
func (a *app) auditStore() store.AuditStore {
	if !a.cfg.Audit.Enabled {
		return nil
	}
	return a.store
}

// Close flushes pending enablement writes and releases the host and store.
func (a *app) Close() error {
	var errs []error
	if err := a.shell.Flush(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("flushing enablement: %w", err))
	}
	if err := a.host.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing host: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

// stderr is where one-shot commands send logs.
var stderr io.Writer = os.Stderr
