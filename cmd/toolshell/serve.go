// ABOUTME: The serve command: runs the local API and the manifest directory watcher
// ABOUTME: Prints the startup banner and shuts everything down on SIGINT/SIGTERM

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/toolshell/internal/api"
	"github.com/2389/toolshell/internal/auth"
	"github.com/2389/toolshell/internal/manifest"
)

func runServe(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprint(stdout, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(stdout, "    version: %s\n\n", version)

	a, err := openApp(ctx, os.Stdout, slog.LevelDebug)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("shutdown failed", "error", err)
		}
	}()

	var verifier auth.TokenVerifier
	if a.cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(a.cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating token verifier: %w", err)
		}
		verifier = v
	}

	configPath := a.configPath
	if configPath == "" {
		configPath = "(defaults)"
	}
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	line := func(label, value string) {
		green.Fprint(stdout, "    ▶ ")
		fmt.Fprintf(stdout, "%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("Database", a.cfg.Database.Path)
	line("HTTP", a.cfg.Server.HTTPAddr)
	line("Sandbox", a.cfg.Host.SandboxDir)
	line("Modules", fmt.Sprintf("%d registered, %d enabled", a.registry.Len(), len(a.shell.Active())))
	if verifier == nil {
		green.Fprint(stdout, "    ▶ ")
		yellow.Fprintln(stdout, "Auth:      disabled (no auth.jwt_secret)")
	}
	fmt.Fprintln(stdout)

	a.logger.Info("starting toolshell",
		"config", configPath,
		"http_addr", a.cfg.Server.HTTPAddr,
		"version", version,
	)

	srv := api.New(api.Config{
		Shell:         a.shell,
		Audit:         a.auditStore(),
		Notifications: a.host.Notifier,
		Verifier:      verifier,
		RateLimit:     a.cfg.Server.RateLimit,
		RateBurst:     a.cfg.Server.RateBurst,
		Logger:        a.logger,
	})

	var watcher *manifest.Watcher
	if a.cfg.Modules.Watch {
		watcher, err = manifest.NewWatcher(a.cfg.Modules.ManifestDir, manifest.DefaultDebounce, func(s manifest.Scan) {
			s.Log(a.logger)
		}, a.logger)
		if err != nil {
			return fmt.Errorf("watching manifests: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, a.cfg.Server.HTTPAddr)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("toolshell stopped")
	return nil
}
