// ABOUTME: One-shot module management commands; enablement changes go through a running server
// ABOUTME: list, info, enable/disable, run, probe, permissions, audit, validate, token, health

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/toolshell/internal/auth"
	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/gate"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/store"
)

// defaultTokenTTL is how long issued API tokens stay valid.
const defaultTokenTTL = 30 * 24 * time.Hour

// withApp opens the application quietly, runs fn and closes it.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx, stderr, slog.LevelWarn)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func oneArg(args []string, what string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one argument: %s", what)
	}
	return args[0], nil
}

func riskColor(r catalog.Risk) *color.Color {
	switch r {
	case catalog.RiskHigh:
		return color.New(color.FgRed)
	case catalog.RiskMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func runList(ctx context.Context, args []string, stdout io.Writer) error {
	activeOnly := false
	for _, arg := range args {
		switch arg {
		case "--active", "-a":
			activeOnly = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	return withApp(ctx, func(a *app) error {
		views := a.shell.Modules()
		if activeOnly {
			views = a.shell.Active()
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVERSION\tCATEGORY\tENABLED\tPERMISSIONS")
		for _, v := range views {
			perms := make([]string, len(v.Permissions))
			for i, p := range v.Permissions {
				perms[i] = string(p.ID)
			}
			enabled := color.HiBlackString("no")
			if v.Enabled {
				enabled = color.GreenString("yes")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Version, v.Category, enabled, strings.Join(perms, ","))
		}
		return tw.Flush()
	})
}

func runInfo(ctx context.Context, args []string, stdout io.Writer) error {
	id, err := oneArg(args, "module id")
	if err != nil {
		return err
	}
	return withApp(ctx, func(a *app) error {
		v, err := a.shell.Module(id)
		if err != nil {
			return err
		}

		bold := color.New(color.Bold)
		bold.Fprintf(stdout, "%s %s\n", v.DisplayName, v.Version)
		fmt.Fprintf(stdout, "  id:        %s\n", v.ID)
		fmt.Fprintf(stdout, "  category:  %s\n", v.Category)
		if v.Status != "" {
			fmt.Fprintf(stdout, "  status:    %s\n", v.Status)
		}
		if v.Author != nil {
			fmt.Fprintf(stdout, "  author:    %s\n", v.Author.Name)
		}
		fmt.Fprintf(stdout, "  enabled:   %t\n", v.Enabled)
		fmt.Fprintf(stdout, "  %s\n", v.Description)

		fmt.Fprintln(stdout)
		if len(v.Permissions) == 0 {
			fmt.Fprintln(stdout, "  no permissions requested")
			return nil
		}
		fmt.Fprintf(stdout, "  permissions (highest risk: %s)\n", riskColor(v.Risk.Highest).Sprint(v.Risk.Highest))
		for _, p := range v.Permissions {
			fmt.Fprintf(stdout, "    %-14s %s  %s\n", p.ID, riskColor(p.Risk).Sprintf("%-6s", p.Risk), p.Description)
		}
		return nil
	})
}

// changeEnablement applies a change through a running server when one answers, so
// the server stops granting a disabled module at once. Otherwise it writes the
// database directly.
func changeEnablement(ctx context.Context, path string, local func(a *app) ([]string, error)) (enablementResult, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return enablementResult{}, err
	}
	srv, err := findServer(ctx, cfg)
	if err != nil {
		return enablementResult{}, err
	}
	if srv != nil {
		res, err := srv.post(ctx, path)
		if err == nil && !res.Persisted {
			color.New(color.FgYellow).Fprintln(stderr, "warning: the server applied the change but could not save it; it will retry on the next change")
		}
		return res, err
	}

	res := enablementResult{Persisted: true}
	err = withApp(ctx, func(a *app) error {
		var err error
		res.Active, err = local(a)
		return err
	})
	return res, err
}

func activeIDs(a *app) []string {
	views := a.shell.Active()
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

func runEnable(ctx context.Context, args []string, stdout io.Writer) error {
	id, err := oneArg(args, "module id")
	if err != nil {
		return err
	}
	_, err = changeEnablement(ctx, modulePath(id, "enable"), func(a *app) ([]string, error) {
		return nil, a.shell.Enable(ctx, id)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s enabled\n", id)
	return nil
}

func runDisable(ctx context.Context, args []string, stdout io.Writer) error {
	id, err := oneArg(args, "module id")
	if err != nil {
		return err
	}
	_, err = changeEnablement(ctx, modulePath(id, "disable"), func(a *app) ([]string, error) {
		return nil, a.shell.Disable(ctx, id)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s disabled\n", id)
	return nil
}

func runEnableAll(ctx context.Context, args []string, stdout io.Writer) error {
	res, err := changeEnablement(ctx, "/api/modules/enable-all", func(a *app) ([]string, error) {
		if err := a.shell.EnableAll(ctx); err != nil {
			return nil, err
		}
		return activeIDs(a), nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d modules enabled\n", len(res.Active))
	return nil
}

func runDisableAll(ctx context.Context, args []string, stdout io.Writer) error {
	_, err := changeEnablement(ctx, "/api/modules/disable-all", func(a *app) ([]string, error) {
		return nil, a.shell.DisableAll(ctx)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "all modules disabled")
	return nil
}

func runRun(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: toolshell run <id> [json]")
	}
	var input json.RawMessage
	if len(args) == 2 {
		input = json.RawMessage(args[1])
		if !json.Valid(input) {
			return fmt.Errorf("input must be valid JSON")
		}
	}

	return withApp(ctx, func(a *app) error {
		out, err := a.shell.Run(ctx, args[0], input)
		if err != nil {
			var denied *gate.CapabilityDenied
			if errors.As(err, &denied) {
				color.New(color.FgRed).Fprintf(stdout, "denied: %s may not use %s (%s)\n", denied.ModuleID, denied.Capability, denied.Reason)
			}
			return err
		}
		var pretty any
		if err := json.Unmarshal(out, &pretty); err != nil {
			_, err = stdout.Write(append(out, '\n'))
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	})
}

func runProbe(ctx context.Context, args []string, stdout io.Writer) error {
	id, err := oneArg(args, "module id")
	if err != nil {
		return err
	}
	return withApp(ctx, func(a *app) error {
		decisions, err := a.shell.Probe(ctx, id)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CAPABILITY\tOUTCOME\tREASON")
		granted := 0
		for _, d := range decisions {
			outcome := color.RedString(string(d.Outcome))
			if d.Granted() {
				outcome = color.GreenString(string(d.Outcome))
				granted++
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Capability, outcome, d.Reason)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "\n%d granted, %d denied\n", granted, len(decisions)-granted)
		return nil
	})
}

func runPermissions(ctx context.Context, args []string, stdout io.Writer) error {
	return withApp(ctx, func(a *app) error {
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CAPABILITY\tRISK\tMODULES")
		for _, u := range a.shell.Permissions() {
			mods := strings.Join(u.Modules, ",")
			if mods == "" {
				mods = color.HiBlackString("-")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, riskColor(u.Risk).Sprint(u.Risk), mods)
		}
		return tw.Flush()
	})
}

func runAudit(ctx context.Context, args []string, stdout io.Writer) error {
	limit := 20
	if len(args) > 1 {
		return fmt.Errorf("usage: toolshell audit [n]")
	}
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("n must be a positive integer")
		}
		limit = n
	}

	return withApp(ctx, func(a *app) error {
		audit := a.auditStore()
		if audit == nil {
			return fmt.Errorf("audit log disabled (audit.enabled is false)")
		}
		entries, err := audit.ListAuditLog(ctx, store.AuditFilter{Limit: limit})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tMODULE\tCAPABILITY\tOUTCOME\tREASON")
		for _, e := range entries {
			outcome := color.RedString(string(e.Outcome))
			if e.Outcome == store.AuditGranted {
				outcome = color.GreenString(string(e.Outcome))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format(time.DateTime), e.ModuleID, e.Capability, outcome, e.Reason)
		}
		return tw.Flush()
	})
}

// runValidate checks a manifest directory without touching the database.
func runValidate(ctx context.Context, args []string, stdout io.Writer) error {
	dir, err := oneArg(args, "manifest directory")
	if err != nil {
		return err
	}
	scan := manifest.ScanDir(dir)
	for _, m := range scan.Manifests {
		color.New(color.FgGreen).Fprint(stdout, "✓ ")
		fmt.Fprintf(stdout, "%s %s\n", m.ID(), m.Version())
	}
	for _, e := range scan.Errors {
		color.New(color.FgRed).Fprint(stdout, "✗ ")
		fmt.Fprintln(stdout, e)
	}
	if len(scan.Errors) > 0 {
		return fmt.Errorf("%d invalid manifest(s)", len(scan.Errors))
	}
	return nil
}

func runToken(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		name     string
		readOnly bool
		ttl      = defaultTokenTTL
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--read-only":
			readOnly = true
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case name == "":
			name = strings.TrimSpace(arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if name == "" {
		return fmt.Errorf("client name is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}

	scopes := []string{auth.ScopeRead, auth.ScopeWrite}
	if readOnly {
		scopes = []string{auth.ScopeRead}
	}
	token, err := verifier.Generate(name, ttl, scopes...)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func runHealth(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(stdout, "healthy")
	return nil
}
