// ABOUTME: Entry point for the toolshell module host
// ABOUTME: Dispatches the serve command and the local module management commands

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _              _     _          _ _
| |_ ___   ___ | |___| |__   ___| | |
| __/ _ \ / _ \| / __| '_ \ / _ \ | |
| || (_) | (_) | \__ \ | | |  __/ | |
 \__\___/ \___/|_|___/_| |_|\___|_|_|
`

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, stdout io.Writer) error
}

var commands = []command{
	{"serve", "serve                    Start the local API server", runServe},
	{"list", "list [--active]          List modules", runList},
	{"info", "info <id>                Show a module's manifest and permissions", runInfo},
	{"enable", "enable <id>              Enable a module", runEnable},
	{"disable", "disable <id>             Disable a module", runDisable},
	{"enable-all", "enable-all               Enable every module", runEnableAll},
	{"disable-all", "disable-all              Disable every module", runDisableAll},
	{"run", "run <id> [json]          Run a module with optional JSON input", runRun},
	{"probe", "probe <id>               Check every capability for a module", runProbe},
	{"permissions", "permissions              List capabilities and the modules declaring them", runPermissions},
	{"audit", "audit [n]                Show the last n gate decisions", runAudit},
	{"validate", "validate <dir>           Validate the manifests in a directory", runValidate},
	{"token", "token <name> [--read-only] [--ttl D]  Issue an API token", runToken},
	{"health", "health                   Check a running server", runHealth},
	{"version", "version                  Print the version", runVersion},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: toolshell <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintln(w, "  "+c.usage)
	}
}

func main() {
	// Load .env file if it exists so ${VAR} references in the config resolve
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, name string, args []string, stdout io.Writer) error {
	for _, c := range commands {
		if c.name == name {
			return c.run(ctx, args, stdout)
		}
	}
	if name == "help" || name == "-h" || name == "--help" {
		usage(stdout)
		return nil
	}
	return fmt.Errorf("unknown command: %s", name)
}

func runVersion(ctx context.Context, args []string, stdout io.Writer) error {
	fmt.Fprintln(stdout, version)
	return nil
}
