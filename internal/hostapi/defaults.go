// ABOUTME: Builds the standard host with every built-in provider installed.

package hostapi

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/store"
)

// Options configures the standard host.
type Options struct {
	SandboxDir     string
	NetworkTimeout time.Duration
	AllowedHosts   []string
	FeedSize       int
	RepeatWindow   time.Duration

	// Per-module fetch budget; zero uses the fetcher defaults.
	RequestsPerSecond float64
	Burst             int

	// AllowPrivateNetworks lets the internet provider reach loopback and LAN addresses.
	AllowPrivateNetworks bool
}

// Standard is a Host with handles to the stateful providers the shell displays.
type Standard struct {
	*Host
	Clipboard *Clipboard
	Notifier  *Notifier
}

// NewStandard installs storage, clipboard, notifications, internet and, when a sandbox
// directory is configured, filesystem. The remaining capabilities stay unavailable.
func NewStandard(opts Options, data store.ModuleDataStore, logger *slog.Logger) (*Standard, error) {
	h := New(logger)
	std := &Standard{
		Host:      h,
		Clipboard: NewClipboard(),
		Notifier:  NewNotifier(opts.FeedSize, logger),
	}
	std.Notifier.SuppressRepeats(opts.RepeatWindow)

	providers := map[catalog.Capability]Provider{
		catalog.Clipboard:     std.Clipboard,
		catalog.Notifications: std.Notifier,
		catalog.Internet: NewFetcher(InternetOptions{
			Timeout:              opts.NetworkTimeout,
			AllowedHosts:         opts.AllowedHosts,
			RPS:                  opts.RequestsPerSecond,
			Burst:                opts.Burst,
			AllowPrivateNetworks: opts.AllowPrivateNetworks,
		}),
	}
	if data != nil {
		providers[catalog.Storage] = NewStorage(data)
	}
	if opts.SandboxDir != "" {
		sb, err := OpenSandbox(opts.SandboxDir)
		if err != nil {
			return nil, err
		}
		h.OnClose(sb.Close)
		providers[catalog.Filesystem] = sb
	}

	for c, p := range providers {
		if err := h.Register(c, p); err != nil {
			return nil, fmt.Errorf("registering %s provider: %w", c, err)
		}
	}

	available := make([]catalog.Capability, 0, len(providers))
	for _, c := range catalog.All() {
		if h.Available(c) {
			available = append(available, c)
		}
	}
	h.logger.Info("host providers ready", "available", available)
	return std, nil
}
