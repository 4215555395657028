// ABOUTME: Host capability table mapping each capability to the provider that performs it.
// ABOUTME: The gate forwards granted requests here; providers never check policy themselves.

package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
)

var (
	// ErrUnavailable indicates the host has no backing implementation for a capability.
	ErrUnavailable = errors.New("capability unavailable on this host")

	// ErrBadRequest indicates a malformed provider payload.
	ErrBadRequest = errors.New("bad capability request")

	// ErrUnsupportedOp indicates a provider does not implement the requested op.
	ErrUnsupportedOp = errors.New("unsupported operation")
)

// Provider performs one capability for a module. The gate has already granted the call.
type Provider interface {
	Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error)

// Handle calls f.
func (f ProviderFunc) Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, moduleID, payload)
}

// Request is the payload envelope shared by the built-in providers. Each provider
// reads the fields its ops need.
type Request struct {
	Op      string `json:"op"`
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
	Text    string `json:"text,omitempty"`
	Path    string `json:"path,omitempty"`
	URL     string `json:"url,omitempty"`
	Method  string `json:"method,omitempty"`
	Body    string `json:"body,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// DecodeRequest parses payload into a Request. An empty payload is an empty request.
func DecodeRequest(payload json.RawMessage) (Request, error) {
	var req Request
	if len(payload) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return req, nil
}

// Host routes capability calls to providers. Every capability starts out
// backed by an Unavailable provider.
type Host struct {
	mu        sync.RWMutex
	providers map[catalog.Capability]Provider
	closers   []func() error
	logger    *slog.Logger
}

// New creates a Host with no working providers.
func New(logger *slog.Logger) *Host {
	h := &Host{
		providers: make(map[catalog.Capability]Provider),
		logger:    logger.With("component", "hostapi"),
	}
	for _, c := range catalog.All() {
		h.providers[c] = Unavailable{Capability: c}
	}
	return h
}

// Register installs p for c, replacing any previous provider.
func (h *Host) Register(c catalog.Capability, p Provider) error {
	if !catalog.Known(c) {
		return fmt.Errorf("%w: %q", catalog.ErrUnknownCapability, c)
	}
	if p == nil {
		return fmt.Errorf("nil provider for %s", c)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[c] = p
	h.logger.Debug("registered provider", "capability", c, "provider", fmt.Sprintf("%T", p))
	return nil
}

// Provider returns the provider for c.
func (h *Host) Provider(c catalog.Capability) (Provider, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.providers[c]
	return p, ok
}

// Available reports whether c has a working provider.
func (h *Host) Available(c catalog.Capability) bool {
	p, ok := h.Provider(c)
	if !ok {
		return false
	}
	_, unavailable := p.(Unavailable)
	return !unavailable
}

// Call performs c for moduleID.
func (h *Host) Call(ctx context.Context, moduleID manifest.ID, c catalog.Capability, payload json.RawMessage) (json.RawMessage, error) {
	p, ok := h.Provider(c)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, c)
	}
	return p.Handle(ctx, moduleID, payload)
}

// OnClose registers fn to run when the host is closed.
func (h *Host) OnClose(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closers = append(h.closers, fn)
}

// Close releases provider resources.
func (h *Host) Close() error {
	h.mu.Lock()
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unavailable reports ErrUnavailable for every request.
type Unavailable struct {
	Capability catalog.Capability
}

// Handle always fails.
func (u Unavailable) Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, u.Capability)
}

func reply(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding reply: %w", err)
	}
	return data, nil
}

func unsupported(c catalog.Capability, op string) error {
	return fmt.Errorf("%w: %s does not support %q", ErrUnsupportedOp, c, op)
}
