// ABOUTME: Built-in module catalog: embedded manifests paired with their implementations.
// ABOUTME: RegisterAll validates each manifest and registers the modules that pass.

package modules

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/registry"
)

//go:embed manifests/*.json
var manifestFS embed.FS

// ErrInvalidInput indicates a module could not make sense of its input.
var ErrInvalidInput = errors.New("invalid module input")

// ErrNoImplementation indicates a manifest has no matching built-in implementation.
var ErrNoImplementation = errors.New("no implementation for manifest")

// factories maps module ids to their implementations.
var factories = map[manifest.ID]registry.Factory{
	"calculator":         func() registry.Module { return &Calculator{} },
	"base64-encoder":     func() registry.Module { return &Base64Encoder{} },
	"json-formatter":     func() registry.Module { return &JSONFormatter{} },
	"password-generator": func() registry.Module { return &PasswordGenerator{} },
	"url-shortener":      func() registry.Module { return &URLShortener{} },
	"unit-converter":     func() registry.Module { return &UnitConverter{} },
	"text-editor":        func() registry.Module { return &TextEditor{} },
	"color-picker":       func() registry.Module { return &ColorPicker{} },
	"camera-tool":        func() registry.Module { return &CameraTool{} },
	"permission-tester":  func() registry.Module { return &PermissionTester{} },
}

// Manifests validates every embedded manifest. Invalid files are reported in errs.
func Manifests() ([]*manifest.Manifest, []error) {
	return manifest.LoadDir(manifestFS, "manifests")
}

// RegisterAll registers every built-in module whose manifest validates and has an
// implementation. Skipped modules are logged and returned as errors; they never
// prevent the remaining modules from registering.
func RegisterAll(reg *registry.Registry, logger *slog.Logger) ([]manifest.ID, []error) {
	logger = logger.With("component", "modules")

	manifests, errs := Manifests()
	for _, err := range errs {
		logger.Warn("skipping module with invalid manifest", "error", err)
	}

	var registered []manifest.ID
	for _, m := range manifests {
		factory, ok := factories[m.ID()]
		if !ok {
			err := fmt.Errorf("%w: %s", ErrNoImplementation, m.ID())
			logger.Warn("skipping module", "module_id", m.ID(), "error", err)
			errs = append(errs, err)
			continue
		}
		if _, err := reg.Register(m, factory); err != nil {
			logger.Warn("skipping module", "module_id", m.ID(), "error", err)
			errs = append(errs, err)
			continue
		}
		registered = append(registered, m.ID())
	}

	logger.Info("built-in modules registered", "count", len(registered), "skipped", len(errs))
	return registered, errs
}

func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// callHost sends req to capability c and decodes the reply into out when non-nil.
func callHost(ctx context.Context, host registry.Host, c catalog.Capability, req hostapi.Request, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data, err := host.Use(ctx, c, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", c, err)
	}
	return nil
}

// copyToClipboard writes text when asked to. Failures are reported back to the caller
// in the result rather than failing the whole run.
func copyToClipboard(ctx context.Context, host registry.Host, want bool, text string) (bool, string) {
	if !want {
		return false, ""
	}
	if err := callHost(ctx, host, catalog.Clipboard, hostapi.Request{Op: "write", Text: text}, nil); err != nil {
		return false, err.Error()
	}
	return true, ""
}
