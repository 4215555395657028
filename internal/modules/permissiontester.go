// ABOUTME: Permission tester module that declares nothing and tries every capability.
// ABOUTME: Each attempt is reported as blocked, success or error.

package modules

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/gate"
	"github.com/2389/toolshell/internal/registry"
)

// ProbeStatus is the result of one capability attempt.
type ProbeStatus string

const (
	ProbeBlocked ProbeStatus = "blocked"
	ProbeSuccess ProbeStatus = "success" // a security issue for this module
	ProbeError   ProbeStatus = "error"
)

// ProbeResult reports one attempt.
type ProbeResult struct {
	Capability catalog.Capability `json:"capability"`
	Name       string             `json:"name"`
	Icon       string             `json:"icon"`
	Status     ProbeStatus        `json:"status"`
	Message    string             `json:"message"`
}

// PermissionTester attempts every capability in catalog order.
type PermissionTester struct{}

// Run probes all capabilities and summarizes the outcomes.
func (p *PermissionTester) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	results := make([]ProbeResult, 0, len(catalog.All()))
	counts := map[ProbeStatus]int{}
	for _, c := range catalog.All() {
		r := probeCapability(ctx, host, c)
		counts[r.Status]++
		results = append(results, r)
	}
	return json.Marshal(map[string]any{
		"results": results,
		"blocked": counts[ProbeBlocked],
		"success": counts[ProbeSuccess],
		"errors":  counts[ProbeError],
		"secure":  counts[ProbeSuccess] == 0,
	})
}

func probeCapability(ctx context.Context, host registry.Host, c catalog.Capability) ProbeResult {
	info, _ := catalog.Describe(c)
	r := ProbeResult{Capability: c, Name: info.Name, Icon: info.Icon}

	_, err := host.Use(ctx, c, json.RawMessage(`{"op":"probe"}`))
	var denied *gate.CapabilityDenied
	switch {
	case err == nil:
		r.Status = ProbeSuccess
		r.Message = "security issue: access granted"
	case errors.As(err, &denied):
		r.Status = ProbeBlocked
		r.Message = "access denied: " + string(denied.Reason)
	default:
		r.Status = ProbeError
		r.Message = err.Error()
	}
	return r
}
