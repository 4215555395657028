// ABOUTME: Camera tool module requesting a still capture through the camera capability.

package modules

import (
	"context"
	"encoding/json"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/registry"
)

// CameraTool captures a still image.
type CameraTool struct{}

type cameraInput struct {
	Resolution string `json:"resolution"`
}

// Run asks the host for a capture and returns whatever the camera provider produced.
func (c *CameraTool) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in cameraInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(hostapi.Request{Op: "capture", Value: in.Resolution})
	if err != nil {
		return nil, err
	}
	out, err := host.Use(ctx, catalog.Camera, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"captured": true, "image": out})
}
