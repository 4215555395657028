// ABOUTME: Clipboard capability provider holding a single in-process text buffer.

package hostapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
)

// Clipboard is shared by every module, like a system clipboard.
type Clipboard struct {
	mu      sync.RWMutex
	text    string
	owner   manifest.ID
	updated time.Time
}

// ClipboardReply is returned by read and write.
type ClipboardReply struct {
	Text      string    `json:"text"`
	Owner     string    `json:"owner,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// NewClipboard creates an empty clipboard.
func NewClipboard() *Clipboard {
	return &Clipboard{}
}

// Handle implements read and write.
func (c *Clipboard) Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error) {
	req, err := DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Op {
	case "read":
		return reply(c.Read())
	case "write":
		c.mu.Lock()
		c.text = req.Text
		c.owner = moduleID
		c.updated = time.Now().UTC()
		c.mu.Unlock()
		return reply(c.Read())
	}
	return nil, unsupported(catalog.Clipboard, req.Op)
}

// Read returns the current clipboard contents.
func (c *Clipboard) Read() ClipboardReply {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClipboardReply{Text: c.text, Owner: string(c.owner), UpdatedAt: c.updated}
}
