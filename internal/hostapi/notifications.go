// ABOUTME: Notifications capability provider that logs each notification
// ABOUTME: and keeps the most recent ones in a bounded feed for the shell to display.

package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/dedupe"
	"github.com/2389/toolshell/internal/manifest"
)

// DefaultFeedSize bounds the notification feed when no size is configured.
const DefaultFeedSize = 50

// repeatKeys bounds how many distinct notifications the repeat window tracks.
const repeatKeys = 1024

// Notification is one delivered notification.
type Notification struct {
	ID        string    `json:"id"`
	ModuleID  string    `json:"module_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`

	// Suppressed is set on the reply when an identical notification from the
	// same module was delivered within the repeat window. It is never stored.
	Suppressed bool `json:"suppressed,omitempty"`
}

// Notifier records notifications.
type Notifier struct {
	mu     sync.Mutex
	feed   []Notification
	max    int
	repeat *dedupe.Window
	logger *slog.Logger
}

// NewNotifier creates a Notifier keeping at most size notifications.
func NewNotifier(size int, logger *slog.Logger) *Notifier {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Notifier{max: size, logger: logger.With("component", "notifications")}
}

// SuppressRepeats drops a notification when the same module sent the same title
// and message within window. A zero window turns suppression off.
func (n *Notifier) SuppressRepeats(window time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if window <= 0 {
		n.repeat = nil
		return
	}
	n.repeat = dedupe.NewWindow(window, repeatKeys)
}

// Handle implements notify.
func (n *Notifier) Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error) {
	req, err := DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	if req.Op != "notify" {
		return nil, unsupported(catalog.Notifications, req.Op)
	}
	if req.Title == "" && req.Message == "" {
		return nil, fmt.Errorf("%w: title or message is required", ErrBadRequest)
	}

	note := Notification{
		ID:        uuid.New().String(),
		ModuleID:  string(moduleID),
		Title:     req.Title,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
	}

	n.mu.Lock()
	if n.repeat != nil && n.repeat.Seen(string(moduleID)+"\x00"+req.Title+"\x00"+req.Message) {
		n.mu.Unlock()
		n.logger.Debug("notification suppressed", "module_id", moduleID, "title", note.Title)
		note.Suppressed = true
		return reply(note)
	}
	n.feed = append(n.feed, note)
	if over := len(n.feed) - n.max; over > 0 {
		n.feed = slices.Delete(n.feed, 0, over)
	}
	n.mu.Unlock()

	n.logger.Info("notification", "module_id", moduleID, "title", note.Title, "message", note.Message)
	return reply(note)
}

// Recent returns notifications newest first.
func (n *Notifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := slices.Clone(n.feed)
	slices.Reverse(out)
	return out
}
