// ABOUTME: Audit sinks receiving one event per access decision.
// ABOUTME: Log sink, persistent store sink and fan-out over several sinks.

package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/toolshell/internal/store"
)

// AuditSink receives every access decision.
type AuditSink interface {
	Record(ctx context.Context, d AccessDecision) error
}

// LogSink writes decisions to a structured logger. Denials log at warn.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

// Record logs d.
func (s *LogSink) Record(ctx context.Context, d AccessDecision) error {
	level := slog.LevelInfo
	if !d.Granted() {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "capability decision",
		"decision_id", d.ID,
		"module_id", d.ModuleID,
		"capability", d.Capability,
		"outcome", d.Outcome,
		"reason", d.Reason,
		"timestamp", d.Timestamp,
	)
	return nil
}

// StoreSink persists decisions to the audit log.
type StoreSink struct {
	store store.AuditStore
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(s store.AuditStore) *StoreSink {
	return &StoreSink{store: s}
}

// Record appends d to the audit log.
func (s *StoreSink) Record(ctx context.Context, d AccessDecision) error {
	outcome := store.AuditDenied
	if d.Granted() {
		outcome = store.AuditGranted
	}
	return s.store.AppendAuditLog(ctx, &store.AuditEntry{
		ID:         d.ID,
		ModuleID:   d.ModuleID,
		Capability: d.Capability,
		Outcome:    outcome,
		Reason:     string(d.Reason),
		Timestamp:  d.Timestamp,
	})
}

// MultiSink fans a decision out to several sinks. Every sink is tried; errors are joined.
type MultiSink []AuditSink

// Record forwards d to each sink.
func (m MultiSink) Record(ctx context.Context, d AccessDecision) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
