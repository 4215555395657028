// ABOUTME: Audit log entity and store methods for capability access decisions
// ABOUTME: Records which module asked for which capability and what the gate decided

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditOutcome is the result recorded for a capability request.
type AuditOutcome string

const (
	AuditGranted AuditOutcome = "granted"
	AuditDenied  AuditOutcome = "denied"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string       // UUID v4
	ModuleID   string       // requesting module
	Capability string       // requested capability as given by the caller
	Outcome    AuditOutcome // granted or denied
	Reason     string       // why the gate decided as it did
	Timestamp  time.Time
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since    *time.Time    // entries after this time
	ModuleID *string       // filter by module
	Outcome  *AuditOutcome // filter by outcome
	Limit    int           // max results (default 100, max 1000)
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)

	query := `
		INSERT INTO audit_log (audit_id, module_id, capability, outcome, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ModuleID,
		e.Capability,
		string(e.Outcome),
		e.Reason,
		e.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func prepareAuditEntry(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const auditLogQuery = `
	SELECT audit_id, module_id, capability, outcome, reason, ts
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR module_id = ?)
	  AND (? IS NULL OR outcome = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var sinceStr, outcomeStr *string
	if f.Since != nil {
		v := f.Since.UTC().Format(timeLayout)
		sinceStr = &v
	}
	if f.Outcome != nil {
		v := string(*f.Outcome)
		outcomeStr = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		sinceStr, sinceStr,
		f.ModuleID, f.ModuleID,
		outcomeStr, outcomeStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var outcome, ts string
		if err := rows.Scan(&e.ID, &e.ModuleID, &e.Capability, &outcome, &e.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Outcome = AuditOutcome(outcome)
		e.Timestamp, err = time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
