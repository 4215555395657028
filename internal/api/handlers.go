// ABOUTME: HTTP handlers for module listing, enablement, runs, probes and the audit log
// ABOUTME: Maps shell, registry and gate errors onto JSON error responses

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/toolshell/internal/auth"
	"github.com/2389/toolshell/internal/enablement"
	"github.com/2389/toolshell/internal/gate"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/manifest"
	"github.com/2389/toolshell/internal/modules"
	"github.com/2389/toolshell/internal/registry"
	"github.com/2389/toolshell/internal/shell"
	"github.com/2389/toolshell/internal/store"
)

// maxRunInput bounds the JSON body accepted by the run endpoint.
const maxRunInput = 1 << 20

// DeniedResponse is the 403 body for a capability denial.
type DeniedResponse struct {
	Error      string      `json:"error"`
	ModuleID   string      `json:"module_id"`
	Capability string      `json:"capability"`
	Reason     gate.Reason `json:"reason"`
}

// RunResponse is the result of running a module.
type RunResponse struct {
	ModuleID string          `json:"module_id"`
	Output   json.RawMessage `json:"output"`
}

// EnablementResponse is the module after an enable or disable. Persisted is false
// when the change is in effect but could not be saved; it is retried on the next change.
type EnablementResponse struct {
	shell.ModuleView
	Persisted bool `json:"persisted"`
}

// ToggleResponse reports the state after a toggle.
type ToggleResponse struct {
	ModuleID  string `json:"module_id"`
	Enabled   bool   `json:"enabled"`
	Persisted bool   `json:"persisted"`
}

// ActiveResponse lists enabled module ids after a bulk change.
type ActiveResponse struct {
	Active    []string `json:"active"`
	Persisted bool     `json:"persisted"`
}

// AuditEntryResponse is one audit log row.
type AuditEntryResponse struct {
	ID         string    `json:"id"`
	ModuleID   string    `json:"module_id"`
	Capability string    `json:"capability"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatsResponse summarizes the shell.
type StatsResponse struct {
	Modules int        `json:"modules"`
	Enabled int        `json:"enabled"`
	Gate    gate.Stats `json:"gate"`
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListModules returns modules, optionally filtered by ?q=, ?category= or ?active=true.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var views []shell.ModuleView
	switch {
	case q.Get("active") == "true":
		views = s.shell.Active()
	case q.Get("q") != "":
		views = s.shell.Search(q.Get("q"))
	case q.Get("category") != "":
		views = s.shell.ByCategory(manifest.Category(q.Get("category")))
	default:
		views = s.shell.Modules()
	}
	if views == nil {
		views = []shell.ModuleView{}
	}
	s.sendJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	view, err := s.shell.Module(r.PathValue("id"))
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, view)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, on bool) {
	id := r.PathValue("id")
	var err error
	if on {
		err = s.shell.Enable(r.Context(), id)
	} else {
		err = s.shell.Disable(r.Context(), id)
	}
	persisted, err := s.appliedChange(err)
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.logger.Info("module enablement changed",
		"module_id", id,
		"enabled", on,
		"persisted", persisted,
		"client", auth.ClientName(r.Context()),
	)

	view, err := s.shell.Module(id)
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, EnablementResponse{ModuleView: view, Persisted: persisted})
}

// appliedChange separates a failed save, where the change is already in effect,
// from errors that mean nothing changed.
func (s *Server) appliedChange(err error) (persisted bool, _ error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, enablement.ErrPersistence):
		s.logger.Warn("enablement change applied but not saved", "error", err)
		return false, nil
	default:
		return false, err
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	on, err := s.shell.Toggle(r.Context(), id)
	persisted, err := s.appliedChange(err)
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ToggleResponse{ModuleID: id, Enabled: on, Persisted: persisted})
}

func (s *Server) handleEnableAll(w http.ResponseWriter, r *http.Request) {
	persisted, err := s.appliedChange(s.shell.EnableAll(r.Context()))
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.sendActive(w, persisted)
}

func (s *Server) handleDisableAll(w http.ResponseWriter, r *http.Request) {
	persisted, err := s.appliedChange(s.shell.DisableAll(r.Context()))
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.sendActive(w, persisted)
}

func (s *Server) sendActive(w http.ResponseWriter, persisted bool) {
	active := s.shell.Active()
	ids := make([]string, len(active))
	for i, v := range active {
		ids[i] = v.ID
	}
	s.sendJSON(w, http.StatusOK, ActiveResponse{Active: ids, Persisted: persisted})
}

// handleRun passes the request body to the module as its input. An empty body runs
// the module with no input.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRunInput+1))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRunInput {
		sendJSONError(w, http.StatusRequestEntityTooLarge, "input too large")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		sendJSONError(w, http.StatusBadRequest, "input must be valid JSON")
		return
	}

	out, err := s.shell.Run(r.Context(), id, body)
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, RunResponse{ModuleID: id, Output: out})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.shell.Probe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendModuleError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, decisions)
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.shell.Permissions())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, StatsResponse{
		Modules: len(s.shell.Modules()),
		Enabled: len(s.shell.Active()),
		Gate:    s.shell.Stats(),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		s.sendJSON(w, http.StatusOK, []hostapi.Notification{})
		return
	}
	recent := s.notifications.Recent()
	if recent == nil {
		recent = []hostapi.Notification{}
	}
	s.sendJSON(w, http.StatusOK, recent)
}

// handleAudit lists gate decisions, newest first.
// Query parameters: module, outcome (granted|denied), since (RFC 3339), limit.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		sendJSONError(w, http.StatusServiceUnavailable, "audit log disabled")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.audit.ListAuditLog(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit log", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			ID:         e.ID,
			ModuleID:   e.ModuleID,
			Capability: e.Capability,
			Outcome:    string(e.Outcome),
			Reason:     e.Reason,
			Timestamp:  e.Timestamp,
		}
	}
	s.sendJSON(w, http.StatusOK, out)
}

func parseAuditFilter(r *http.Request) (store.AuditFilter, error) {
	q := r.URL.Query()
	var f store.AuditFilter

	if m := q.Get("module"); m != "" {
		f.ModuleID = &m
	}
	switch o := store.AuditOutcome(q.Get("outcome")); o {
	case "":
	case store.AuditGranted, store.AuditDenied:
		f.Outcome = &o
	default:
		return f, fmt.Errorf("outcome must be granted or denied")
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

// sendModuleError maps shell, registry, gate and host errors onto HTTP responses.
func (s *Server) sendModuleError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *gate.CapabilityDenied
	switch {
	case errors.As(err, &denied):
		s.logger.Info("module run denied",
			"module_id", denied.ModuleID,
			"capability", denied.Capability,
			"reason", denied.Reason,
		)
		s.sendJSON(w, http.StatusForbidden, DeniedResponse{
			Error:      "capability denied",
			ModuleID:   denied.ModuleID,
			Capability: denied.Capability,
			Reason:     denied.Reason,
		})
	case errors.Is(err, registry.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "module not found")
	case errors.Is(err, shell.ErrModuleDisabled):
		sendJSONError(w, http.StatusConflict, "module disabled")
	case errors.Is(err, modules.ErrInvalidInput), errors.Is(err, hostapi.ErrBadRequest):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hostapi.ErrRateLimited):
		sendJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, hostapi.ErrUnavailable):
		sendJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, hostapi.ErrHostNotAllowed):
		sendJSONError(w, http.StatusBadGateway, err.Error())
	case r.Context().Err() != nil:
		sendJSONError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		s.logger.Error("module request failed", "path", r.URL.Path, "error", err)
		sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
