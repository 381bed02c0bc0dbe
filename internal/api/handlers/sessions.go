package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/settlement-reconciler/internal/api/middleware"
	"github.com/dvloznov/settlement-reconciler/internal/domain"
	"github.com/dvloznov/settlement-reconciler/internal/matcher"
	"github.com/dvloznov/settlement-reconciler/internal/reconcile"
	"github.com/dvloznov/settlement-reconciler/internal/session"
)

// Reconciler is the engine surface the HTTP API drives.
type Reconciler interface {
	Buckets(ctx context.Context, q reconcile.BucketQuery) (map[civil.Date]matcher.DayBucket, error)
	OpenSession(ctx context.Context, operator string, flow domain.ReconciliationType, date civil.Date, source string) (session.Snapshot, error)
	Session(id string) (session.Snapshot, error)
	Sessions() []session.Snapshot
	ToggleTransaction(ctx context.Context, sessionID, txID string) (session.Snapshot, error)
	ToggleEntry(ctx context.Context, sessionID, entryID string) (session.Snapshot, error)
	PreviewSplit(ctx context.Context, sessionID string) (session.Snapshot, error)
	Commit(ctx context.Context, sessionID string, override bool) (reconcile.CommitResult, session.Snapshot, error)
	Cancel(ctx context.Context, sessionID string) (session.Snapshot, error)
}

// AuditExporter records a commit outside the ledger.
type AuditExporter interface {
	ExportCommit(ctx context.Context, res reconcile.CommitResult) error
}

// SessionsHandler handles reconciliation session endpoints.
type SessionsHandler struct {
	engine   Reconciler
	exporter AuditExporter
	log      zerolog.Logger
}

// NewSessionsHandler creates a new sessions handler. exporter may be nil.
func NewSessionsHandler(engine Reconciler, exporter AuditExporter, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{engine: engine, exporter: exporter, log: log}
}

// OpenSession handles POST /api/sessions
func (h *SessionsHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Flow   string `json:"flow"`
		Date   string `json:"date"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flow, err := domain.ParseReconciliationType(req.Flow)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := civil.ParseDate(req.Date)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	snap, err := h.engine.OpenSession(r.Context(), middleware.OperatorFromContext(r.Context()), flow, date, req.Source)
	if err != nil {
		h.writeError(w, "open session", err, nil)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, snap)
}

// ListSessions handles GET /api/sessions
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.engine.Sessions()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	snap, err := h.engine.Session(sessionID)
	if err != nil {
		h.writeError(w, "get session", err, nil)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, snap)
}

// ToggleTransaction handles POST /api/sessions/{id}/transactions/{txID}/toggle
func (h *SessionsHandler) ToggleTransaction(w http.ResponseWriter, r *http.Request, sessionID, txID string) {
	if !h.owns(w, r, sessionID) {
		return
	}
	snap, err := h.engine.ToggleTransaction(r.Context(), sessionID, txID)
	if err != nil {
		h.writeError(w, "toggle transaction", err, &snap)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, snap)
}

// ToggleEntry handles POST /api/sessions/{id}/entries/{entryID}/toggle
func (h *SessionsHandler) ToggleEntry(w http.ResponseWriter, r *http.Request, sessionID, entryID string) {
	if !h.owns(w, r, sessionID) {
		return
	}
	snap, err := h.engine.ToggleEntry(r.Context(), sessionID, entryID)
	if err != nil {
		h.writeError(w, "toggle entry", err, &snap)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, snap)
}

// Preview handles GET /api/sessions/{id}/preview
func (h *SessionsHandler) Preview(w http.ResponseWriter, r *http.Request, sessionID string) {
	snap, err := h.engine.PreviewSplit(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, "preview", err, nil)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"preview":           snap.Preview,
		"transaction_total": snap.TransactionTotal,
		"generated_total":   snap.GeneratedTotal,
		"difference":        snap.Difference,
		"balanced":          snap.Balanced,
		"issues":            snap.Issues,
		"deferred_costs":    snap.DeferredCosts,
	})
}

// Commit handles POST /api/sessions/{id}/commit. The body is optional;
// {"override": true} commits an imbalanced selection.
func (h *SessionsHandler) Commit(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !h.owns(w, r, sessionID) {
		return
	}
	var req struct {
		Override bool `json:"override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	res, snap, err := h.engine.Commit(ctx, sessionID, req.Override)
	if err != nil {
		h.writeError(w, "commit", err, &snap)
		return
	}

	if h.exporter != nil {
		if err := h.exporter.ExportCommit(ctx, res); err != nil {
			h.log.Warn().Err(err).Str("group", res.Group).Msg("Audit export failed")
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"result":  res,
		"session": snap,
	})
}

// Cancel handles DELETE /api/sessions/{id}
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !h.owns(w, r, sessionID) {
		return
	}
	snap, err := h.engine.Cancel(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, "cancel", err, nil)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, snap)
}

// owns rejects calls on another operator's session.
func (h *SessionsHandler) owns(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	snap, err := h.engine.Session(sessionID)
	if err != nil {
		h.writeError(w, "lookup session", err, nil)
		return false
	}
	if op := middleware.OperatorFromContext(r.Context()); !strings.EqualFold(op, snap.Operator) {
		middleware.WriteError(w, http.StatusForbidden, "session belongs to another operator")
		return false
	}
	return true
}

func (h *SessionsHandler) writeError(w http.ResponseWriter, op string, err error, snap *session.Snapshot) {
	status := StatusFor(err)
	ev := h.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.log.Error()
	}
	ev.Err(err).Int("status", status).Msg("Failed to " + op)

	body := errorBody{Error: err.Error()}
	if snap != nil && snap.ID != "" {
		body.Session = snap
	}
	middleware.WriteJSON(w, status, body)
}
