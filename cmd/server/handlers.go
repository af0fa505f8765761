package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/engine"
	"github.com/Simplici0/montaje/internal/layout"
	"github.com/Simplici0/montaje/internal/pricing"
	"github.com/Simplici0/montaje/internal/quote"
	"github.com/Simplici0/montaje/internal/store"
)

const maxBodyBytes = 1 << 20

type sessionView struct {
	ID     string                    `json:"id"`
	Fields map[string]engine.Value   `json:"fields"`
	Tiers  []pricing.Tier            `json:"tiers"`
	Issues []pricing.ValidationIssue `json:"issues"`
	Flush  *flushView                `json:"flush,omitempty"`
}

type flushView struct {
	Seq     uint64   `json:"seq"`
	Changed []string `json:"changed"`
	Error   string   `json:"error,omitempty"`
}

func viewOf(sess *quote.Session) sessionView {
	v := sessionView{
		ID:     sess.ID,
		Fields: sess.Fields(),
		Tiers:  sess.Tiers(),
		Issues: sess.Issues(),
	}
	if v.Tiers == nil {
		v.Tiers = []pricing.Tier{}
	}
	if v.Issues == nil {
		v.Issues = []pricing.ValidationIssue{}
	}
	return v
}

func flushOf(report engine.FlushReport) *flushView {
	f := &flushView{Seq: report.Seq, Changed: report.Changed}
	if f.Changed == nil {
		f.Changed = []string{}
	}
	if report.Err != nil {
		f.Error = report.Err.Error()
	}
	return f
}

type createSessionRequest struct {
	ID string `json:"id"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	req.ID = strings.TrimSpace(req.ID)

	if req.ID != "" {
		sess, err := s.get(r.Context(), req.ID)
		if err == nil {
			writeJSON(w, http.StatusOK, viewOf(sess))
			return
		}
		if !errors.Is(err, store.ErrSessionNotFound) {
			s.internalError(w, "failed to load session", err)
			return
		}
	}

	sess, err := s.open(req.ID, nil)
	if err != nil {
		s.internalError(w, "failed to open session", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

type fieldChange struct {
	Field string       `json:"field"`
	Value engine.Value `json:"value"`
}

type setFieldsRequest struct {
	Changes   []fieldChange `json:"changes"`
	Immediate bool          `json:"immediate"`
	Flush     bool          `json:"flush"`
}

// handleSetFields applies edits in request order. Derived fields are updated
// right away; the cost recompute follows after the debounce period, or before
// responding when flush is set.
func (s *server) handleSetFields(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	var req setFieldsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, http.StatusBadRequest, "changes must not be empty")
		return
	}

	for _, c := range req.Changes {
		if c.Value.Kind() == engine.KindNone {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("value for %q is required", c.Field))
			return
		}
		if err := sess.Set(c.Field, c.Value, req.Immediate); err != nil {
			s.sessionError(w, err)
			return
		}
	}

	view := viewOf(sess)
	if req.Flush {
		view.Flush = flushOf(sess.Flush())
		view.Fields = sess.Fields()
	}
	writeJSON(w, http.StatusOK, view)
}

type setTiersRequest struct {
	Tiers     []pricing.Tier `json:"tiers"`
	Immediate bool           `json:"immediate"`
	Flush     bool           `json:"flush"`
}

func (s *server) handleSetTiers(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	var req setTiersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := sess.SetTiers(req.Tiers, req.Immediate); err != nil {
		s.sessionError(w, err)
		return
	}

	view := viewOf(sess)
	if req.Flush {
		view.Flush = flushOf(sess.Flush())
		view.Fields = sess.Fields()
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSaveSession runs any pending recompute and persists the result.
func (s *server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	report := sess.Flush()
	if err := s.saved.Save(r.Context(), sess.ID, sess.State()); err != nil {
		s.internalError(w, "failed to save session", err)
		return
	}

	view := viewOf(sess)
	view.Flush = flushOf(report)
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, wasOpen := s.remove(id)

	err := s.saved.Delete(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSessionNotFound):
		if !wasOpen {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
	default:
		s.internalError(w, "failed to delete session", err)
		return
	}

	s.logger.Info("session deleted", zap.String("session", id))
	w.WriteHeader(http.StatusNoContent)
}

type layoutRequest struct {
	Design       layout.Rectangle    `json:"design"`
	Paper        layout.Rectangle    `json:"paper"`
	Press        *layout.PressFormat `json:"press"`
	PressID      string              `json:"press_id"`
	Quantity     int                 `json:"quantity"`
	WastePercent float64             `json:"waste_percent"`
}

type layoutResponse struct {
	layout.Result
	SheetsNeeded int `json:"sheets_needed"`
}

// handleLayout computes a layout without a session.
func (s *server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req layoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var press layout.PressFormat
	switch {
	case req.PressID != "":
		p, err := s.catalog.Press(r.Context(), req.PressID)
		if errors.Is(err, store.ErrPressNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			s.internalError(w, "failed to load press", err)
			return
		}
		press = p
	case req.Press != nil:
		press = *req.Press
	default:
		writeError(w, http.StatusBadRequest, "press or press_id is required")
		return
	}

	result, err := layout.Compute(req.Design, req.Paper, press)
	var invalid *layout.InvalidDimensionError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusUnprocessableEntity, invalid.Error())
		return
	}
	if err != nil {
		s.internalError(w, "failed to compute layout", err)
		return
	}

	writeJSON(w, http.StatusOK, layoutResponse{
		Result:       result,
		SheetsNeeded: layout.SheetsNeeded(req.Quantity, result.CopiesPerSheet, req.WastePercent),
	})
}

type validateTiersRequest struct {
	Tiers    []pricing.Tier `json:"tiers"`
	Quantity *int           `json:"quantity"`
}

type validateTiersResponse struct {
	Issues  []pricing.ValidationIssue `json:"issues"`
	Quote   *pricing.Quote            `json:"quote,omitempty"`
	Message string                    `json:"message,omitempty"`
}

func (s *server) handleValidateTiers(w http.ResponseWriter, r *http.Request) {
	var req validateTiersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := validateTiersResponse{Issues: pricing.Validate(req.Tiers)}
	if resp.Issues == nil {
		resp.Issues = []pricing.ValidationIssue{}
	}
	if req.Quantity != nil {
		q, err := pricing.QuoteFor(req.Tiers, *req.Quantity)
		switch {
		case errors.Is(err, pricing.ErrNoApplicableTier):
			resp.Message = fmt.Sprintf("no price tier covers a quantity of %d", *req.Quantity)
		case err != nil:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		default:
			q = q.Round(s.decimals)
			resp.Quote = &q
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handlePresses(w http.ResponseWriter, r *http.Request) {
	presses, err := s.catalog.Presses(r.Context())
	if err != nil {
		s.internalError(w, "failed to list presses", err)
		return
	}
	if presses == nil {
		presses = []store.PressInfo{}
	}
	writeJSON(w, http.StatusOK, presses)
}

func (s *server) sessionFor(w http.ResponseWriter, r *http.Request) (*quote.Session, bool) {
	sess, err := s.get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, "failed to load session", err)
		return nil, false
	}
	return sess, true
}

func (s *server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		s.internalError(w, "failed to update session", err)
	}
}

func (s *server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
