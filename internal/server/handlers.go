package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/safedom/internal/aicontext"
	"github.com/raaihank/safedom/internal/audit"
	"github.com/raaihank/safedom/internal/htmldoc"
	"github.com/raaihank/safedom/internal/placeholder"
	"github.com/raaihank/safedom/internal/privacy"
	"github.com/raaihank/safedom/internal/vault"
	"github.com/raaihank/safedom/internal/websocket"
)

const defaultSelector = "body"

type contextRequest struct {
	HTML             string            `json:"html"`
	Selector         string            `json:"selector"`
	Values           map[string]string `json:"values,omitempty"`
	LabeledOnly      *bool             `json:"labeled_only,omitempty"`
	Countries        []string          `json:"countries,omitempty"`
	Region           string            `json:"region,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
	ReturnRedactions bool              `json:"return_redactions,omitempty"`
}

type contextResponse struct {
	SessionID       string              `json:"session_id"`
	Fields          map[string]string   `json:"fields"`
	RawText         string              `json:"raw_text"`
	RedactionsCount int                 `json:"redactions_count"`
	Types           []string            `json:"types"`
	Placeholders    []string            `json:"placeholders"`
	Redactions      []privacy.Redaction `json:"redactions,omitempty"`
}

type redactRequest struct {
	Text         string   `json:"text"`
	StartCounter int      `json:"start_counter,omitempty"`
	Types        []string `json:"types,omitempty"`
	Countries    []string `json:"countries,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
}

type redactResponse struct {
	SessionID  string              `json:"session_id,omitempty"`
	Text       string              `json:"text"`
	Redactions []privacy.Redaction `json:"redactions"`
}

type reinjectRequest struct {
	Text       string              `json:"text"`
	SessionID  string              `json:"session_id,omitempty"`
	Redactions []privacy.Redaction `json:"redactions,omitempty"`
}

type reinjectResponse struct {
	Text                string   `json:"text"`
	UnknownPlaceholders []string `json:"unknown_placeholders"`
}

type unknownRequest struct {
	Text  string   `json:"text"`
	Known []string `json:"known"`
}

type unknownResponse struct {
	Unknown []string `json:"unknown"`
}

type ruleInfo struct {
	Type              string `json:"type"`
	PlaceholderPrefix string `json:"placeholder_prefix"`
	Pattern           string `json:"pattern"`
	Validated         bool   `json:"validated"`
}

// handleContext builds a prompt-safe context from submitted HTML
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	st := s.current()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		writeError(w, http.StatusBadRequest, "html is required")
		return
	}

	region := aicontext.Region(req.Region)
	if region == aicontext.RegionUnset {
		region = aicontext.Region(st.config.Privacy.Region)
	}
	if !region.Valid() {
		writeError(w, http.StatusBadRequest, "invalid region: "+req.Region)
		return
	}

	rules, ok := s.rulesFor(w, st, req.Countries)
	if !ok {
		return
	}

	doc, err := htmldoc.ParseString(req.HTML)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := doc.SetValues(req.Values); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	selector := req.Selector
	if selector == "" {
		selector = defaultSelector
	}
	labeledOnly := st.config.Privacy.LabeledOnly
	if req.LabeledOnly != nil {
		labeledOnly = *req.LabeledOnly
	}

	session := req.SessionID
	startCounter := 1
	if session == "" {
		session = vault.NewSessionID()
	} else {
		stored, ok := s.loadSession(w, r, session)
		if !ok {
			return
		}
		startCounter = vault.NextCounter(stored)
	}

	aiCtx, err := aicontext.BuildFromSelector(doc, selector, aicontext.Options{
		IncludeUnlabeled: !labeledOnly,
		RedactionRules:   rules,
		Region:           region,
		StartCounter:     startCounter,
	})
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			log.Error("Failed to build context", zap.Error(err))
			writeError(w, status, "failed to build context")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	if !s.appendSession(w, r, session, aiCtx.Redactions) {
		return
	}

	s.afterRedaction(r, session, audit.SourceContext, string(region), aiCtx.Redactions, start)

	resp := contextResponse{
		SessionID:       session,
		Fields:          aiCtx.Fields,
		RawText:         aiCtx.RawText,
		RedactionsCount: len(aiCtx.Redactions),
		Types:           typesOf(aiCtx.Redactions),
		Placeholders:    aiCtx.Placeholders(),
	}
	if req.ReturnRedactions {
		resp.Redactions = aiCtx.Redactions
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRedact redacts plain text
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	st := s.current()
	log := s.logger.WithRequestID(getRequestID(r.Context()))

	var req redactRequest
	if !s.decode(w, r, &req) {
		return
	}

	// Within a session, numbering continues after the stored placeholders
	startCounter := req.StartCounter
	if req.SessionID != "" && startCounter == 0 {
		stored, ok := s.loadSession(w, r, req.SessionID)
		if !ok {
			return
		}
		startCounter = vault.NextCounter(stored)
	}

	var result privacy.Result
	var err error
	if len(req.Countries) == 0 && len(req.Types) == 0 {
		result, err = st.detector.ProcessText(req.Text, startCounter)
	} else {
		rules, ok := s.rulesFor(w, st, req.Countries)
		if !ok {
			return
		}
		result, err = privacy.ApplyRedactions(req.Text, rules.Select(req.Types...), startCounter)
	}
	if err != nil {
		log.Error("Failed to redact text", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to redact text")
		return
	}

	if req.SessionID != "" && !s.appendSession(w, r, req.SessionID, result.Redactions) {
		return
	}

	s.afterRedaction(r, req.SessionID, audit.SourceRedact, st.config.Privacy.Region, result.Redactions, start)

	writeJSON(w, http.StatusOK, redactResponse{
		SessionID:  req.SessionID,
		Text:       result.Text,
		Redactions: result.Redactions,
	})
}

// handleReinject restores placeholders in a model reply
func (s *Server) handleReinject(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := s.logger.WithRequestID(getRequestID(r.Context()))

	var req reinjectRequest
	if !s.decode(w, r, &req) {
		return
	}

	redactions := req.Redactions
	if req.SessionID != "" {
		stored, err := s.store.Load(r.Context(), req.SessionID)
		if errors.Is(err, vault.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found: "+req.SessionID)
			return
		}
		if err != nil {
			log.Error("Failed to load redactions", zap.String("session_id", req.SessionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load redactions")
			return
		}
		redactions = append(stored, redactions...)
	}

	known := placeholder.Known(redactions)
	unknown := placeholder.FindUnknown(req.Text, known)
	text := placeholder.Reinject(req.Text, redactions)

	if len(unknown) > 0 {
		log.Warn("Reply contains unknown placeholders",
			zap.String("session_id", req.SessionID),
			zap.Int("unknown_count", len(unknown)))
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeReinjection,
		RequestID: getRequestID(r.Context()),
		Data: websocket.ReinjectionEvent{
			RequestID:           getRequestID(r.Context()),
			SessionID:           req.SessionID,
			ClientIP:            websocket.ClientIP(r),
			KnownPlaceholders:   len(known),
			UnknownPlaceholders: len(unknown),
			ProcessingMS:        float64(time.Since(start).Microseconds()) / 1000,
		},
	})

	writeJSON(w, http.StatusOK, reinjectResponse{Text: text, UnknownPlaceholders: unknown})
}

// handleUnknownPlaceholders lists placeholder-shaped tokens not in known
func (s *Server) handleUnknownPlaceholders(w http.ResponseWriter, r *http.Request) {
	var req unknownRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, unknownResponse{Unknown: placeholder.FindUnknown(req.Text, req.Known)})
}

// handleRules lists the active rules in application order
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	st := s.current()

	rules, ok := s.rulesFor(w, st, r.URL.Query()["country"])
	if !ok {
		return
	}

	out := make([]ruleInfo, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleInfo{
			Type:              rule.Type,
			PlaceholderPrefix: rule.PlaceholderPrefix,
			Pattern:           rule.Pattern.String(),
			Validated:         rule.Validate != nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":     out,
		"countries": privacy.Countries(),
	})
}

// handleDeleteSession forgets a session's redactions
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to delete session",
			zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	st := s.current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":          "safedom",
		"version":       version,
		"rule_types":    st.detector.Rules().Types(),
		"countries":     st.config.Privacy.Countries,
		"labeled_only":  st.config.Privacy.LabeledOnly,
		"region":        st.config.Privacy.Region,
		"vault_redis":   st.config.Vault.Enabled,
		"audit_enabled": st.config.Audit.Enabled,
		"status":        s.status(),
	})
}

// rulesFor resolves per-request countries, writing an error response on failure
func (s *Server) rulesFor(w http.ResponseWriter, st *state, countries []string) (privacy.RuleSet, bool) {
	for _, code := range countries {
		if !privacy.SupportedCountry(code) {
			writeError(w, http.StatusBadRequest, "unsupported country: "+code)
			return nil, false
		}
	}
	rules, err := st.detector.RulesFor(countries)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return nil, false
	}
	return rules, true
}

// loadSession returns a session's stored records; an unknown session is empty
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request, session string) ([]privacy.Redaction, bool) {
	stored, err := s.store.Load(r.Context(), session)
	if errors.Is(err, vault.ErrSessionNotFound) {
		return nil, true
	}
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to load redactions",
			zap.String("session_id", session), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load redactions")
		return nil, false
	}
	return stored, true
}

// appendSession stores records under session, writing 409 when a placeholder
// is already bound to another value
func (s *Server) appendSession(w http.ResponseWriter, r *http.Request, session string, redactions []privacy.Redaction) bool {
	err := s.store.Append(r.Context(), session, redactions)
	if errors.Is(err, vault.ErrPlaceholderConflict) {
		writeError(w, http.StatusConflict, err.Error())
		return false
	}
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to store redactions",
			zap.String("session_id", session), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store redactions")
		return false
	}
	return true
}

// errorStatus maps build errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, aicontext.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, privacy.ErrConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// afterRedaction updates counters, audits and broadcasts a finished run
func (s *Server) afterRedaction(r *http.Request, session, source, region string, redactions []privacy.Redaction, start time.Time) {
	requestID := getRequestID(r.Context())
	counts := privacy.CountByType(redactions)
	s.totalRedactions.Add(int64(len(redactions)))

	log := s.logger.WithRequestID(requestID)
	if session != "" {
		log = log.WithSession(session)
	}
	log.LogRedactions("Redaction run completed", counts)

	if err := s.recorder.Record(r.Context(), audit.NewEntry(session, source, region, redactions)); err != nil {
		log.Warn("Failed to record audit entry", zap.Error(err))
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRedaction,
		RequestID: requestID,
		Data: websocket.RedactionEvent{
			RequestID:      requestID,
			SessionID:      session,
			Source:         source,
			ClientIP:       websocket.ClientIP(r),
			RedactionCount: len(redactions),
			Counts:         counts,
			Region:         region,
			ProcessingMS:   float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

// decode reads a JSON body, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	limit := s.current().config.Server.MaxBodyBytes
	if limit <= 0 {
		limit = 2 << 20
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func typesOf(redactions []privacy.Redaction) []string {
	counts := privacy.CountByType(redactions)
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
