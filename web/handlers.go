package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"markestedt/voicekey/agent"
	"markestedt/voicekey/config"
	"markestedt/voicekey/trigger"
)

const (
	defaultTestDuration = 5 * time.Second
	maxTestDuration     = 30 * time.Second
	recoveryLimit       = 50
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func intQuery(r *http.Request, name string, def, minimum int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v >= minimum {
		return v
	}
	return def
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// configResponse is the configuration with secrets replaced by flags.
type configResponse struct {
	*config.Config
	HasAPIKey bool `json:"has_api_key"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.GetConfig()
	writeJSON(w, http.StatusOK, configResponse{Config: cfg, HasAPIKey: cfg.Transcription.OpenAIAPIKey != ""})
}

// handlePutTrigger registers a new trigger and persists it. Fields missing
// from the body keep their current values.
func (s *Server) handlePutTrigger(w http.ResponseWriter, r *http.Request) {
	next := *s.GetConfig()
	next.Trigger.Keys = slices.Clone(next.Trigger.Keys)
	next.Trigger.Phrases = slices.Clone(next.Trigger.Phrases)
	if err := json.NewDecoder(r.Body).Decode(&next.Trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.commit(w, &next)
}

func (s *Server) handlePutInjection(w http.ResponseWriter, r *http.Request) {
	next := *s.GetConfig()
	next.Injection.TargetAppFilter = slices.Clone(next.Injection.TargetAppFilter)
	if err := json.NewDecoder(r.Body).Decode(&next.Injection); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.commit(w, &next)
}

// commit validates, applies and saves next, in that order, so a rejected
// change is never written.
func (s *Server) commit(w http.ResponseWriter, next *config.Config) {
	if err := config.Validate(next); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid configuration", Fields: verr.Fields})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.apply(next); err != nil {
		var cerr *trigger.ConfigError
		switch {
		case errors.Is(err, trigger.ErrSessionActive):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &cerr):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid trigger", Fields: map[string]string{"trigger." + cerr.Field: cerr.Reason}})
		default:
			slog.Error("Failed to apply config", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to apply configuration")
		}
		return
	}

	if s.store != nil {
		if err := s.store.Save(next); err != nil {
			slog.Error("Failed to save config", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save configuration")
			return
		}
	}
	s.UpdateConfig(next)
	writeJSON(w, http.StatusOK, configResponse{Config: next, HasAPIKey: next.Transcription.OpenAIAPIKey != ""})
}

// handleDeleteTrigger disables activation until a trigger is registered
// again. The saved configuration is left alone.
func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.UnregisterTrigger(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestTrigger(w http.ResponseWriter, r *http.Request) {
	d := time.Duration(intQuery(r, "duration_ms", int(defaultTestDuration/time.Millisecond), 1)) * time.Millisecond
	d = min(d, maxTestDuration)

	signals, err := s.ctrl.TestTrigger(r.Context(), d)
	switch {
	case errors.Is(err, agent.ErrTestInProgress), errors.Is(err, trigger.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, agent.ErrNoTrigger):
		writeError(w, http.StatusPreconditionFailed, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	names := make([]string, len(signals))
	for i, sig := range signals {
		names[i] = sig.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"duration_ms": d.Milliseconds(), "signals": names})
}

// handlePhrase accepts a phrase from an external speech recognizer.
func (s *Server) handlePhrase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.ctrl.Feed(trigger.PhraseEvent{Text: req.Text, At: time.Now()})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Feed(trigger.VoiceStopEvent{At: time.Now()})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 7, 1)

	overall, err := s.db.GetOverallStats(days)
	if err != nil {
		slog.Error("Failed to get overall stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get statistics")
		return
	}
	daily, err := s.db.GetDailyStats(days)
	if err != nil {
		slog.Error("Failed to get daily stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get statistics")
		return
	}
	strategies, err := s.db.GetStrategyStats(days)
	if err != nil {
		slog.Error("Failed to get strategy stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get statistics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"overall":    overall,
		"daily":      daily,
		"strategies": strategies,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50, 1)
	offset := intQuery(r, "offset", 0, 0)

	attempts, err := s.db.GetAttempts(limit, offset)
	if err != nil {
		slog.Error("Failed to get attempts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": attempts,
		"limit":    limit,
		"offset":   offset,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteAttempt(id); err != nil {
		slog.Error("Failed to delete attempt", "error", err, "id", id)
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetRecovery lists text that never reached its target.
func (s *Server) handleGetRecovery(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.db.PendingRecovery(recoveryLimit)
	if err != nil {
		slog.Error("Failed to get pending recovery", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get recovery list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) handleMarkRecovered(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.db.MarkRecovered(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
