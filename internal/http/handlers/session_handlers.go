package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chargeledger/internal/models"
	"chargeledger/internal/service"
)

// SessionHandlers holds the lifecycle command endpoints.
type SessionHandlers struct {
	engine *service.LifecycleEngine
	logger *zap.Logger
}

// NewSessionHandlers builds handler set.
func NewSessionHandlers(engine *service.LifecycleEngine, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{
		engine: engine,
		logger: logger,
	}
}

type startRequest struct {
	EVID          string   `json:"evId"`
	PowerRequired float64  `json:"powerRequired"`
	Hours         *float64 `json:"hours"`
}

type sessionRequest struct {
	EVID      string `json:"evId"`
	SessionID string `json:"sessionId"`
}

type resumeRequest struct {
	EVID         string `json:"evId"`
	SessionID    string `json:"sessionId"`
	ResumeSecret string `json:"resumeSecret"`
}

// HandleStart handles POST /sessions/start.
func (h *SessionHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	// Absent hours selects the default horizon; an explicit negative is a
	// caller mistake, while zero is honored literally.
	hours := -1.0
	if req.Hours != nil {
		if *req.Hours < 0 {
			writeError(w, http.StatusBadRequest, "validation", "hours must not be negative")
			return
		}
		hours = *req.Hours
	}

	result, err := h.engine.Start(r.Context(), service.StartInput{
		EVID:          req.EVID,
		PowerRequired: req.PowerRequired,
		Hours:         hours,
	})
	if err != nil {
		h.writeCommandError(w, "start", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session":      result.Session,
		"resumeSecret": result.ResumeSecret,
	})
}

// HandlePause handles POST /sessions/pause.
func (h *SessionHandlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	session, err := h.engine.Pause(r.Context(), service.PauseInput{
		EVID:      req.EVID,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.writeCommandError(w, "pause", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// HandleResume handles POST /sessions/resume.
func (h *SessionHandlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	result, err := h.engine.Resume(r.Context(), service.ResumeInput{
		EVID:         req.EVID,
		SessionID:    req.SessionID,
		ResumeSecret: req.ResumeSecret,
	})
	if err != nil {
		h.writeCommandError(w, "resume", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":      result.Session,
		"resumeSecret": result.ResumeSecret,
	})
}

// HandleStop handles POST /sessions/stop.
func (h *SessionHandlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	session, err := h.engine.Stop(r.Context(), service.StopInput{
		EVID:      req.EVID,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.writeCommandError(w, "stop", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// HandleActiveSessions handles GET /sessions/active.
func (h *SessionHandlers) HandleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ActiveSessions(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "transient", "failed to fetch active sessions")
		return
	}
	if sessions == nil {
		sessions = []models.ChargingSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *SessionHandlers) writeCommandError(w http.ResponseWriter, command string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
	case errors.Is(err, service.ErrSessionExpired):
		writeError(w, http.StatusGone, "expired", err.Error())
	case errors.Is(err, service.ErrSessionTerminal),
		errors.Is(err, service.ErrNotActive),
		errors.Is(err, service.ErrAlreadyActive),
		errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, "state", err.Error())
	default:
		h.logger.Error("lifecycle command failed",
			zap.String("command", command),
			zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "transient", "session store unavailable")
	}
}
