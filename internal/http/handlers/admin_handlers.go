package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chargeledger/internal/auth"
	"chargeledger/internal/password"
	"chargeledger/internal/queue"
)

// AdminHandlers exposes the administrative queue interface behind operator
// authentication.
type AdminHandlers struct {
	writer       *queue.Writer
	tokens       *auth.TokenService
	hasher       password.Hasher
	username     string
	passwordHash string
	logger       *zap.Logger
}

// NewAdminHandlers builds handler set.
func NewAdminHandlers(
	writer *queue.Writer,
	tokens *auth.TokenService,
	hasher password.Hasher,
	username, passwordHash string,
	logger *zap.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		writer:       writer,
		tokens:       tokens,
		hasher:       hasher,
		username:     username,
		passwordHash: passwordHash,
		logger:       logger,
	}
}

// HandleLogin handles POST /admin/login.
func (h *AdminHandlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type response struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}
	if req.Username != h.username || h.hasher.Compare(h.passwordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "credentials", "invalid credentials")
		return
	}

	token, err := h.tokens.GenerateToken(req.Username)
	if err != nil {
		h.logger.Error("failed to issue operator token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, response{Token: token, TokenType: "Bearer"})
}

// HandleQueueStatus handles GET /admin/queue/status.
func (h *AdminHandlers) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.writer.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to read queue status", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "transient", "queue store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// HandleRetryDead handles POST /admin/queue/retry-dead.
func (h *AdminHandlers) HandleRetryDead(w http.ResponseWriter, r *http.Request) {
	type request struct {
		SessionID string `json:"sessionId"`
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body")
		return
	}

	count, err := h.writer.RetryDeadEvents(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("failed to requeue dead events", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "transient", "queue store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requeued": count})
}

// RequireOperator wraps admin endpoints with JWT bearer validation.
func RequireOperator(tokens *auth.TokenService, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || raw == header {
			writeError(w, http.StatusUnauthorized, "credentials", "missing bearer token")
			return
		}
		if _, err := tokens.ValidateToken(raw); err != nil {
			writeError(w, http.StatusUnauthorized, "credentials", "invalid bearer token")
			return
		}
		next(w, r)
	}
}
