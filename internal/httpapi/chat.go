package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ent0n29/ragent/internal/controller"
	"github.com/ent0n29/ragent/internal/observability"
	"github.com/ent0n29/ragent/internal/session"
)

const statusClientClosedRequest = 499

type chatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
	Message   string `json:"message" validate:"required,max=32768"`
	RequestID string `json:"request_id" validate:"omitempty,max=128"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Replayed  bool   `json:"replayed"`
	Degraded  bool   `json:"degraded,omitempty"`
}

type legacyChatRequest struct {
	Message  string `json:"message" validate:"required,max=32768"`
	ThreadID string `json:"thread_id" validate:"omitempty,max=128"`
}

type legacyMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type legacyChatResponse struct {
	ThreadID string          `json:"thread_id"`
	Response []legacyMessage `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	res, err := s.chat.SubmitTurn(r.Context(), controller.SubmitRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.respondTurnError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{
		SessionID: res.SessionID,
		Reply:     res.Reply,
		Replayed:  res.Replayed,
		Degraded:  res.Degraded,
	})
}

// handleLegacyChat serves the thread_id based request/response shape of
// the first chatbot API.
func (s *Server) handleLegacyChat(w http.ResponseWriter, r *http.Request) {
	var req legacyChatRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	res, err := s.chat.SubmitTurn(r.Context(), controller.SubmitRequest{
		SessionID: req.ThreadID,
		Message:   req.Message,
	})
	if err != nil {
		s.respondTurnError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, legacyChatResponse{
		ThreadID: res.SessionID,
		Response: []legacyMessage{
			{Type: "human", Content: req.Message},
			{Type: "ai", Content: res.Reply},
		},
	})
}

func (s *Server) handleLegacyHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "chat API is running"})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	snap, err := s.chat.Session(r.Context(), id)
	if err != nil {
		s.respondTurnError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.chat.Close(r.Context(), id); err != nil {
		s.respondTurnError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": session.StatusClosed})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	removed, err := s.chat.Clear(r.Context(), id)
	if err != nil {
		s.respondTurnError(w, r, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return strings.ToLower(fe.Field()) + " is required"
	case "max":
		return strings.ToLower(fe.Field()) + " is too long"
	default:
		return strings.ToLower(fe.Field()) + " is invalid"
	}
}

// statusFor maps controller errors onto HTTP status and error code.
func statusFor(err error) (int, string) {
	var perr *session.PersistenceError
	switch {
	case errors.Is(err, controller.ErrEmptyMessage):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict, "session_closed"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.As(err, &perr):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "request_timeout"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "client_closed_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondTurnError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFrom(r.Context(), s.logger).Error("request failed", "code", code, "error", err)
	}
	respondError(w, status, code, err.Error())
}
