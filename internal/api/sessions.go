package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetintel/internal/assistant"
	"fleetintel/internal/storage"
)

type sendMessageRequest struct {
	Text string `json:"text"`
}

type operationResponse struct {
	OperationID string `json:"operationId"`
	MessageID   string `json:"messageId"`
}

type sessionFrame struct {
	Type    string         `json:"type"`
	Session assistant.View `json:"session"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.NewSession(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("create session failed")
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusCreated, s.View())
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.View())
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CloseSession(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	op, err := s.SendMessage(r.Context(), h.systemPrompt(), req.Text)
	if err != nil {
		h.operationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, operationResponse{OperationID: op.ID, MessageID: op.MessageID})
}

func (h *Handler) RunQuickAction(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	op, err := s.RunQuickAction(r.Context(), h.systemPrompt(), chi.URLParam(r, "action"))
	if err != nil {
		h.operationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, operationResponse{OperationID: op.ID, MessageID: op.MessageID})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": s.Cancel()})
}

// Briefing blocks until today's briefing is available. Nothing is sent when
// the client goes away first.
func (h *Handler) Briefing(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := s.Briefing(r.Context(), h.systemPrompt())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		failure, text := assistant.Describe(err)
		status := http.StatusBadGateway
		switch failure {
		case assistant.FailureConfig:
			status = http.StatusServiceUnavailable
		case assistant.FailureTimeout:
			status = http.StatusGatewayTimeout
		}
		respondError(w, status, text)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) ListSessionEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusNotFound, "event log disabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	limit, offset := pageParams(r)

	events, err := h.events.ListEvents(r.Context(), sessionID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("list events failed")
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	total, err := h.events.CountEvents(r.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("count events failed")
		respondError(w, http.StatusInternalServerError, "failed to count events")
		return
	}
	if events == nil {
		events = []storage.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events, "total": total})
}

// SessionWebsocket streams session events. The first frame is the session view;
// every later event applies on top of it.
func (h *Handler) SessionWebsocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.hub.ServeSession(w, r, s.ID(), func(register func(first any)) {
		s.Attach(func(v assistant.View) {
			register(sessionFrame{Type: "session", Session: v})
		})
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*assistant.Session, bool) {
	s, err := h.engine.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

func (h *Handler) operationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrBusy):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, assistant.ErrEmptyInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, assistant.ErrUnknownAction):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("start operation failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
