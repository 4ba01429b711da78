package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"fleetintel/internal/assistant"
)

type modelRequest struct {
	Model string `json:"model"`
}

func (h *Handler) ListQuickActions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"actions":     assistant.QuickActions,
		"suggestions": assistant.Suggestions,
	})
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"models": assistant.Models, "default": assistant.DefaultModel})
}

func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.engine.Model(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("read model preference failed")
		respondError(w, http.StatusInternalServerError, "failed to read model")
		return
	}
	respondJSON(w, http.StatusOK, modelRequest{Model: model})
}

func (h *Handler) SetModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.engine.SetModel(r.Context(), req.Model); err != nil {
		if errors.Is(err, assistant.ErrUnknownModel) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("write model preference failed")
		respondError(w, http.StatusInternalServerError, "failed to save model")
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// TestConnection reports the connection check outcome in the body; the status is 200 either way.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	text, err := h.engine.TestConnection(r.Context())
	if err != nil {
		_, msg := assistant.Describe(err)
		respondJSON(w, http.StatusOK, map[string]any{"ok": false, "message": msg})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "message": text})
}
