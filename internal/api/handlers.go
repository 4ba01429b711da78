package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"fleetintel/internal/assistant"
	"fleetintel/internal/fleet"
	"fleetintel/internal/fleetctx"
	"fleetintel/internal/realtime"
	"fleetintel/internal/risk"
	"fleetintel/internal/storage"
)

const maxSnapshotBytes = 16 << 20

type Handler struct {
	feed   *fleet.Feed
	engine *assistant.Engine
	hub    *realtime.Hub
	events storage.EventLog

	contexts *fleetctx.Builder
	risks    *risk.Evaluator
	log      zerolog.Logger
}

type riskReport struct {
	Version uint64                `json:"version"`
	Alerts  []risk.Alert          `json:"alerts"`
	Counts  map[risk.Severity]int `json:"counts"`
}

type insights struct {
	riskReport
	Context string `json:"context"`
}

func (h *Handler) PutSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap fleet.Snapshot
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err := dec.Decode(&snap); err != nil {
		respondError(w, http.StatusBadRequest, "invalid snapshot")
		return
	}
	v := h.feed.Replace(snap)
	h.log.Info().
		Uint64("version", v.Version).
		Int("rides", len(snap.Rides)).
		Int("drivers", len(snap.Drivers)).
		Int("vehicles", len(snap.Vehicles)).
		Msg("snapshot replaced")
	respondJSON(w, http.StatusOK, map[string]any{"version": v.Version, "updatedAt": v.UpdatedAt})
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.feed.Current())
}

func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	v := h.feed.Current()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Snapshot-Version", strconv.FormatUint(v.Version, 10))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.contexts.Build(v.Snapshot)))
}

func (h *Handler) GetRisks(w http.ResponseWriter, r *http.Request) {
	v := h.feed.Current()
	respondJSON(w, http.StatusOK, h.evaluate(v))
}

// GetInsights returns context and risks computed from one snapshot version.
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	v := h.feed.Current()
	respondJSON(w, http.StatusOK, insights{
		riskReport: h.evaluate(v),
		Context:    h.contexts.Build(v.Snapshot),
	})
}

func (h *Handler) evaluate(v fleet.Versioned) riskReport {
	alerts := h.risks.Evaluate(v.Snapshot)
	if alerts == nil {
		alerts = []risk.Alert{}
	}
	return riskReport{Version: v.Version, Alerts: alerts, Counts: risk.Counts(alerts)}
}

// systemPrompt renders the context of the current snapshot for an AI request.
func (h *Handler) systemPrompt() string {
	return h.contexts.Build(h.feed.Current().Snapshot)
}

func pageParams(r *http.Request) (limit, offset int) {
	query := r.URL.Query()
	limit = 50
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}
