package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/model"
	"github.com/PhilKsr/planetplant-sub001/internal/model/messages"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
)

func (s *Server) handleListPlants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	plantID := mux.Vars(r)["plantId"]
	snap, err := s.reg.Snapshot(plantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown plant", model.ReasonUnknownPlant)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type waterRequest struct {
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// handleWater triggers a manual watering. Policy refusals come back with the
// machine-readable reason and a human-readable message, not a generic error.
func (s *Server) handleWater(w http.ResponseWriter, r *http.Request) {
	plantID := mux.Vars(r)["plantId"]

	var req waterRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error(), "")
			return
		}
	}

	ticket, err := s.coord.RequestWatering(r.Context(), plantID,
		time.Duration(req.DurationMS)*time.Millisecond, model.TriggerManual)
	if err != nil {
		var rej *model.Rejection
		if errors.As(err, &rej) {
			writeError(w, rejectionStatus(rej), rej.Message, rej.Reason)
			return
		}
		s.log.Error("manual watering failed", zap.String("plant_id", plantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	plantID := mux.Vars(r)["plantId"]

	var patch model.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error(), "")
		return
	}

	cfg, err := s.reg.UpdateConfig(plantID, patch)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownPlant) {
			writeError(w, http.StatusNotFound, "unknown plant", model.ReasonUnknownPlant)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	s.pushConfig(plantID, cfg)
	writeJSON(w, http.StatusOK, cfg)
}

// pushConfig forwards the new config version to the device. Best effort: the
// registry copy is authoritative either way.
func (s *Server) pushConfig(plantID string, cfg model.PlantConfig) {
	snap, err := s.reg.Snapshot(plantID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(messages.ConfigCommand{
		ReportIntervalS: int64(s.reportInterval.Seconds()),
		ConfigVersion:   cfg.Version,
	})
	if err != nil {
		return
	}
	topic := fmt.Sprintf("commands/%s/config", snap.DeviceID)
	if err := s.pub.Publish(topic, 1, true, payload); err != nil {
		s.log.Warn("config push failed", zap.String("plant_id", plantID), zap.Error(err))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	plantID := mux.Vars(r)["plantId"]
	if _, err := s.reg.Snapshot(plantID); err != nil {
		writeError(w, http.StatusNotFound, "unknown plant", model.ReasonUnknownPlant)
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > 7*24*time.Hour {
			writeError(w, http.StatusBadRequest, "invalid window", "")
			return
		}
		window = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	readings, err := s.store.QueryRecent(ctx, plantID, window)
	if err != nil {
		s.log.Warn("history query failed", zap.String("plant_id", plantID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "time-series store unavailable", "")
		return
	}
	if readings == nil {
		readings = []model.SensorReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}
