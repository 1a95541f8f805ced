// Package api is the thin presentation surface over the control core: REST
// for reads, manual watering and config changes, a websocket stream for live
// dashboard updates, plus health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
	"github.com/PhilKsr/planetplant-sub001/internal/services/persistence"
	"github.com/PhilKsr/planetplant-sub001/internal/services/watering"
	"github.com/PhilKsr/planetplant-sub001/pkg/mqttbus"
)

type Server struct {
	reg            *registry.Registry
	coord          *watering.Coordinator
	store          *persistence.Store
	bus            *events.Bus
	met            *metrics.Metrics
	mqtt           mqtt.Client
	pub            mqttbus.IPublisher
	reportInterval time.Duration
	log            *zap.Logger

	http *http.Server
}

func NewServer(
	port int,
	reg *registry.Registry,
	coord *watering.Coordinator,
	store *persistence.Store,
	bus *events.Bus,
	met *metrics.Metrics,
	mqttClient mqtt.Client,
	pub mqttbus.IPublisher,
	reportInterval time.Duration,
	log *zap.Logger,
) *Server {
	s := &Server{
		reg:            reg,
		coord:          coord,
		store:          store,
		bus:            bus,
		met:            met,
		mqtt:           mqttClient,
		pub:            pub,
		reportInterval: reportInterval,
		log:            log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", met.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/plants", s.handleListPlants).Methods(http.MethodGet)
	v1.HandleFunc("/plants/{plantId}", s.handleGetPlant).Methods(http.MethodGet)
	v1.HandleFunc("/plants/{plantId}/water", s.handleWater).Methods(http.MethodPost)
	v1.HandleFunc("/plants/{plantId}/config", s.handlePatchConfig).Methods(http.MethodPatch)
	v1.HandleFunc("/plants/{plantId}/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/events/ws", s.handleEventsWS).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, errorBody{Error: msg, Reason: reason})
}

// rejectionStatus maps policy refusals to HTTP codes for manual callers.
func rejectionStatus(rej *model.Rejection) int {
	switch rej.Reason {
	case model.ReasonUnknownPlant:
		return http.StatusNotFound
	case model.ReasonInvalidDuration:
		return http.StatusBadRequest
	case model.ReasonAlreadyWatering:
		return http.StatusConflict
	case model.ReasonDispatchFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}
