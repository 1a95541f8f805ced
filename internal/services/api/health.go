package api

import (
	"net/http"
	"time"
)

type healthStatus struct {
	Status            string  `json:"status"`
	MQTTConnected     bool    `json:"mqtt_connected"`
	StoreOK           bool    `json:"store_ok"`
	LastWriteErrorAge float64 `json:"last_write_error_age_sec"`
	Plants            int     `json:"plants"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := healthStatus{
		MQTTConnected:     s.mqtt != nil && s.mqtt.IsConnectionOpen(),
		StoreOK:           s.store.LastWriteErrorAge() > 30*time.Second,
		LastWriteErrorAge: s.store.LastWriteErrorAge().Seconds(),
		Plants:            len(s.reg.List()),
	}
	switch {
	case st.MQTTConnected && st.StoreOK:
		st.Status = "ok"
	case st.MQTTConnected || st.StoreOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := s.mqtt != nil && s.mqtt.IsConnectionOpen()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}
