package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
	"github.com/PhilKsr/planetplant-sub001/internal/model/messages"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
	"github.com/PhilKsr/planetplant-sub001/internal/services/automation"
	"github.com/PhilKsr/planetplant-sub001/internal/services/watering"
)

type ackDispatcher struct{}

func (ackDispatcher) Dispatch(deviceID string, cmd messages.WaterCommand) (<-chan messages.CommandAck, error) {
	ch := make(chan messages.CommandAck, 1)
	ch <- messages.CommandAck{DeviceID: deviceID, TicketID: cmd.TicketID, Status: "ok"}
	return ch, nil
}

func (ackDispatcher) Release(string) {}

type nullRecorder struct{}

func (nullRecorder) WriteWateringEvent(model.WateringEvent) {}

type capturePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *capturePublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturePublisher) Close() {}

func newTestServer(t *testing.T) (*Server, *registry.Registry, *capturePublisher) {
	t.Helper()

	bus := events.NewBus(8)
	met := metrics.New()
	reg := registry.New(model.PlantConfig{
		MoistureMin: 30, MoistureMax: 70,
		TemperatureMin: 5, TemperatureMax: 40,
		WateringDuration: 10 * time.Millisecond, Cooldown: time.Minute,
		MaxDailyWaterings: 3, Version: 1,
	}, bus, zap.NewNop())

	reg.GetOrCreate("p1", "esp32-1")
	now := time.Now().UTC()
	if _, err := reg.ApplyReading("p1", model.SensorReading{
		PlantID: "p1", Type: model.SensorMoisture, Value: 20,
		ObservedAt: now, ReceivedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	coord := watering.NewCoordinator(reg,
		automation.NewEngine(15*time.Minute, time.UTC),
		ackDispatcher{}, nullRecorder{}, bus, met,
		watering.Options{
			AckTimeout:  50 * time.Millisecond,
			MinDuration: time.Millisecond,
			MaxDuration: time.Minute,
			PumpRateML:  20,
		}, zap.NewNop())
	t.Cleanup(coord.Drain)

	pub := &capturePublisher{}
	return NewServer(0, reg, coord, nil, bus, met, nil, pub, 30*time.Second, zap.NewNop()), reg, pub
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, r)
	return w
}

func TestGetPlant(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/api/v1/plants/p1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", w.Code)
	}
	var rec model.PlantRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.PlantID != "p1" || rec.DeviceID != "esp32-1" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if w := do(s, http.MethodGet, "/api/v1/plants/ghost", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown plant: got %d, want 404", w.Code)
	}
}

func TestManualWaterAccepted(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/v1/plants/p1/water", `{"duration_ms":10}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("got %d (%s), want 202", w.Code, w.Body)
	}
	var ticket model.WateringTicket
	if err := json.Unmarshal(w.Body.Bytes(), &ticket); err != nil {
		t.Fatal(err)
	}
	if ticket.ID == "" || ticket.PlantID != "p1" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
}

func TestManualWaterRejections(t *testing.T) {
	s, reg, _ := newTestServer(t)

	if w := do(s, http.MethodPost, "/api/v1/plants/ghost/water", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown plant: got %d, want 404", w.Code)
	}

	if w := do(s, http.MethodPost, "/api/v1/plants/p1/water", `{"duration_ms":3600000}`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid duration: got %d, want 400", w.Code)
	}

	if _, err := reg.MarkOffline("p1"); err != nil {
		t.Fatal(err)
	}
	w := do(s, http.MethodPost, "/api/v1/plants/p1/water", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("offline plant: got %d, want 409", w.Code)
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Reason != model.ReasonOffline {
		t.Fatalf("got reason %q, want offline", body.Reason)
	}
}

func TestPatchConfigPushesToDevice(t *testing.T) {
	s, reg, pub := newTestServer(t)

	w := do(s, http.MethodPatch, "/api/v1/plants/p1/config", `{"moisture_min":35,"max_daily_waterings":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d (%s), want 200", w.Code, w.Body)
	}

	snap, _ := reg.Snapshot("p1")
	if snap.Config.MoistureMin != 35 || snap.Config.MaxDailyWaterings != 2 {
		t.Fatalf("patch not applied: %+v", snap.Config)
	}
	if snap.Config.Version != 2 {
		t.Fatalf("got version %d, want 2", snap.Config.Version)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.topics) != 1 || pub.topics[0] != "commands/esp32-1/config" {
		t.Fatalf("config not pushed, topics %v", pub.topics)
	}
	var cmd messages.ConfigCommand
	if err := json.Unmarshal(pub.payloads[0], &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.ConfigVersion != 2 || cmd.ReportIntervalS != 30 {
		t.Fatalf("pushed command %+v, want version 2 with a 30s report interval", cmd)
	}
}

func TestPatchConfigValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	if w := do(s, http.MethodPatch, "/api/v1/plants/p1/config", `{"moisture_min":80,"moisture_max":40}`); w.Code != http.StatusBadRequest {
		t.Fatalf("inverted thresholds: got %d, want 400", w.Code)
	}
	if w := do(s, http.MethodPatch, "/api/v1/plants/ghost/config", `{"moisture_min":35}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown plant: got %d, want 404", w.Code)
	}
}
