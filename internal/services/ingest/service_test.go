package ingest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
)

type fakeMsg struct {
	topic   string
	payload []byte
}

func (m *fakeMsg) Duplicate() bool   { return false }
func (m *fakeMsg) Qos() byte         { return 1 }
func (m *fakeMsg) Retained() bool    { return false }
func (m *fakeMsg) Topic() string     { return m.topic }
func (m *fakeMsg) MessageID() uint16 { return 0 }
func (m *fakeMsg) Payload() []byte   { return m.payload }
func (m *fakeMsg) Ack()              {}

type fakeWriter struct {
	mu       sync.Mutex
	readings []model.SensorReading
}

func (w *fakeWriter) WriteSensorPoint(r model.SensorReading) {
	w.mu.Lock()
	w.readings = append(w.readings, r)
	w.mu.Unlock()
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.readings)
}

func newService(t *testing.T) (*Service, *registry.Registry, *fakeWriter) {
	t.Helper()
	reg := registry.New(model.PlantConfig{
		MoistureMin: 30, MoistureMax: 70,
		TemperatureMin: 5, TemperatureMax: 40,
		WateringDuration: 5 * time.Second, Cooldown: time.Minute,
		MaxDailyWaterings: 3, Version: 1,
	}, events.NewBus(8), zap.NewNop())
	w := &fakeWriter{}
	return NewService(reg, w, events.NewBus(8), metrics.New(), zap.NewNop()), reg, w
}

func telemetry(deviceID string, ts int64, moisture float64) []byte {
	return []byte(fmt.Sprintf(
		`{"device_id":%q,"timestamp":%d,"sensors":{"moisture":%.1f,"temperature":21.5}}`,
		deviceID, ts, moisture))
}

func TestTelemetryRegistersUnknownDevice(t *testing.T) {
	svc, reg, w := newService(t)
	ts := time.Now().Unix()

	err := svc.Handle("", &fakeMsg{topic: "sensors/esp32-9/data", payload: telemetry("esp32-9", ts, 45)})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := reg.Snapshot("esp32-9")
	if err != nil {
		t.Fatalf("device was not auto-registered: %v", err)
	}
	if !snap.Status.Online {
		t.Fatal("telemetry must mark the plant online")
	}
	if snap.Readings == nil || snap.Readings.Moisture == nil || *snap.Readings.Moisture != 45 {
		t.Fatalf("moisture not applied: %+v", snap.Readings)
	}
	if w.count() != 2 {
		t.Fatalf("wrote %d points, want 2 (moisture and temperature)", w.count())
	}
}

func TestRedeliveredTelemetryProcessedOnce(t *testing.T) {
	svc, _, w := newService(t)
	payload := telemetry("esp32-1", time.Now().Unix(), 40)

	for i := 0; i < 3; i++ {
		if err := svc.Handle("", &fakeMsg{topic: "sensors/esp32-1/data", payload: payload}); err != nil {
			t.Fatal(err)
		}
	}
	if w.count() != 2 {
		t.Fatalf("wrote %d points, want 2: identical redeliveries must be dropped", w.count())
	}
}

func TestMalformedTelemetrySwallowed(t *testing.T) {
	svc, _, w := newService(t)

	if err := svc.Handle("", &fakeMsg{topic: "sensors/esp32-1/data", payload: []byte("{nope")}); err != nil {
		t.Fatalf("malformed payload must not error the consumer: %v", err)
	}
	if w.count() != 0 {
		t.Fatal("malformed payload must not reach the store")
	}
}

func TestTopicDeviceIDWinsOverPayload(t *testing.T) {
	svc, reg, _ := newService(t)

	payload := telemetry("esp32-other", time.Now().Unix(), 40)
	if err := svc.Handle("", &fakeMsg{topic: "sensors/esp32-real/data", payload: payload}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Snapshot("esp32-real"); err != nil {
		t.Fatal("plant must be registered under the topic device id")
	}
	if _, err := reg.Snapshot("esp32-other"); err == nil {
		t.Fatal("payload device id must not create a second plant")
	}
}

func TestHeartbeatMarksOnline(t *testing.T) {
	svc, reg, _ := newService(t)

	if err := svc.Handle("", &fakeMsg{
		topic:   "devices/esp32-1/heartbeat",
		payload: []byte(`{"device_id":"esp32-1","battery":87.5}`),
	}); err != nil {
		t.Fatal(err)
	}

	snap, err := reg.Snapshot("esp32-1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Status.Online {
		t.Fatal("heartbeat must mark the plant online")
	}
	if snap.Status.BatteryLevel == nil || *snap.Status.BatteryLevel != 87.5 {
		t.Fatalf("battery not recorded: %+v", snap.Status)
	}
}

func TestUnrelatedTopicIgnored(t *testing.T) {
	svc, _, w := newService(t)
	if err := svc.Handle("", &fakeMsg{topic: "commands/esp32-1/ack", payload: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if w.count() != 0 {
		t.Fatal("non-ingest topics must be ignored")
	}
}
