package registry

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
)

func defaults() model.PlantConfig {
	return model.PlantConfig{
		MoistureMin:       30,
		MoistureMax:       70,
		TemperatureMin:    5,
		TemperatureMax:    40,
		WateringDuration:  10 * time.Second,
		Cooldown:          5 * time.Minute,
		MaxDailyWaterings: 3,
		Version:           1,
	}
}

func newTestRegistry() *Registry {
	return New(defaults(), events.NewBus(8), zap.NewNop())
}

func TestGetOrCreate(t *testing.T) {
	r := newTestRegistry()

	snap, created := r.GetOrCreate("p1", "esp32-1")
	if !created {
		t.Fatal("expected creation on first call")
	}
	if snap.Config.MoistureMin != 30 || snap.DeviceID != "esp32-1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if _, created = r.GetOrCreate("p1", "esp32-1"); created {
		t.Fatal("second call must not create")
	}
}

func TestResolvePlantByDeviceAutoCreates(t *testing.T) {
	r := newTestRegistry()
	bus := events.NewBus(8)
	r.bus = bus
	ch, cancel := bus.Subscribe()
	defer cancel()

	if got := r.ResolvePlantByDevice("esp32-9"); got != "esp32-9" {
		t.Fatalf("got plant %q", got)
	}
	select {
	case evt := <-ch:
		if evt.Type != events.TypePlantDiscovered {
			t.Fatalf("got event %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no discovery event")
	}

	// Second resolve hits the index, no new plant.
	r.ResolvePlantByDevice("esp32-9")
	if n := len(r.List()); n != 1 {
		t.Fatalf("got %d plants, want 1", n)
	}
}

func TestDiscoveryConcurrentWithFirstReading(t *testing.T) {
	r := newTestRegistry()
	now := time.Now().UTC()

	// First telemetry from an unknown device races the discovery event
	// snapshot against reading application for the same plant.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		id := string(rune('a' + i%8))
		wg.Add(1)
		go func(plantID string) {
			defer wg.Done()
			r.ResolvePlantByDevice(plantID)
			for j := 0; j < 16; j++ {
				_, _ = r.ApplyReading(plantID, model.SensorReading{
					PlantID: plantID, Type: model.SensorMoisture, Value: float64(j),
					ObservedAt: now.Add(time.Duration(j) * time.Second),
					ReceivedAt: now.Add(time.Duration(j) * time.Second),
				})
			}
		}(id)
	}
	wg.Wait()

	if n := len(r.List()); n != 8 {
		t.Fatalf("got %d plants, want 8", n)
	}
}

func TestBeginWateringCAS(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")

	ok, err := r.BeginWatering("p1")
	if err != nil || !ok {
		t.Fatalf("first begin: ok=%v err=%v", ok, err)
	}
	ok, err = r.BeginWatering("p1")
	if err != nil || ok {
		t.Fatalf("second begin while in flight must fail, got ok=%v err=%v", ok, err)
	}

	if err := r.EndWatering("p1", model.OutcomeAcknowledged); err != nil {
		t.Fatal(err)
	}
	snap, _ := r.Snapshot("p1")
	if snap.Watering.InFlight || snap.Watering.WateringsToday != 1 || snap.Watering.LastWateringEndedAt.IsZero() {
		t.Fatalf("unexpected state after ack: %+v", snap.Watering)
	}
}

func TestBeginWateringConcurrent(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")

	const n = 64
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.BeginWatering("p1"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("%d winners, want exactly 1", count)
	}
}

func TestEndWateringRollback(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")

	for _, outcome := range []model.Outcome{model.OutcomeRejected, model.OutcomeTimedOut} {
		if ok, _ := r.BeginWatering("p1"); !ok {
			t.Fatal("begin failed")
		}
		if err := r.EndWatering("p1", outcome); err != nil {
			t.Fatal(err)
		}
		snap, _ := r.Snapshot("p1")
		if snap.Watering.WateringsToday != 0 {
			t.Fatalf("%s must roll back the daily count, got %d", outcome, snap.Watering.WateringsToday)
		}
		if !snap.Watering.LastWateringEndedAt.IsZero() {
			t.Fatalf("%s must not start the cooldown clock", outcome)
		}
	}
}

func TestEndWateringWithoutBegin(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")
	if err := r.EndWatering("p1", model.OutcomeAcknowledged); err == nil {
		t.Fatal("expected ErrNotInFlight")
	}
}

func TestDailyCountResetAtUTCDayChange(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")

	day1 := time.Date(2026, 8, 29, 23, 50, 0, 0, time.UTC)
	r.now = func() time.Time { return day1 }
	for i := 0; i < 2; i++ {
		if ok, _ := r.BeginWatering("p1"); !ok {
			t.Fatal("begin failed")
		}
		if err := r.EndWatering("p1", model.OutcomeAcknowledged); err != nil {
			t.Fatal(err)
		}
	}
	snap, _ := r.Snapshot("p1")
	if snap.Watering.WateringsToday != 2 {
		t.Fatalf("got %d waterings, want 2", snap.Watering.WateringsToday)
	}

	// Past midnight UTC the counter starts over.
	r.now = func() time.Time { return day1.Add(20 * time.Minute) }
	if ok, _ := r.BeginWatering("p1"); !ok {
		t.Fatal("begin failed")
	}
	snap, _ = r.Snapshot("p1")
	if snap.Watering.WateringsToday != 1 {
		t.Fatalf("got %d waterings after day change, want 1", snap.Watering.WateringsToday)
	}
}

func TestApplyReadingIgnoresStaleObservation(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")

	now := time.Now().UTC()
	newer := model.SensorReading{
		PlantID: "p1", Type: model.SensorMoisture, Value: 44,
		ObservedAt: now, ReceivedAt: now,
	}
	if _, err := r.ApplyReading("p1", newer); err != nil {
		t.Fatal(err)
	}

	older := newer
	older.Value = 11
	older.ObservedAt = now.Add(-time.Minute)
	if _, err := r.ApplyReading("p1", older); err != nil {
		t.Fatal(err)
	}

	snap, _ := r.Snapshot("p1")
	if snap.Readings == nil || snap.Readings.Moisture == nil || *snap.Readings.Moisture != 44 {
		t.Fatalf("stale reading overwrote the newer one: %+v", snap.Readings)
	}
}

func TestApplyReadingMarksOnline(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")

	now := time.Now().UTC()
	changed, err := r.ApplyReading("p1", model.SensorReading{
		PlantID: "p1", Type: model.SensorTemperature, Value: 21,
		ObservedAt: now, ReceivedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected offline -> online transition")
	}
	snap, _ := r.Snapshot("p1")
	if !snap.Status.Online || !snap.Status.LastSeenAt.Equal(now) {
		t.Fatalf("unexpected status: %+v", snap.Status)
	}
}

func TestUpdateConfig(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")

	min := 40.0
	cfg, err := r.UpdateConfig("p1", model.ConfigPatch{MoistureMin: &min})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MoistureMin != 40 || cfg.Version != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	bad := 90.0 // above moistureMax
	if _, err := r.UpdateConfig("p1", model.ConfigPatch{MoistureMin: &bad}); err == nil {
		t.Fatal("expected validation error")
	}
	// Failed patch must not change anything.
	snap, _ := r.Snapshot("p1")
	if snap.Config.MoistureMin != 40 || snap.Config.Version != 2 {
		t.Fatalf("config mutated by failed patch: %+v", snap.Config)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("p1", "d1")
	now := time.Now().UTC()
	_, _ = r.ApplyReading("p1", model.SensorReading{
		PlantID: "p1", Type: model.SensorMoisture, Value: 33,
		ObservedAt: now, ReceivedAt: now,
	})

	snap, _ := r.Snapshot("p1")
	*snap.Readings.Moisture = 99

	again, _ := r.Snapshot("p1")
	if *again.Readings.Moisture != 33 {
		t.Fatal("snapshot shares state with the registry record")
	}
}
