// Package registry holds the authoritative in-memory state for every known
// plant. Each record is guarded by its own mutex obtained from the plant map,
// so mutations for one plant are linearized while unrelated plants proceed in
// parallel. No lock is ever held across network I/O; callers work on value
// snapshots.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
)

var (
	ErrUnknownPlant = errors.New("unknown plant")
	ErrNotInFlight  = errors.New("no watering in flight")
)

type entry struct {
	mu  sync.Mutex
	rec model.PlantRecord
}

type Registry struct {
	mu      sync.RWMutex
	plants  map[string]*entry
	devices map[string]string // deviceID -> plantID

	defaults model.PlantConfig
	bus      *events.Bus
	log      *zap.Logger
	now      func() time.Time
}

func New(defaults model.PlantConfig, bus *events.Bus, log *zap.Logger) *Registry {
	return &Registry{
		plants:   make(map[string]*entry),
		devices:  make(map[string]string),
		defaults: defaults,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// GetOrCreate returns the plant's snapshot, creating the record with default
// configuration when it does not exist yet.
func (r *Registry) GetOrCreate(plantID, deviceID string) (model.PlantRecord, bool) {
	e, created := r.getOrCreateEntry(plantID, deviceID)
	e.mu.Lock()
	snap := snapshotLocked(&e.rec)
	e.mu.Unlock()
	return snap, created
}

// ResolvePlantByDevice maps an inbound deviceID to its plant, auto-creating a
// plant named after the device on first contact (new device discovery).
func (r *Registry) ResolvePlantByDevice(deviceID string) string {
	r.mu.RLock()
	plantID, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if ok {
		return plantID
	}
	r.getOrCreateEntry(deviceID, deviceID)
	return deviceID
}

func (r *Registry) getOrCreateEntry(plantID, deviceID string) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.plants[plantID]
	r.mu.RUnlock()
	if ok {
		return e, false
	}

	r.mu.Lock()
	if e, ok = r.plants[plantID]; ok {
		r.mu.Unlock()
		return e, false
	}
	now := r.now().UTC()
	e = &entry{rec: model.PlantRecord{
		PlantID:   plantID,
		DeviceID:  deviceID,
		Config:    r.defaults,
		Watering:  model.WateringState{ResetDay: dayOf(now)},
		CreatedAt: now,
	}}
	r.plants[plantID] = e
	if deviceID != "" {
		r.devices[deviceID] = plantID
	}
	r.mu.Unlock()

	r.log.Info("new plant registered", zap.String("plant_id", plantID), zap.String("device_id", deviceID))
	e.mu.Lock()
	snap := snapshotLocked(&e.rec)
	e.mu.Unlock()
	r.bus.Publish(events.Event{Type: events.TypePlantDiscovered, PlantID: plantID, Payload: snap})
	return e, true
}

func (r *Registry) lookup(plantID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.plants[plantID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlant, plantID)
	}
	return e, nil
}

// ApplyReading folds a validated reading into the record and refreshes
// liveness. Readings older than the record's current observation are ignored
// (out-of-order delivery) but still count as a sign of life. Returns true
// when the plant transitioned offline -> online.
func (r *Registry) ApplyReading(plantID string, reading model.SensorReading) (bool, error) {
	e, err := r.lookup(plantID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := &e.rec
	wasOnline := rec.Status.Online
	rec.Status.Online = true
	if reading.ReceivedAt.After(rec.Status.LastSeenAt) {
		rec.Status.LastSeenAt = reading.ReceivedAt
	}

	if rec.Readings == nil {
		rec.Readings = &model.CurrentReadings{}
	}
	cur := rec.Readings
	if reading.ObservedAt.Before(cur.ObservedAt) {
		return !wasOnline, nil // stale, keep the newer observation
	}

	v := reading.Value
	switch reading.Type {
	case model.SensorTemperature:
		cur.Temperature = &v
	case model.SensorHumidity:
		cur.Humidity = &v
	case model.SensorMoisture:
		cur.Moisture = &v
	case model.SensorLight:
		cur.Light = &v
	default:
		return !wasOnline, fmt.Errorf("unsupported sensor type %q", reading.Type)
	}
	if reading.ObservedAt.After(cur.ObservedAt) {
		cur.ObservedAt = reading.ObservedAt
	}
	return !wasOnline, nil
}

// UpdateConfig applies a partial config change and bumps the version.
func (r *Registry) UpdateConfig(plantID string, patch model.ConfigPatch) (model.PlantConfig, error) {
	e, err := r.lookup(plantID)
	if err != nil {
		return model.PlantConfig{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.rec.Config
	if patch.MoistureMin != nil {
		cfg.MoistureMin = *patch.MoistureMin
	}
	if patch.MoistureMax != nil {
		cfg.MoistureMax = *patch.MoistureMax
	}
	if patch.TemperatureMin != nil {
		cfg.TemperatureMin = *patch.TemperatureMin
	}
	if patch.TemperatureMax != nil {
		cfg.TemperatureMax = *patch.TemperatureMax
	}
	if patch.WateringDurationM != nil {
		cfg.WateringDuration = time.Duration(*patch.WateringDurationM) * time.Millisecond
	}
	if patch.CooldownM != nil {
		cfg.Cooldown = time.Duration(*patch.CooldownM) * time.Millisecond
	}
	if patch.MaxDailyWaterings != nil {
		cfg.MaxDailyWaterings = *patch.MaxDailyWaterings
	}
	if patch.QuietHours != nil {
		cfg.QuietHours = *patch.QuietHours
	}

	if err := validateConfig(cfg); err != nil {
		return model.PlantConfig{}, err
	}
	cfg.Version = e.rec.Config.Version + 1
	e.rec.Config = cfg
	return cfg, nil
}

func validateConfig(cfg model.PlantConfig) error {
	if cfg.MoistureMin < 0 || cfg.MoistureMax > 100 || cfg.MoistureMin >= cfg.MoistureMax {
		return fmt.Errorf("invalid moisture thresholds %.1f..%.1f", cfg.MoistureMin, cfg.MoistureMax)
	}
	if cfg.TemperatureMin >= cfg.TemperatureMax {
		return fmt.Errorf("invalid temperature thresholds %.1f..%.1f", cfg.TemperatureMin, cfg.TemperatureMax)
	}
	if cfg.WateringDuration <= 0 {
		return fmt.Errorf("watering duration must be positive")
	}
	if cfg.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if cfg.MaxDailyWaterings < 1 {
		return fmt.Errorf("max daily waterings must be at least 1")
	}
	return nil
}

// MarkOnline refreshes liveness from a heartbeat. Returns true on an
// offline -> online transition.
func (r *Registry) MarkOnline(plantID string, seenAt time.Time, battery *float64) (bool, error) {
	e, err := r.lookup(plantID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := !e.rec.Status.Online
	e.rec.Status.Online = true
	if seenAt.After(e.rec.Status.LastSeenAt) {
		e.rec.Status.LastSeenAt = seenAt
	}
	if battery != nil {
		b := *battery
		e.rec.Status.BatteryLevel = &b
	}
	return changed, nil
}

// MarkOffline flags a lapsed plant. Returns true on an online -> offline
// transition.
func (r *Registry) MarkOffline(plantID string) (bool, error) {
	e, err := r.lookup(plantID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := e.rec.Status.Online
	e.rec.Status.Online = false
	return changed, nil
}

// BeginWatering is the per-plant compare-and-set gate: it succeeds only when
// no watering is in flight, marking the record in flight and tentatively
// counting the attempt against the daily cap. It never blocks on a busy
// plant.
func (r *Registry) BeginWatering(plantID string) (bool, error) {
	e, err := r.lookup(plantID)
	if err != nil {
		return false, err
	}
	now := r.now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	w := &e.rec.Watering
	if day := dayOf(now); !w.ResetDay.Equal(day) {
		w.ResetDay = day
		w.WateringsToday = 0
	}
	if w.InFlight {
		return false, nil
	}
	w.InFlight = true
	w.WateringsToday++
	w.LastWateringStartedAt = now
	return true, nil
}

// EndWatering clears the in-flight flag and records the terminal outcome.
// Rejected and timed-out attempts roll back the tentative daily-cap
// increment; only an acknowledged watering starts the cooldown clock.
func (r *Registry) EndWatering(plantID string, outcome model.Outcome) error {
	e, err := r.lookup(plantID)
	if err != nil {
		return err
	}
	now := r.now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	w := &e.rec.Watering
	if !w.InFlight {
		// Structurally impossible with the CAS gate; isolate and log.
		r.log.Error("endWatering without beginWatering", zap.String("plant_id", plantID), zap.String("outcome", string(outcome)))
		return fmt.Errorf("%w: %s", ErrNotInFlight, plantID)
	}
	w.InFlight = false

	switch outcome {
	case model.OutcomeAcknowledged:
		w.LastWateringEndedAt = now
	case model.OutcomeRejected, model.OutcomeTimedOut:
		if w.WateringsToday > 0 && w.ResetDay.Equal(dayOf(now)) {
			w.WateringsToday--
		}
	default:
		return fmt.Errorf("non-terminal outcome %q", outcome)
	}
	return nil
}

// Snapshot returns a deep value copy of the record.
func (r *Registry) Snapshot(plantID string) (model.PlantRecord, error) {
	e, err := r.lookup(plantID)
	if err != nil {
		return model.PlantRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotLocked(&e.rec), nil
}

// List snapshots every known plant. Ordering is unspecified.
func (r *Registry) List() []model.PlantRecord {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.plants))
	for _, e := range r.plants {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]model.PlantRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshotLocked(&e.rec))
		e.mu.Unlock()
	}
	return out
}

func snapshotLocked(rec *model.PlantRecord) model.PlantRecord {
	snap := *rec
	if rec.Readings != nil {
		cr := *rec.Readings
		cr.Temperature = copyFloat(rec.Readings.Temperature)
		cr.Humidity = copyFloat(rec.Readings.Humidity)
		cr.Moisture = copyFloat(rec.Readings.Moisture)
		cr.Light = copyFloat(rec.Readings.Light)
		snap.Readings = &cr
	}
	snap.Status.BatteryLevel = copyFloat(rec.Status.BatteryLevel)
	return snap
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
