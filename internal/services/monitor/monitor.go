// Package monitor sweeps the registry and flags plants whose device has not
// been heard from. It only observes time; watering gating happens in the
// decision engine reading the offline flag.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
)

type Monitor struct {
	reg       *registry.Registry
	bus       *events.Bus
	met       *metrics.Metrics
	interval  time.Duration
	threshold time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func New(reg *registry.Registry, bus *events.Bus, met *metrics.Metrics, interval, offlineThreshold time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		reg:       reg,
		bus:       bus,
		met:       met,
		interval:  interval,
		threshold: offlineThreshold,
		log:       log,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep marks every plant offline whose last sign of life is older than the
// threshold.
func (m *Monitor) Sweep() {
	now := m.now()
	for _, rec := range m.reg.List() {
		if !rec.Status.Online {
			continue
		}
		if now.Sub(rec.Status.LastSeenAt) <= m.threshold {
			continue
		}
		changed, err := m.reg.MarkOffline(rec.PlantID)
		if err != nil || !changed {
			continue
		}
		m.met.PlantsOnline.Dec()
		m.log.Warn("plant offline, heartbeat lapsed",
			zap.String("plant_id", rec.PlantID),
			zap.Time("last_seen", rec.Status.LastSeenAt))
		if snap, err := m.reg.Snapshot(rec.PlantID); err == nil {
			m.bus.Publish(events.Event{Type: events.TypePlantUpdated, PlantID: rec.PlantID, Payload: snap})
		}
	}
}
