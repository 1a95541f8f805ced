package automation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/model"
)

// Waterer is the coordinator surface the scheduler drives. A zero duration
// asks for the plant's configured watering duration.
type Waterer interface {
	RequestWatering(ctx context.Context, plantID string, duration time.Duration, trigger model.TriggerType) (model.WateringTicket, error)
}

// Lister provides registry snapshots for the sweep.
type Lister interface {
	List() []model.PlantRecord
}

// Scheduler runs the automation tick: every interval it evaluates all plants
// and hands watering candidates to the coordinator. Holds are skipped
// silently; only the coordinator's own re-evaluation produces events.
type Scheduler struct {
	engine   *Engine
	plants   Lister
	waterer  Waterer
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewScheduler(engine *Engine, plants Lister, waterer Waterer, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		plants:   plants,
		waterer:  waterer,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every plant once.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now()
	for _, rec := range s.plants.List() {
		dec := s.engine.Evaluate(rec, now, model.TriggerAutomatic, false)
		if dec.Action != model.ActionWater {
			s.log.Debug("automation hold",
				zap.String("plant_id", rec.PlantID), zap.String("reason", dec.Reason))
			continue
		}

		ticket, err := s.waterer.RequestWatering(ctx, rec.PlantID, 0, model.TriggerAutomatic)
		if err != nil {
			var rej *model.Rejection
			if errors.As(err, &rej) {
				// Lost a race with a manual request or a config change
				// between evaluation and the gate. Next tick retries.
				s.log.Debug("automation watering rejected",
					zap.String("plant_id", rec.PlantID), zap.String("reason", rej.Reason))
				continue
			}
			s.log.Error("automation watering failed", zap.String("plant_id", rec.PlantID), zap.Error(err))
			continue
		}
		s.log.Info("automation watering dispatched",
			zap.String("plant_id", rec.PlantID),
			zap.String("ticket_id", ticket.ID),
			zap.Duration("duration", ticket.Duration))
	}
}
