package watering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
	"github.com/PhilKsr/planetplant-sub001/internal/model/messages"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
	"github.com/PhilKsr/planetplant-sub001/internal/services/automation"
)

// EventRecorder receives terminal watering events; writes are
// fire-and-forget downstream of the registry.
type EventRecorder interface {
	WriteWateringEvent(evt model.WateringEvent)
}

// Options bound a single watering attempt.
type Options struct {
	AckTimeout      time.Duration // wait for the device command ack
	CompletionGrace time.Duration // margin after the watering duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	PumpRateML      float64 // ml/s, volume estimate only
}

// Coordinator owns the per-plant watering state machine:
// Idle -> Evaluating -> Dispatching -> Running -> Completing -> Idle, or
// Rejected out of Evaluating/Dispatching. The registry's BeginWatering gate
// guarantees at most one attempt per plant is past Evaluating; attempts for
// different plants run fully in parallel. Requests hitting a busy plant are
// rejected immediately, never queued.
type Coordinator struct {
	reg    *registry.Registry
	engine *automation.Engine
	disp   Dispatcher
	store  EventRecorder
	bus    *events.Bus
	met    *metrics.Metrics
	log    *zap.Logger
	opts   Options

	wg  sync.WaitGroup
	now func() time.Time
}

func NewCoordinator(
	reg *registry.Registry,
	engine *automation.Engine,
	disp Dispatcher,
	store EventRecorder,
	bus *events.Bus,
	met *metrics.Metrics,
	opts Options,
	log *zap.Logger,
) *Coordinator {
	return &Coordinator{
		reg:    reg,
		engine: engine,
		disp:   disp,
		store:  store,
		bus:    bus,
		met:    met,
		log:    log,
		opts:   opts,
		now:    time.Now,
	}
}

// RequestWatering runs the gate and policy check synchronously and, when the
// attempt is approved and the command is on the wire, returns a ticket while
// the ack/duration cycle completes in the background. All refusals come back
// as *model.Rejection.
func (c *Coordinator) RequestWatering(ctx context.Context, plantID string, duration time.Duration, trigger model.TriggerType) (model.WateringTicket, error) {
	now := c.now()

	snap, err := c.reg.Snapshot(plantID)
	if err != nil {
		return model.WateringTicket{}, c.reject(plantID, trigger, now, duration, model.ReasonUnknownPlant,
			fmt.Sprintf("no plant registered with id %q", plantID), false)
	}

	if duration == 0 {
		duration = snap.Config.WateringDuration
	}
	if duration < c.opts.MinDuration || duration > c.opts.MaxDuration {
		return model.WateringTicket{}, c.reject(plantID, trigger, now, duration, model.ReasonInvalidDuration,
			fmt.Sprintf("watering duration %s outside allowed range %s..%s", duration, c.opts.MinDuration, c.opts.MaxDuration), false)
	}

	// Evaluating: the compare-and-set gate is the mutual-exclusion point.
	ok, err := c.reg.BeginWatering(plantID)
	if err != nil {
		return model.WateringTicket{}, err
	}
	if !ok {
		return model.WateringTicket{}, c.reject(plantID, trigger, now, duration, model.ReasonAlreadyWatering,
			"a watering is already in flight for this plant", false)
	}

	// Re-check policy while holding the gate; manual requests still must
	// pass the safety rules.
	snap, err = c.reg.Snapshot(plantID)
	if err != nil {
		// Gate already taken; release it or the plant stays blocked.
		return model.WateringTicket{}, c.reject(plantID, trigger, now, duration, model.ReasonUnknownPlant,
			fmt.Sprintf("no plant registered with id %q", plantID), true)
	}
	dec := c.engine.Evaluate(snap, now, trigger, true)
	if dec.Action != model.ActionWater {
		msg := holdMessage(dec.Reason, snap, now)
		return model.WateringTicket{}, c.reject(plantID, trigger, now, duration, dec.Reason, msg, true)
	}

	ticket := model.WateringTicket{
		ID:         uuid.NewString(),
		PlantID:    plantID,
		Trigger:    trigger,
		Duration:   duration,
		AcceptedAt: now,
	}

	// Dispatching: single send attempt, no retry.
	cmd := messages.WaterCommand{Action: "start", DurationMS: duration.Milliseconds(), TicketID: ticket.ID}
	ackCh, err := c.disp.Dispatch(snap.DeviceID, cmd)
	if err != nil {
		c.log.Warn("water command dispatch failed",
			zap.String("plant_id", plantID), zap.Error(err))
		return model.WateringTicket{}, c.reject(plantID, trigger, now, duration, model.ReasonDispatchFailed,
			"could not reach the device transport", true)
	}

	c.met.WateringsInFlight.Inc()
	c.wg.Add(1)
	go c.track(ticket, ackCh)

	return ticket, nil
}

// track follows one dispatched command through Running and Completing. The
// in-flight gate stays held for the full cycle; a dispatched watering cannot
// be cancelled, only awaited.
func (c *Coordinator) track(ticket model.WateringTicket, ackCh <-chan messages.CommandAck) {
	defer c.wg.Done()
	defer c.met.WateringsInFlight.Dec()
	defer c.disp.Release(ticket.ID)

	fields := []zap.Field{
		zap.String("plant_id", ticket.PlantID),
		zap.String("ticket_id", ticket.ID),
		zap.String("trigger", string(ticket.Trigger)),
	}

	ackTimer := time.NewTimer(c.opts.AckTimeout)
	defer ackTimer.Stop()

	select {
	case ack := <-ackCh:
		if ack.Status != "ok" {
			// The device refused (busy, pump fault). Treated like a clean
			// rejection: not watered, daily cap rolled back.
			c.log.Warn("device refused water command", append(fields, zap.String("status", ack.Status), zap.String("detail", ack.Message))...)
			c.finish(ticket, model.OutcomeRejected, "device_"+ack.Status)
			return
		}
	case <-ackTimer.C:
		// Command presumed lost. Distinct from a rejection in the log and
		// the event record, but also assumed not watered for the cap.
		c.log.Warn("water command ack timeout, assuming not watered", fields...)
		c.finish(ticket, model.OutcomeTimedOut, "")
		return
	}

	// Running: the pump is on for the requested duration.
	c.log.Info("watering started", append(fields, zap.Duration("duration", ticket.Duration))...)
	c.store.WriteWateringEvent(c.event(ticket, model.OutcomeStarted, ""))
	c.bus.Publish(events.Event{
		Type:    events.TypeWateringStarted,
		PlantID: ticket.PlantID,
		Payload: map[string]any{"duration_ms": ticket.Duration.Milliseconds(), "trigger_type": ticket.Trigger},
	})

	time.Sleep(ticket.Duration + c.opts.CompletionGrace)

	c.log.Info("watering completed", fields...)
	c.finish(ticket, model.OutcomeAcknowledged, "")
}

// finish records the terminal outcome: registry first (source of truth for
// control decisions), then the event record and the live stream.
func (c *Coordinator) finish(ticket model.WateringTicket, outcome model.Outcome, rejectReason string) {
	if err := c.reg.EndWatering(ticket.PlantID, outcome); err != nil {
		c.log.Error("endWatering failed", zap.String("plant_id", ticket.PlantID), zap.Error(err))
	}
	c.store.WriteWateringEvent(c.event(ticket, outcome, rejectReason))
	c.met.WateringsTotal.WithLabelValues(string(ticket.Trigger), string(outcome)).Inc()
	c.bus.Publish(events.Event{
		Type:    events.TypeWateringEnded,
		PlantID: ticket.PlantID,
		Payload: map[string]any{"outcome": outcome},
	})
}

func (c *Coordinator) event(ticket model.WateringTicket, outcome model.Outcome, rejectReason string) model.WateringEvent {
	evt := model.WateringEvent{
		ID:           uuid.NewString(),
		PlantID:      ticket.PlantID,
		Trigger:      ticket.Trigger,
		RequestedAt:  ticket.AcceptedAt,
		Duration:     ticket.Duration,
		Outcome:      outcome,
		RejectReason: rejectReason,
	}
	if outcome == model.OutcomeAcknowledged {
		evt.VolumeEstimateML = ticket.Duration.Seconds() * c.opts.PumpRateML
	}
	return evt
}

// reject records a refused attempt and builds the caller-facing rejection.
// rollback is set when the in-flight gate was already taken and must be
// released with its tentative daily-cap increment undone.
func (c *Coordinator) reject(plantID string, trigger model.TriggerType, now time.Time, duration time.Duration, reason, message string, rollback bool) error {
	if rollback {
		if err := c.reg.EndWatering(plantID, model.OutcomeRejected); err != nil {
			c.log.Error("rollback failed", zap.String("plant_id", plantID), zap.Error(err))
		}
	}
	if reason != model.ReasonUnknownPlant {
		c.store.WriteWateringEvent(model.WateringEvent{
			ID:           uuid.NewString(),
			PlantID:      plantID,
			Trigger:      trigger,
			RequestedAt:  now,
			Duration:     duration,
			Outcome:      model.OutcomeRejected,
			RejectReason: reason,
		})
	}
	c.met.WateringsRejected.WithLabelValues(reason).Inc()
	return &model.Rejection{PlantID: plantID, Reason: reason, Message: message}
}

func holdMessage(reason string, snap model.PlantRecord, now time.Time) string {
	switch reason {
	case model.ReasonCooldown:
		rem := automation.CooldownRemaining(snap, now).Round(time.Second)
		return fmt.Sprintf("cooldown active, retry in %s", rem)
	case model.ReasonDailyCap:
		return fmt.Sprintf("daily cap of %d waterings reached", snap.Config.MaxDailyWaterings)
	case model.ReasonOffline:
		return "device is offline"
	case model.ReasonNoReading:
		return "no fresh moisture reading"
	case model.ReasonQuietHours:
		return fmt.Sprintf("quiet hours %s-%s active", snap.Config.QuietHours.Start, snap.Config.QuietHours.End)
	case model.ReasonMoistureSufficient:
		return "soil moisture already above the configured maximum"
	case model.ReasonMoistureInRange:
		return "soil moisture within the configured range"
	default:
		return "watering rejected: " + reason
	}
}

// Drain waits for all in-flight watering cycles to finish accounting. Used
// on shutdown.
func (c *Coordinator) Drain() { c.wg.Wait() }

var _ automation.Waterer = (*Coordinator)(nil)
