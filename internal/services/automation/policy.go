// Package automation holds the watering policy and the periodic sweep that
// applies it to every plant.
package automation

import (
	"time"

	"github.com/PhilKsr/planetplant-sub001/internal/model"
)

// Engine evaluates registry snapshots against the watering policy. It is
// pure: no side effects, deterministic given the snapshot and clock.
type Engine struct {
	// Staleness is the maximum age of the latest reading before a plant is
	// considered blind.
	Staleness time.Duration
	// QuietClock is the wall clock used for the quiet-hours window.
	QuietClock *time.Location
}

func NewEngine(staleness time.Duration, quietClock *time.Location) *Engine {
	if quietClock == nil {
		quietClock = time.UTC
	}
	return &Engine{Staleness: staleness, QuietClock: quietClock}
}

// Evaluate runs the policy rules in order; the first applicable reason wins.
//
// Manual triggers bypass quiet hours and the moisture thresholds (an explicit
// operator request waters regardless of how wet the soil reads) but never the
// safety gates: offline, stale, in-flight, cooldown and the daily cap hold
// for every trigger.
//
// ownGate is set by a caller that has already won the in-flight gate for this
// attempt: the in-flight rule is skipped and the tentative daily-cap
// increment from BeginWatering is not counted against the attempt itself.
func (e *Engine) Evaluate(rec model.PlantRecord, now time.Time, trigger model.TriggerType, ownGate bool) model.WateringDecision {
	hold := func(reason string) model.WateringDecision {
		return model.WateringDecision{PlantID: rec.PlantID, Action: model.ActionHold, Reason: reason, EvaluatedAt: now}
	}
	water := func(reason string) model.WateringDecision {
		return model.WateringDecision{PlantID: rec.PlantID, Action: model.ActionWater, Reason: reason, EvaluatedAt: now}
	}

	if !rec.Status.Online {
		return hold(model.ReasonOffline)
	}

	if rec.Readings == nil || rec.Readings.Moisture == nil || now.Sub(rec.Readings.ObservedAt) > e.Staleness {
		return hold(model.ReasonNoReading)
	}

	if rec.Watering.InFlight && !ownGate {
		return hold(model.ReasonInFlight)
	}

	if ended := rec.Watering.LastWateringEndedAt; !ended.IsZero() && now.Sub(ended) < rec.Config.Cooldown {
		return hold(model.ReasonCooldown)
	}

	if dailyCount(rec, now, ownGate) >= rec.Config.MaxDailyWaterings {
		return hold(model.ReasonDailyCap)
	}

	if trigger == model.TriggerManual {
		return water(model.ReasonManualRequest)
	}

	if rec.Config.QuietHours.Contains(now.In(e.QuietClock)) {
		return hold(model.ReasonQuietHours)
	}

	moisture := *rec.Readings.Moisture
	switch {
	case moisture >= rec.Config.MoistureMax:
		return hold(model.ReasonMoistureSufficient)
	case moisture < rec.Config.MoistureMin:
		return water(model.ReasonMoistureLow)
	default:
		return hold(model.ReasonMoistureInRange)
	}
}

// dailyCount normalizes the tentative counter from the snapshot: counts from
// a previous UTC day are void, and when the caller owns the in-flight gate
// its own tentative increment is excluded.
func dailyCount(rec model.PlantRecord, now time.Time, ownGate bool) int {
	u := now.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	if !rec.Watering.ResetDay.Equal(day) {
		return 0
	}
	n := rec.Watering.WateringsToday
	if ownGate && rec.Watering.InFlight {
		n--
	}
	if n < 0 {
		n = 0
	}
	return n
}

// CooldownRemaining reports how long the cooldown hold lasts, for
// human-readable rejection messages. Zero when no cooldown is active.
func CooldownRemaining(rec model.PlantRecord, now time.Time) time.Duration {
	ended := rec.Watering.LastWateringEndedAt
	if ended.IsZero() {
		return 0
	}
	if rem := rec.Config.Cooldown - now.Sub(ended); rem > 0 {
		return rem
	}
	return 0
}
