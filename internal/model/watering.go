package model

import (
	"fmt"
	"time"
)

// TriggerType distinguishes operator-initiated waterings from automation ticks.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAutomatic TriggerType = "automatic"
)

// Outcome is the terminal state of a watering attempt.
type Outcome string

const (
	OutcomeStarted      Outcome = "started"
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeTimedOut     Outcome = "timedOut"
	OutcomeRejected     Outcome = "rejected"
)

// Decision reasons, ordered the way the policy evaluates them.
const (
	ReasonOffline            = "offline"
	ReasonNoReading          = "no_reading"
	ReasonInFlight           = "in_flight"
	ReasonCooldown           = "cooldown"
	ReasonDailyCap           = "daily_cap"
	ReasonQuietHours         = "quiet_hours"
	ReasonMoistureSufficient = "moisture_sufficient"
	ReasonMoistureLow        = "moisture_low"
	ReasonMoistureInRange    = "moisture_in_range"
	ReasonManualRequest      = "manual_request"

	// Coordinator-level rejection reasons outside the policy table.
	ReasonAlreadyWatering = "already_watering"
	ReasonDispatchFailed  = "dispatch_failed"
	ReasonInvalidDuration = "invalid_duration"
	ReasonUnknownPlant    = "unknown_plant"
)

// Action is what the decision engine tells the coordinator to do.
type Action string

const (
	ActionWater Action = "water"
	ActionHold  Action = "hold"
)

// WateringDecision is the ephemeral output of the decision engine. It is
// consumed immediately by the coordinator and never persisted.
type WateringDecision struct {
	PlantID     string
	Action      Action
	Reason      string
	EvaluatedAt time.Time
}

// WateringTicket is returned to a caller whose request passed the gate.
type WateringTicket struct {
	ID         string        `json:"id"`
	PlantID    string        `json:"plant_id"`
	Trigger    TriggerType   `json:"trigger"`
	Duration   time.Duration `json:"duration_ms"`
	AcceptedAt time.Time     `json:"accepted_at"`
}

// WateringEvent records an attempted or completed watering. Append-only;
// forwarded to the time-series store and never mutated afterwards.
type WateringEvent struct {
	ID               string        `json:"id"`
	PlantID          string        `json:"plant_id"`
	Trigger          TriggerType   `json:"trigger_type"`
	RequestedAt      time.Time     `json:"requested_at"`
	Duration         time.Duration `json:"duration_ms"`
	Outcome          Outcome       `json:"outcome"`
	RejectReason     string        `json:"reject_reason,omitempty"`
	VolumeEstimateML float64       `json:"volume_estimate_ml,omitempty"`
}

// Rejection is a policy refusal, not a failure: it carries a machine-readable
// reason plus a human-readable message for manual callers.
type Rejection struct {
	PlantID string `json:"plant_id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("watering rejected for %s: %s", r.PlantID, r.Reason)
}
