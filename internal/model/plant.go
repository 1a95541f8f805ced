package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock instant without a date, serialized as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) MinuteOfDay() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// QuietWindow is a daily window during which automatic watering is suppressed.
// The window wraps past midnight when Start > End (e.g. 22:00-06:00).
type QuietWindow struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Contains reports whether the wall-clock minute of t falls inside the window.
func (q QuietWindow) Contains(t time.Time) bool {
	start, end := q.Start.MinuteOfDay(), q.End.MinuteOfDay()
	if start == end {
		return false // zero-length window, disabled
	}
	min := t.Hour()*60 + t.Minute()
	if start < end {
		return min >= start && min < end
	}
	return min >= start || min < end
}

// PlantConfig holds the per-plant watering policy. It is plain data, versioned,
// and mutated only through the registry; evaluators always work on a snapshot.
type PlantConfig struct {
	MoistureMin       float64       `json:"moisture_min"`
	MoistureMax       float64       `json:"moisture_max"`
	TemperatureMin    float64       `json:"temperature_min"`
	TemperatureMax    float64       `json:"temperature_max"`
	WateringDuration  time.Duration `json:"watering_duration_ms"`
	Cooldown          time.Duration `json:"cooldown_ms"`
	MaxDailyWaterings int           `json:"max_daily_waterings"`
	QuietHours        QuietWindow   `json:"quiet_hours"`
	Version           int64         `json:"version"`
}

// ConfigPatch is a partial config update; nil fields are left unchanged.
type ConfigPatch struct {
	MoistureMin       *float64     `json:"moisture_min,omitempty"`
	MoistureMax       *float64     `json:"moisture_max,omitempty"`
	TemperatureMin    *float64     `json:"temperature_min,omitempty"`
	TemperatureMax    *float64     `json:"temperature_max,omitempty"`
	WateringDurationM *int64       `json:"watering_duration_ms,omitempty"`
	CooldownM         *int64       `json:"cooldown_ms,omitempty"`
	MaxDailyWaterings *int         `json:"max_daily_waterings,omitempty"`
	QuietHours        *QuietWindow `json:"quiet_hours,omitempty"`
}

// CurrentReadings is the latest value per sensor channel. A nil pointer means
// the channel has never been reported.
type CurrentReadings struct {
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Moisture    *float64  `json:"moisture,omitempty"`
	Light       *float64  `json:"light,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// DeviceStatus tracks liveness of the sensor/pump unit backing a plant.
type DeviceStatus struct {
	Online       bool      `json:"online"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	BatteryLevel *float64  `json:"battery_level,omitempty"`
}

// WateringState is the per-plant actuator state the control loop depends on.
// InFlight true means a watering is between dispatch and completion and no
// other watering may start for this plant.
type WateringState struct {
	LastWateringStartedAt time.Time `json:"last_watering_started_at"`
	LastWateringEndedAt   time.Time `json:"last_watering_ended_at"`
	WateringsToday        int       `json:"waterings_today"`
	ResetDay              time.Time `json:"reset_day"` // UTC midnight the counter belongs to
	InFlight              bool      `json:"in_flight"`
}

// PlantRecord is the authoritative state for one plant/device pairing.
// The registry owns it; everyone else sees value copies via Snapshot.
type PlantRecord struct {
	PlantID   string           `json:"plant_id"`
	DeviceID  string           `json:"device_id"`
	Config    PlantConfig      `json:"config"`
	Readings  *CurrentReadings `json:"readings,omitempty"`
	Status    DeviceStatus     `json:"status"`
	Watering  WateringState    `json:"watering"`
	CreatedAt time.Time        `json:"created_at"`
}
