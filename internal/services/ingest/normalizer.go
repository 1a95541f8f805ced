// Package ingest receives device telemetry, validates it and folds it into
// the registry and the time-series store.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PhilKsr/planetplant-sub001/internal/model"
	"github.com/PhilKsr/planetplant-sub001/internal/model/messages"
)

// ErrParse marks an entirely malformed payload; nothing in it is usable.
var ErrParse = errors.New("telemetry parse error")

// DroppedValue notes one sensor value rejected while the rest of the payload
// was accepted.
type DroppedValue struct {
	Type   model.SensorType
	Value  float64
	Reason string
}

type valueRange struct {
	min, max float64
	unit     string
}

// Physically plausible per-channel bounds. Values outside are sensor noise
// (floating ADC pins, disconnected probes) and are dropped individually.
var plausible = map[model.SensorType]valueRange{
	model.SensorTemperature: {-50, 100, "°C"},
	model.SensorHumidity:    {0, 100, "%"},
	model.SensorMoisture:    {0, 100, "%"},
	model.SensorLight:       {0, 200000, "lx"},
}

// Normalize parses a raw telemetry payload into validated readings. It is a
// pure function: identical input yields identical output, and it performs no
// side effects. Out-of-range values are reported in dropped without failing
// the message; a payload that cannot be parsed at all returns ErrParse.
func Normalize(raw []byte, receivedAt time.Time) (readings []model.SensorReading, dropped []DroppedValue, err error) {
	var p messages.TelemetryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if p.DeviceID == "" {
		return nil, nil, fmt.Errorf("%w: missing device_id", ErrParse)
	}

	observedAt := time.Unix(p.Timestamp, 0).UTC()
	if p.Timestamp <= 0 || observedAt.After(receivedAt.Add(5*time.Minute)) {
		// Device clocks drift or are unset after a reboot; fall back to the
		// server receive time.
		observedAt = receivedAt.UTC()
	}

	consider := func(t model.SensorType, v *float64) {
		if v == nil {
			return
		}
		bounds := plausible[t]
		if *v < bounds.min || *v > bounds.max {
			dropped = append(dropped, DroppedValue{Type: t, Value: *v, Reason: "out_of_range"})
			return
		}
		readings = append(readings, model.SensorReading{
			DeviceID:   p.DeviceID,
			Type:       t,
			Value:      *v,
			Unit:       bounds.unit,
			ObservedAt: observedAt,
			ReceivedAt: receivedAt.UTC(),
		})
	}

	consider(model.SensorTemperature, p.Sensors.Temperature)
	consider(model.SensorHumidity, p.Sensors.Humidity)
	consider(model.SensorMoisture, p.Sensors.Moisture)
	consider(model.SensorLight, p.Sensors.Light)

	return readings, dropped, nil
}
