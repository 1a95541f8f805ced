package model

import "time"

// SensorType identifies a telemetry channel reported by a device.
type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorMoisture    SensorType = "moisture"
	SensorLight       SensorType = "light"
)

// SensorReading is one validated measurement. Immutable once created.
type SensorReading struct {
	PlantID    string     `json:"plant_id"`
	DeviceID   string     `json:"device_id"`
	Type       SensorType `json:"sensor_type"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	ObservedAt time.Time  `json:"observed_at"`
	ReceivedAt time.Time  `json:"received_at"`
}
