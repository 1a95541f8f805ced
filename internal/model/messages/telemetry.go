package messages

// TelemetryPayload is the device → server message published on
// sensors/{deviceId}/data. All sensor channels are optional; each value is
// validated independently by the normalizer.
type TelemetryPayload struct {
	DeviceID  string        `json:"device_id"`
	Timestamp int64         `json:"timestamp"` // device-local unix seconds
	Sensors   SensorsObject `json:"sensors"`
}

type SensorsObject struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Moisture    *float64 `json:"moisture,omitempty"`
	Light       *float64 `json:"light,omitempty"`
}

// HeartbeatPayload is published on devices/{deviceId}/heartbeat.
type HeartbeatPayload struct {
	DeviceID  string   `json:"device_id"`
	Timestamp int64    `json:"timestamp"`
	Battery   *float64 `json:"battery,omitempty"` // percent
	FirmwareV string   `json:"firmware_version,omitempty"`
	RSSI      *int     `json:"rssi,omitempty"`
}
