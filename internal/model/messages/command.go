package messages

// WaterCommand is published on commands/{deviceId}/water. There is no stop
// or cancel action in the device protocol; a started watering always runs
// its full duration on the device.
type WaterCommand struct {
	Action     string `json:"action"` // only "start" is defined
	DurationMS int64  `json:"duration_ms"`
	TicketID   string `json:"ticket_id"`
}

// ConfigCommand pushes updated reporting settings to a device on
// commands/{deviceId}/config.
type ConfigCommand struct {
	ReportIntervalS int64 `json:"report_interval_s,omitempty"`
	ConfigVersion   int64 `json:"config_version"`
}

// CommandAck is the device's acknowledgement on commands/{deviceId}/ack.
type CommandAck struct {
	DeviceID string `json:"device_id"`
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"` // "ok" | "busy" | "error"
	Message  string `json:"message,omitempty"`
}
