// Package sim emulates an ESP32 plant node against a real broker: it
// publishes drifting telemetry, answers water commands with acks and raises
// its moisture while the virtual pump runs. Used for end-to-end testing of
// the control loop without hardware.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/model/messages"
	"github.com/PhilKsr/planetplant-sub001/pkg/mqttbus"
)

const (
	dryPerMin   = 0.15 // moisture % lost per minute
	gainPerSec  = 0.8  // moisture % gained per second of watering
	reportEvery = 30 * time.Second
)

type Device struct {
	id  string
	pub mqttbus.IPublisher
	log *zap.Logger

	mu         sync.Mutex
	moisture   float64
	pumpUntil  time.Time
	lastUpdate time.Time
}

func NewDevice(id string, pub mqttbus.IPublisher, log *zap.Logger) *Device {
	return &Device{
		id:         id,
		pub:        pub,
		log:        log,
		moisture:   25 + rand.Float64()*40,
		lastUpdate: time.Now(),
	}
}

// HandleCommand reacts to commands/{id}/water: ack immediately, then run the
// virtual pump for the requested duration.
func (d *Device) HandleCommand(_ string, msg mqtt.Message) error {
	var cmd messages.WaterCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return err
	}
	if cmd.Action != "start" {
		return nil
	}

	status := "ok"
	d.mu.Lock()
	if time.Now().Before(d.pumpUntil) {
		status = "busy"
	} else {
		d.pumpUntil = time.Now().Add(time.Duration(cmd.DurationMS) * time.Millisecond)
	}
	d.mu.Unlock()

	ack := messages.CommandAck{DeviceID: d.id, TicketID: cmd.TicketID, Status: status}
	payload, _ := json.Marshal(ack)
	if err := d.pub.Publish(fmt.Sprintf("commands/%s/ack", d.id), 1, false, payload); err != nil {
		return err
	}
	d.log.Info("water command handled",
		zap.String("device_id", d.id), zap.String("ticket_id", cmd.TicketID), zap.String("status", status))
	return nil
}

// Run publishes telemetry and heartbeats until ctx is cancelled.
func (d *Device) Run(ctx context.Context) {
	ticker := time.NewTicker(reportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.publishTelemetry()
			d.publishHeartbeat()
		}
	}
}

func (d *Device) publishTelemetry() {
	moisture := d.step()
	temp := 18 + 6*rand.Float64()
	hum := 40 + 20*rand.Float64()
	light := math.Max(0, 500+400*rand.NormFloat64())

	p := messages.TelemetryPayload{
		DeviceID:  d.id,
		Timestamp: time.Now().Unix(),
		Sensors: messages.SensorsObject{
			Temperature: &temp,
			Humidity:    &hum,
			Moisture:    &moisture,
			Light:       &light,
		},
	}
	payload, _ := json.Marshal(p)
	if err := d.pub.Publish(fmt.Sprintf("sensors/%s/data", d.id), 1, false, payload); err != nil {
		d.log.Warn("telemetry publish failed", zap.Error(err))
	}
}

func (d *Device) publishHeartbeat() {
	battery := 80.0
	hb := messages.HeartbeatPayload{DeviceID: d.id, Timestamp: time.Now().Unix(), Battery: &battery}
	payload, _ := json.Marshal(hb)
	if err := d.pub.Publish(fmt.Sprintf("devices/%s/heartbeat", d.id), 0, false, payload); err != nil {
		d.log.Warn("heartbeat publish failed", zap.Error(err))
	}
}

// step advances the soil model: slow drying, fast gain while the pump runs.
func (d *Device) step() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(d.lastUpdate)
	d.lastUpdate = now

	d.moisture -= dryPerMin * elapsed.Minutes()
	// Pump overlap with the elapsed interval.
	if d.pumpUntil.After(now.Add(-elapsed)) {
		end := d.pumpUntil
		if end.After(now) {
			end = now
		}
		if on := end.Sub(now.Add(-elapsed)).Seconds(); on > 0 {
			d.moisture += gainPerSec * on
		}
	}
	d.moisture = math.Max(0, math.Min(100, d.moisture))
	return math.Round(d.moisture*10) / 10
}
