package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
	"github.com/PhilKsr/planetplant-sub001/internal/model/messages"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
	"github.com/PhilKsr/planetplant-sub001/pkg/dedup"
)

// PointWriter receives validated readings for the time-series record. Writes
// are fire-and-forget: a storage failure never blocks ingestion.
type PointWriter interface {
	WriteSensorPoint(reading model.SensorReading)
}

// Service is the MQTT ingestion path: dedup, normalize, registry update,
// store write, live event.
type Service struct {
	reg   *registry.Registry
	store PointWriter
	bus   *events.Bus
	met   *metrics.Metrics
	dedup *dedup.Deduper
	log   *zap.Logger
	now   func() time.Time
}

func NewService(reg *registry.Registry, store PointWriter, bus *events.Bus, met *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		reg:   reg,
		store: store,
		bus:   bus,
		met:   met,
		dedup: dedup.New(10*time.Minute, 20000),
		log:   log,
		now:   time.Now,
	}
}

// Handle routes inbound device messages. Wired as the handler of the
// consumer subscribed to sensors/+/data and devices/+/heartbeat.
func (s *Service) Handle(_ string, msg mqtt.Message) error {
	// Telemetry is published at QoS1; drop at-least-once redeliveries
	// before doing anything else.
	if !s.dedup.ShouldProcess(dedup.Key(append([]byte(msg.Topic()+"\x00"), msg.Payload()...))) {
		return nil
	}

	topic := msg.Topic()
	switch {
	case strings.HasPrefix(topic, "sensors/") && strings.HasSuffix(topic, "/data"):
		return s.handleTelemetry(topic, msg.Payload())
	case strings.HasPrefix(topic, "devices/") && strings.HasSuffix(topic, "/heartbeat"):
		return s.handleHeartbeat(topic, msg.Payload())
	default:
		return nil // not ours
	}
}

func (s *Service) handleTelemetry(topic string, payload []byte) error {
	receivedAt := s.now()

	readings, dropped, err := Normalize(payload, receivedAt)
	if err != nil {
		// Noisy embedded clients are expected; log and move on.
		s.met.ReadingsRejected.WithLabelValues("parse_error").Inc()
		s.log.Warn("malformed telemetry", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	for _, d := range dropped {
		s.met.ReadingsRejected.WithLabelValues(d.Reason).Inc()
		s.log.Warn("sensor value dropped",
			zap.String("topic", topic),
			zap.String("sensor_type", string(d.Type)),
			zap.Float64("value", d.Value),
			zap.String("reason", d.Reason))
	}
	if len(readings) == 0 {
		return nil
	}

	deviceID := readings[0].DeviceID
	if id := deviceFromTopic(topic); id != "" && id != deviceID {
		s.log.Warn("device_id mismatch between topic and payload",
			zap.String("topic", topic), zap.String("payload_device", deviceID))
		deviceID = id
	}
	plantID := s.reg.ResolvePlantByDevice(deviceID)

	cameOnline := false
	for i := range readings {
		readings[i].PlantID = plantID
		changed, err := s.reg.ApplyReading(plantID, readings[i])
		if err != nil {
			s.log.Error("apply reading failed", zap.String("plant_id", plantID), zap.Error(err))
			continue
		}
		cameOnline = cameOnline || changed
		s.met.ReadingsIngested.WithLabelValues(string(readings[i].Type)).Inc()
		s.store.WriteSensorPoint(readings[i])
	}
	if cameOnline {
		s.met.PlantsOnline.Inc()
	}

	if snap, err := s.reg.Snapshot(plantID); err == nil {
		s.bus.Publish(events.Event{Type: events.TypePlantUpdated, PlantID: plantID, Payload: snap})
	}
	return nil
}

func (s *Service) handleHeartbeat(topic string, payload []byte) error {
	var hb messages.HeartbeatPayload
	if err := json.Unmarshal(payload, &hb); err != nil {
		s.log.Warn("malformed heartbeat", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	if hb.Battery != nil && (*hb.Battery < 0 || *hb.Battery > 100) {
		s.met.ReadingsRejected.WithLabelValues("out_of_range").Inc()
		hb.Battery = nil
	}
	deviceID := hb.DeviceID
	if deviceID == "" {
		deviceID = deviceFromTopic(topic)
	}
	if deviceID == "" {
		return errors.New("heartbeat without device id")
	}

	plantID := s.reg.ResolvePlantByDevice(deviceID)
	changed, err := s.reg.MarkOnline(plantID, s.now(), hb.Battery)
	if err != nil {
		return err
	}
	if changed {
		s.met.PlantsOnline.Inc()
		s.log.Info("plant online", zap.String("plant_id", plantID))
		if snap, err := s.reg.Snapshot(plantID); err == nil {
			s.bus.Publish(events.Event{Type: events.TypePlantUpdated, PlantID: plantID, Payload: snap})
		}
	}
	return nil
}

// deviceFromTopic extracts the id segment from sensors/{id}/data and
// devices/{id}/heartbeat.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}
