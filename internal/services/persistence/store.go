// Package persistence is the time-series record of readings and watering
// events. It is downstream of the registry: a failed write is logged and
// counted but never blocks ingestion or reverts a registry state change.
package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/model"
)

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string

	breaker *gobreaker.CircuitBreaker
	met     *metrics.Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	lastErr time.Time
}

func NewStore(cfg Config, met *metrics.Metrics, log *zap.Logger) (*Store, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(20).SetFlushInterval(500))

	s := &Store{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		met:      met,
		log:      log,
		lastErr:  time.Now().Add(-24 * time.Hour),
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "influx-query",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("store breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	// The write API batches asynchronously; failures surface on the error
	// channel and only mark the store degraded.
	go func() {
		for err := range s.writeAPI.Errors() {
			if err == nil {
				continue
			}
			s.mu.Lock()
			s.lastErr = time.Now()
			s.mu.Unlock()
			s.met.StoreWriteErrors.Inc()
			s.log.Error("influx write error", zap.Error(err))
		}
	}()

	return s, nil
}

// WriteSensorPoint queues one reading; fire-and-forget.
func (s *Store) WriteSensorPoint(r model.SensorReading) {
	point := influxdb2.NewPoint("sensor_reading",
		map[string]string{
			"plant_id":    r.PlantID,
			"device_id":   r.DeviceID,
			"sensor_type": string(r.Type),
			"unit":        r.Unit,
		},
		map[string]interface{}{"value": r.Value},
		r.ObservedAt)
	s.writeAPI.WritePoint(point)
}

// WriteWateringEvent queues one watering event; fire-and-forget.
func (s *Store) WriteWateringEvent(evt model.WateringEvent) {
	fields := map[string]interface{}{
		"duration_ms": evt.Duration.Milliseconds(),
		"count":       int64(1),
	}
	if evt.VolumeEstimateML > 0 {
		fields["volume_estimate_ml"] = evt.VolumeEstimateML
	}
	tags := map[string]string{
		"plant_id":     evt.PlantID,
		"trigger_type": string(evt.Trigger),
		"outcome":      string(evt.Outcome),
	}
	if evt.RejectReason != "" {
		tags["reject_reason"] = evt.RejectReason
	}
	point := influxdb2.NewPoint("watering_event", tags, fields, evt.RequestedAt)
	s.writeAPI.WritePoint(point)
}

// QueryRecent returns the readings for one plant inside the window, newest
// first. The circuit breaker sheds load from the dashboard path while the
// store is down.
func (s *Store) QueryRecent(ctx context.Context, plantID string, window time.Duration) ([]model.SensorReading, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.queryRecent(ctx, plantID, window)
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.SensorReading), nil
}

func (s *Store) queryRecent(ctx context.Context, plantID string, window time.Duration) ([]model.SensorReading, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == "sensor_reading" and r.plant_id == %q)
  |> filter(fn: (r) => r._field == "value")
  |> keep(columns: ["_time","_value","sensor_type","unit"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: 500)
`, s.bucket, int(window.Seconds()), plantID)

	res, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer func() { _ = res.Close() }()

	var out []model.SensorReading
	for res.Next() {
		rec := res.Record()
		r := model.SensorReading{
			PlantID:    plantID,
			ObservedAt: rec.Time().UTC(),
			Value:      toFloat(rec.Value()),
		}
		if v, ok := rec.ValueByKey("sensor_type").(string); ok {
			r.Type = model.SensorType(v)
		}
		if v, ok := rec.ValueByKey("unit").(string); ok {
			r.Unit = v
		}
		out = append(out, r)
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("influx iterate: %w", res.Err())
	}
	return out, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return 0
}

// LastWriteErrorAge reports how long the async write path has been clean.
func (s *Store) LastWriteErrorAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastErr)
}

// Close flushes pending writes and shuts the client down.
func (s *Store) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}
