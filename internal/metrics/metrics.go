// Package metrics registers the server's Prometheus collectors. All metrics
// live on a dedicated registry so tests can build isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ReadingsIngested  *prometheus.CounterVec // sensor_type
	ReadingsRejected  *prometheus.CounterVec // reason
	WateringsTotal    *prometheus.CounterVec // trigger, outcome
	WateringsRejected *prometheus.CounterVec // reason
	PlantsOnline      prometheus.Gauge
	WateringsInFlight prometheus.Gauge
	StoreWriteErrors  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		ReadingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planetplant_readings_ingested_total",
			Help: "Validated sensor readings applied to the registry.",
		}, []string{"sensor_type"}),
		ReadingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planetplant_readings_rejected_total",
			Help: "Sensor values dropped by the normalizer.",
		}, []string{"reason"}),
		WateringsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planetplant_waterings_total",
			Help: "Watering attempts by trigger and terminal outcome.",
		}, []string{"trigger", "outcome"}),
		WateringsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planetplant_waterings_rejected_total",
			Help: "Watering requests refused by policy.",
		}, []string{"reason"}),
		PlantsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planetplant_plants_online",
			Help: "Plants whose device heartbeat is fresh.",
		}),
		WateringsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planetplant_waterings_in_flight",
			Help: "Waterings between dispatch and completion.",
		}),
		StoreWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planetplant_store_write_errors_total",
			Help: "Asynchronous time-series write failures.",
		}),
	}

	reg.MustRegister(
		m.ReadingsIngested, m.ReadingsRejected,
		m.WateringsTotal, m.WateringsRejected,
		m.PlantsOnline, m.WateringsInFlight,
		m.StoreWriteErrors,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
