// Package metrics records orchestrator activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives orchestrator events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveTable(d time.Duration)
	ObserveUpdate(types int)
	ObserveLaunch(tasks int, d time.Duration, err error)
	ObserveBestEnergy(ligand string, energy float32)
}

// Nop discards every event.
type Nop struct{}

func (Nop) ObserveTable(time.Duration)              {}
func (Nop) ObserveUpdate(int)                       {}
func (Nop) ObserveLaunch(int, time.Duration, error) {}
func (Nop) ObserveBestEnergy(string, float32)       {}

// Metrics holds the Prometheus collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	TableBuildDuration prometheus.Histogram
	MapUploadsTotal    prometheus.Counter
	LaunchesTotal      *prometheus.CounterVec
	LaunchDuration     prometheus.Histogram
	TasksTotal         prometheus.Counter
	BestEnergy         *prometheus.GaugeVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TableBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcdock_table_build_duration_seconds",
				Help:    "Time spent precalculating the scoring table.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		MapUploadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcdock_map_uploads_total",
				Help: "Grid maps uploaded to the device.",
			},
		),
		LaunchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcdock_launches_total",
				Help: "Search launches by status (ok, error).",
			},
			[]string{"status"},
		),
		LaunchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcdock_launch_duration_seconds",
				Help:    "Wall time of a search launch including readback.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		TasksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcdock_tasks_total",
				Help: "Monte Carlo tasks completed.",
			},
		),
		BestEnergy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcdock_best_energy",
				Help: "Best energy found for a ligand by its last launch.",
			},
			[]string{"ligand"},
		),
	}
	m.registry.MustRegister(
		m.TableBuildDuration,
		m.MapUploadsTotal,
		m.LaunchesTotal,
		m.LaunchDuration,
		m.TasksTotal,
		m.BestEnergy,
	)
	return m
}

func (m *Metrics) ObserveTable(d time.Duration) {
	m.TableBuildDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveUpdate(types int) {
	m.MapUploadsTotal.Add(float64(types))
}

func (m *Metrics) ObserveLaunch(tasks int, d time.Duration, err error) {
	if err != nil {
		m.LaunchesTotal.WithLabelValues("error").Inc()
		return
	}
	m.LaunchesTotal.WithLabelValues("ok").Inc()
	m.LaunchDuration.Observe(d.Seconds())
	m.TasksTotal.Add(float64(tasks))
}

func (m *Metrics) ObserveBestEnergy(ligand string, energy float32) {
	m.BestEnergy.WithLabelValues(ligand).Set(float64(energy))
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
