// Package metrics records surrogate build and prediction statistics in a
// private prometheus registry, for dumping as a node-exporter textfile at the
// end of a run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thalesfsp/mgp"
)

// Metrics holds every collector of one run.
type Metrics struct {
	registry *prometheus.Registry

	// Build metrics
	BatchesTotal   *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
	GridNodes      *prometheus.GaugeVec
	BuildDuration  prometheus.Gauge
	Interactions   prometheus.Gauge
	TrainingLabels *prometheus.GaugeVec

	// Prediction metrics
	PredictionsTotal   prometheus.Counter
	PredictionDuration prometheus.Histogram
}

// New creates and registers all collectors in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mgp_build_batches_total",
				Help: "Kernel-vector batches assembled, by interaction and training subset",
			},
			[]string{"interaction", "subset"},
		),
		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mgp_build_batch_duration_seconds",
				Help:    "Time to assemble one kernel-vector batch",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 60},
			},
			[]string{"subset"},
		),
		GridNodes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mgp_grid_nodes",
				Help: "Grid nodes per interaction",
			},
			[]string{"interaction"},
		),
		BuildDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mgp_build_duration_seconds",
			Help: "Wall time of the last surrogate build",
		}),
		Interactions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mgp_interactions",
			Help: "Interaction maps owned by the surrogate",
		}),
		TrainingLabels: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mgp_training_labels",
				Help: "Training labels by kind",
			},
			[]string{"kind"},
		),
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mgp_predictions_total",
			Help: "Mapped predictions served",
		}),
		PredictionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mgp_prediction_duration_seconds",
			Help:    "Time per mapped prediction",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
	}
}

// Observe records one progress update.
func (m *Metrics) Observe(p mgp.BuildProgress) {
	key := p.Key.String()

	m.BatchesTotal.WithLabelValues(key, p.Subset.String()).Inc()
	m.BatchDuration.WithLabelValues(p.Subset.String()).Observe(p.Elapsed.Seconds())
	m.GridNodes.WithLabelValues(key).Set(float64(p.Nodes))
}

// Consume observes every update from ch until it is closed. The returned
// channel is closed once ch is drained.
func (m *Metrics) Consume(ch <-chan mgp.BuildProgress) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		for p := range ch {
			m.Observe(p)
		}
	}()

	return done
}

// ObserveBuild records a completed build.
func (m *Metrics) ObserveBuild(elapsed time.Duration, interactions, forces, energies int) {
	m.BuildDuration.Set(elapsed.Seconds())
	m.Interactions.Set(float64(interactions))
	m.TrainingLabels.WithLabelValues("force").Set(float64(forces))
	m.TrainingLabels.WithLabelValues("energy").Set(float64(energies))
}

// ObservePrediction records one mapped prediction.
func (m *Metrics) ObservePrediction(elapsed time.Duration) {
	m.PredictionsTotal.Inc()
	m.PredictionDuration.Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes every metric to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}

	return nil
}
