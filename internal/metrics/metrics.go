package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiogene"

// Recorder owns the performance's Prometheus collectors on a private
// registry, so several performances can run in one process.
type Recorder struct {
	registry *prometheus.Registry

	generations       prometheus.Counter
	staleGenerations  prometheus.Counter
	preferenceUpdates *prometheus.CounterVec
	sendErrors        prometheus.Counter
	bestFitness       prometheus.Gauge
	meanFitness       prometheus.Gauge
	generation        prometheus.Gauge
	generationSeconds prometheus.Histogram
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		generations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generations bred since the performance started.",
		}),
		staleGenerations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_generations_total",
			Help:      "Generations ranked without fresh audience preferences.",
		}),
		preferenceUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_updates_total",
			Help:      "Audience preference changes by attribute.",
		}, []string{"attribute"}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conductor_send_errors_total",
			Help:      "Conductors the sound engine could not be sent.",
		}),
		bestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Fitness of the current conductor.",
		}),
		meanFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_fitness",
			Help:      "Mean fitness of the current population.",
		}),
		generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Current generation number.",
		}),
		generationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent advancing one generation, including the preference wait.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (r *Recorder) ObserveGeneration(generation int, best, mean float64, stale bool, took time.Duration) {
	r.generations.Inc()
	if stale {
		r.staleGenerations.Inc()
	}
	r.generation.Set(float64(generation))
	r.bestFitness.Set(best)
	r.meanFitness.Set(mean)
	r.generationSeconds.Observe(took.Seconds())
}

func (r *Recorder) PreferenceUpdated(attribute string) {
	r.preferenceUpdates.WithLabelValues(attribute).Inc()
}

func (r *Recorder) ConductorSendFailed() {
	r.sendErrors.Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	return r.serve(ctx, listener)
}

func (r *Recorder) serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
