// Package metrics exposes Prometheus metrics for the poller.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Provider owns a private registry plus the streamvis collectors.
type Provider struct {
	reg *prometheus.Registry

	polls          *prometheus.CounterVec
	updates        *prometheus.CounterVec
	backendLatency *prometheus.GaugeVec
	pollsPerUpdate *prometheus.GaugeVec
}

// Init builds the provider with go/process collectors registered.
func Init() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Provider{
		reg: reg,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvis_polls_total",
			Help: "Upstream polls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamvis_updates_total",
			Help: "Genuinely new observations ingested per gauge.",
		}, []string{"gauge"}),
		backendLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamvis_backend_latency_ms",
			Help: "EWMA request latency per backend, milliseconds.",
		}, []string{"backend"}),
		pollsPerUpdate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamvis_polls_per_update",
			Help: "EWMA of polls spent per new observation, per gauge.",
		}, []string{"gauge"}),
	}
	reg.MustRegister(p.polls, p.updates, p.backendLatency, p.pollsPerUpdate)
	return p
}

// ObservePoll records one poll outcome ("ok" or "error").
func (p *Provider) ObservePoll(backend, outcome string) {
	if p == nil {
		return
	}
	p.polls.WithLabelValues(backend, outcome).Inc()
}

// ObserveUpdate records one new observation for a gauge.
func (p *Provider) ObserveUpdate(gauge string) {
	if p == nil {
		return
	}
	p.updates.WithLabelValues(gauge).Inc()
}

// SetBackendLatency publishes a backend's EWMA latency.
func (p *Provider) SetBackendLatency(backend string, ms float64) {
	if p == nil {
		return
	}
	p.backendLatency.WithLabelValues(backend).Set(ms)
}

// SetPollsPerUpdate publishes a gauge's polls-per-update estimate.
func (p *Provider) SetPollsPerUpdate(gauge string, v float64) {
	if p == nil {
		return
	}
	p.pollsPerUpdate.WithLabelValues(gauge).Set(v)
}

// Handler serves the private registry.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Serve runs the metrics listener until ctx is canceled. A chi mux exposes
// /metrics and /healthz.
func (p *Provider) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := chi.NewRouter()
	mux.Handle("/metrics", p.Handler())
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
