// Package metrics exposes the daemon's operational state as Prometheus
// gauges and counters: the engine's aggregate engine_state, every
// registered provider's state-machine position, and the update policy's
// accept/reject decisions per stream.
//
// The Server owns a private *prometheus.Registry rather than registering
// against the global prometheus.DefaultRegisterer, so more than one
// instance (as in tests) never collides on duplicate metric names.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starfail/locationengine/pkg/engine"
	"github.com/starfail/locationengine/pkg/logx"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/providerstate"
)

// Config holds metrics server configuration.
type Config struct {
	Addr         string
	PollInterval time.Duration
}

// DefaultConfig picks this daemon's conventional metrics port, with a
// poll period for the provider-state gauges that have no push-style hook
// into the engine.
func DefaultConfig() Config {
	return Config{Addr: ":9110", PollInterval: 10 * time.Second}
}

// Server exposes engine and provider-table state as Prometheus metrics.
type Server struct {
	cfg Config
	log *logx.Logger

	registry *prometheus.Registry
	server   *http.Server

	cancel context.CancelFunc

	engineState     prometheus.Gauge
	providerState   *prometheus.GaugeVec
	updateDecisions *prometheus.CounterVec
}

// NewServer constructs a Server with its own metric registry.
func NewServer(cfg Config, log *logx.Logger) *Server {
	if log == nil {
		log = logx.New("info")
	}
	s := &Server{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	s.registerMetrics()
	return s
}

func (s *Server) registerMetrics() {
	s.engineState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "locationengine_engine_state",
		Help: "Current engine_state (0=off, 1=on, 2=active)",
	})

	s.providerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locationengine_provider_state",
			Help: "Current provider state (0=disabled, 1=enabled, 2=active)",
		},
		[]string{"provider"},
	)

	s.updateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationengine_update_decisions_total",
			Help: "Total update policy decisions per stream and outcome",
		},
		[]string{"stream", "outcome"},
	)

	s.registry.MustRegister(s.engineState, s.providerState, s.updateDecisions)
}

// Subscribe wires e's engine_state changes and update policy decisions
// onto the Server's metrics, and starts a background poll of the
// provider table (the provider table has no add/remove notification, so
// per-provider state is sampled rather than pushed). Returns a stop
// function that halts the poll goroutine; it does not unregister
// metrics or stop the HTTP server.
func (s *Server) Subscribe(e *engine.Engine) func() {
	e.OnEngineStateChange(func(st engine.EngineState) {
		s.engineState.Set(engineStateValue(st))
	})
	s.engineState.Set(engineStateValue(e.EngineState()))

	e.Policy().SetObserver(func(stream string, accepted bool) {
		outcome := "rejected"
		if accepted {
			outcome = "accepted"
		}
		s.updateDecisions.WithLabelValues(stream, outcome).Inc()
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pollProviderStates(ctx, e)
	return cancel
}

func (s *Server) pollProviderStates(ctx context.Context, e *engine.Engine) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sample := func() {
		e.ForEachProvider(func(name string, w *providerstate.Wrapper) {
			s.providerState.WithLabelValues(name).Set(providerStateValue(w.State().Get()))
		})
	}
	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func engineStateValue(s engine.EngineState) float64 {
	switch s {
	case engine.EngineStateOff:
		return 0
	case engine.EngineStateActive:
		return 2
	default:
		return 1
	}
}

func providerStateValue(s provider.State) float64 {
	switch s {
	case provider.StateDisabled:
		return 0
	case provider.StateActive:
		return 2
	default:
		return 1
	}
}

// Start begins serving /metrics and /health over HTTP. Non-blocking: the
// listener runs in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	s.log.Info("starting metrics server", "addr", s.cfg.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server error", "error", err.Error())
		}
	}()
	return nil
}

// Stop shuts down the HTTP server and halts the provider-state poll.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().Format(time.RFC3339))
}

// Registry returns the Server's private metric registry, exported for
// tests that want to scrape gauge/counter values directly without an
// HTTP round trip.
func (s *Server) Registry() *prometheus.Registry { return s.registry }
