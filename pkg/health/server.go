// Package health exposes HTTP liveness, readiness and detailed status
// endpoints for the daemon: /health, /health/detailed, /health/ready and
// /health/live.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/starfail/locationengine/pkg/engine"
	"github.com/starfail/locationengine/pkg/logx"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/providerstate"
)

// Server provides health check endpoints for the daemon.
type Server struct {
	engine    *engine.Engine
	logger    *logx.Logger
	server    *http.Server
	startTime time.Time
	version   string
}

// Status is the top-level health document.
type Status struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Uptime      time.Duration    `json:"uptime"`
	Version     string           `json:"version"`
	EngineState string           `json:"engine_state"`
	Providers   []ProviderHealth `json:"providers,omitempty"`
	Statistics  *Statistics      `json:"statistics,omitempty"`
	Memory      *MemoryInfo      `json:"memory,omitempty"`
}

// ProviderHealth reports one provider's current state.
type ProviderHealth struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Active bool   `json:"active"`
}

// Statistics summarizes the provider table.
type Statistics struct {
	TotalProviders  int `json:"total_providers"`
	ActiveProviders int `json:"active_providers"`
}

// MemoryInfo mirrors runtime.MemStats fields relevant to an operator.
type MemoryInfo struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
	NumGC     uint32 `json:"num_gc"`
}

// NewServer constructs a Server reporting on e's state.
func NewServer(e *engine.Engine, version string, logger *logx.Logger) *Server {
	if logger == nil {
		logger = logx.New("info")
	}
	if version == "" {
		version = "dev"
	}
	return &Server{engine: e, logger: logger, startTime: time.Now(), version: version}
}

// Start begins serving the health endpoints on addr. Non-blocking.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/health/detailed", s.detailedHandler)
	mux.HandleFunc("/health/ready", s.readyHandler)
	mux.HandleFunc("/health/live", s.liveHandler)

	s.server = &http.Server{Addr: addr, Handler: mux}

	s.logger.Info("starting health server", "addr", addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", "error", err.Error())
		}
	}()
	return nil
}

// Stop shuts down the health server.
func (s *Server) Stop() error {
	s.logger.Info("stopping health server")
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := s.basicStatus()
	writeJSON(w, status, statusCode(status))
}

func (s *Server) detailedHandler(w http.ResponseWriter, r *http.Request) {
	status := s.basicStatus()
	status.Providers = s.providerHealth()
	stats := s.statistics(status.Providers)
	status.Statistics = &stats
	mem := s.memoryInfo()
	status.Memory = &mem
	writeJSON(w, status, http.StatusOK)
}

// readyHandler reports readiness: the engine is considered ready once
// engine_state is anything but off, since "on" and "active" both mean the
// engine is prepared to serve position queries.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready := s.engine.EngineState() != engine.EngineStateOff
	if ready {
		writeJSON(w, map[string]string{"status": "ready"}, http.StatusOK)
		return
	}
	writeJSON(w, map[string]string{"status": "not ready"}, http.StatusServiceUnavailable)
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "alive"}, http.StatusOK)
}

func (s *Server) basicStatus() Status {
	return Status{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startTime),
		Version:     s.version,
		EngineState: s.engine.EngineState().String(),
	}
}

func statusCode(s Status) int {
	if s.Status == "healthy" {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// providerHealth reports each registered provider's current state.
// ForEachProvider invokes its callback concurrently, so appends are
// guarded by mu.
func (s *Server) providerHealth() []ProviderHealth {
	var mu sync.Mutex
	var out []ProviderHealth
	s.engine.ForEachProvider(func(name string, w *providerstate.Wrapper) {
		st := w.State().Get()
		health := ProviderHealth{
			Name:   name,
			State:  st.String(),
			Active: st == provider.StateActive,
		}
		mu.Lock()
		out = append(out, health)
		mu.Unlock()
	})
	return out
}

func (s *Server) statistics(providers []ProviderHealth) Statistics {
	stats := Statistics{TotalProviders: len(providers)}
	for _, p := range providers {
		if p.Active {
			stats.ActiveProviders++
		}
	}
	return stats
}

func (s *Server) memoryInfo() MemoryInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryInfo{Alloc: m.Alloc, Sys: m.Sys, HeapAlloc: m.HeapAlloc, NumGC: m.NumGC}
}

func writeJSON(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
