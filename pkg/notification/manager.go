// Package notification delivers rate-limited operator alerts when a
// provider faults or the engine's aggregate state flips, so an operator
// watching the daemon's log isn't flooded by a provider that is
// repeatedly panicking. Cooldowns are enforced with one
// golang.org/x/time/rate limiter per notification key.
package notification

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/starfail/locationengine/pkg/logx"
)

// Priority orders notifications by operator urgency.
type Priority int

const (
	PriorityInfo Priority = iota
	PriorityWarning
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityWarning:
		return "warning"
	case PriorityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Config holds the per-priority cooldown used to build each key's limiter.
type Config struct {
	CriticalCooldown time.Duration
	WarningCooldown  time.Duration
	InfoCooldown     time.Duration
}

// DefaultConfig repeats critical alerts fastest and informational ones
// slowest.
func DefaultConfig() Config {
	return Config{
		CriticalCooldown: 5 * time.Minute,
		WarningCooldown:  time.Hour,
		InfoCooldown:     6 * time.Hour,
	}
}

// Manager delivers notifications through the daemon's structured logger,
// rate-limiting repeats of the same key.
type Manager struct {
	cfg    Config
	log    *logx.Logger
	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

// NewManager constructs a Manager that logs through log.
func NewManager(cfg Config, log *logx.Logger) *Manager {
	return &Manager{cfg: cfg, log: log, limits: make(map[string]*rate.Limiter)}
}

func (m *Manager) limiterFor(key string, priority Priority) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limits[key]; ok {
		return l
	}
	var cooldown time.Duration
	switch priority {
	case PriorityCritical:
		cooldown = m.cfg.CriticalCooldown
	case PriorityWarning:
		cooldown = m.cfg.WarningCooldown
	default:
		cooldown = m.cfg.InfoCooldown
	}
	l := rate.NewLimiter(rate.Every(cooldown), 1)
	m.limits[key] = l
	return l
}

// Notify delivers a notification under key, dropping it silently if key's
// cooldown for priority has not yet elapsed.
func (m *Manager) Notify(key string, priority Priority, title, message string) {
	if !m.limiterFor(key, priority).Allow() {
		m.log.Debug("notification rate limited", "key", key, "priority", priority.String())
		return
	}
	switch priority {
	case PriorityCritical:
		m.log.Error(title, "message", message, "key", key)
	case PriorityWarning:
		m.log.Warn(title, "message", message, "key", key)
	default:
		m.log.Info(title, "message", message, "key", key)
	}
}

// NotifyProviderFault reports a recovered provider panic, keyed per
// provider so a repeatedly panicking provider is throttled independently
// of the others.
func (m *Manager) NotifyProviderFault(providerID string, cause error) {
	m.Notify(fmt.Sprintf("provider-fault:%s", providerID), PriorityCritical,
		"provider fault", cause.Error())
}

// NotifyEngineStateChange reports the engine's aggregate state flipping,
// keyed by the transition itself so on/off flapping is throttled as a
// unit.
func (m *Manager) NotifyEngineStateChange(from, to string) {
	m.Notify(fmt.Sprintf("engine-state:%s->%s", from, to), PriorityInfo,
		"engine state changed", fmt.Sprintf("%s -> %s", from, to))
}
