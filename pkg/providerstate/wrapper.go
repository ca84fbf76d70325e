// Package providerstate implements the state-tracking adapter the engine
// places around every provider. It enforces the provider lifecycle
// (disabled/enabled/active, reached via enable/disable and counted
// start/stop of each update stream) and publishes transitions on an
// observable cell so the engine can recompute its own aggregate state.
package providerstate

import (
	"sync"

	"github.com/google/uuid"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
)

// Wrapper enforces the provider state machine around an inner provider.
// No raw provider reference escapes the engine: callers only ever see a
// *Wrapper.
//
// The counters are guarded by mu, but mu is never held while calling into
// the inner provider: a provider's Activate/Deactivate/Enable/Disable is
// permitted to synchronously re-enter the wrapper (e.g. emitting an update
// from within Activate), and holding the lock across that call would
// deadlock.
type Wrapper struct {
	inner provider.Provider

	mu            sync.Mutex
	state         *cell.Cell[provider.State]
	positionCount int
	headingCount  int
	velocityCount int
	permitEnabled bool
}

// Wrap constructs a Wrapper around p, initialized in the "enabled" state.
func Wrap(p provider.Provider) *Wrapper {
	return &Wrapper{
		inner:         p,
		state:         cell.NewCell(provider.StateEnabled),
		permitEnabled: true,
	}
}

// State returns the observable state cell.
func (w *Wrapper) State() *cell.Cell[provider.State] { return w.state }

// Inner returns the wrapped provider. Exported only for composition by
// pkg/fusion, which operates on the Provider contract
// directly; the engine's own table never hands this back out to clients.
func (w *Wrapper) Inner() provider.Provider { return w.inner }

func (w *Wrapper) setState(s provider.State) {
	w.state.Set(s, func(old, new provider.State) bool { return old != new })
}

// Enable permits the provider to do work. Idempotent.
func (w *Wrapper) Enable() {
	w.mu.Lock()
	already := w.permitEnabled
	w.permitEnabled = true
	w.mu.Unlock()

	if already {
		return
	}
	w.inner.Enable()
	w.setState(provider.StateEnabled)
}

// Disable revokes the provider's permission to do work, deactivating it
// first if it was active. Idempotent.
func (w *Wrapper) Disable() {
	w.mu.Lock()
	already := !w.permitEnabled
	wasActive := w.state.Get() == provider.StateActive
	w.permitEnabled = false
	w.positionCount, w.headingCount, w.velocityCount = 0, 0, 0
	w.mu.Unlock()

	if already {
		return
	}
	if wasActive {
		w.inner.Deactivate()
	}
	w.inner.Disable()
	w.setState(provider.StateDisabled)
}

// startStream increments the reference count for one stream kind and
// activates the provider on the first increment across any stream. A
// start on a disabled provider is a no-op (the caller is expected to log
// this via the "ok" return).
func (w *Wrapper) startStream(count *int) (ok bool) {
	w.mu.Lock()
	if !w.permitEnabled {
		w.mu.Unlock()
		return false
	}
	*count++
	activateNow := w.totalStreamsLocked() == 1
	w.mu.Unlock()

	if activateNow {
		w.inner.Activate()
		w.setState(provider.StateActive)
	}
	return true
}

// stopStream decrements the reference count for one stream kind and
// deactivates the provider once every stream's count reaches zero.
func (w *Wrapper) stopStream(count *int) {
	w.mu.Lock()
	if *count > 0 {
		*count--
	}
	deactivateNow := w.totalStreamsLocked() == 0 && w.state.Get() == provider.StateActive
	w.mu.Unlock()

	if deactivateNow {
		w.inner.Deactivate()
		w.setState(provider.StateEnabled)
	}
}

func (w *Wrapper) totalStreamsLocked() int {
	return w.positionCount + w.headingCount + w.velocityCount
}

// StartPositionUpdates increments the position-stream reference count.
func (w *Wrapper) StartPositionUpdates() bool { return w.startStream(&w.positionCount) }

// StopPositionUpdates decrements the position-stream reference count.
func (w *Wrapper) StopPositionUpdates() { w.stopStream(&w.positionCount) }

// StartHeadingUpdates increments the heading-stream reference count.
func (w *Wrapper) StartHeadingUpdates() bool { return w.startStream(&w.headingCount) }

// StopHeadingUpdates decrements the heading-stream reference count.
func (w *Wrapper) StopHeadingUpdates() { w.stopStream(&w.headingCount) }

// StartVelocityUpdates increments the velocity-stream reference count.
func (w *Wrapper) StartVelocityUpdates() bool { return w.startStream(&w.velocityCount) }

// StopVelocityUpdates decrements the velocity-stream reference count.
func (w *Wrapper) StopVelocityUpdates() { w.stopStream(&w.velocityCount) }

// StopAll zeroes every stream's reference count and deactivates the
// provider if it was active, unconditionally. Used during engine teardown
// so stream cancellation is symmetric regardless of how many times each
// stream was started.
func (w *Wrapper) StopAll() {
	w.mu.Lock()
	wasActive := w.state.Get() == provider.StateActive
	w.positionCount, w.headingCount, w.velocityCount = 0, 0, 0
	w.mu.Unlock()

	if wasActive {
		w.inner.Deactivate()
		w.setState(provider.StateEnabled)
	}
}

// Forwarding passthroughs: reference-data callbacks and events always
// reach the inner provider unconditionally, whatever its current state.

func (w *Wrapper) OnNewEvent(evt provider.Event) { w.inner.OnNewEvent(evt) }

// ID returns the wrapped provider's stable source identity.
func (w *Wrapper) ID() uuid.UUID { return w.inner.ID() }

// Requirements reports the wrapped provider's declared requirements.
func (w *Wrapper) Requirements() model.Requirements { return w.inner.Requirements() }

// Satisfies reports whether the wrapped provider satisfies criteria.
func (w *Wrapper) Satisfies(criteria model.Criteria) bool { return w.inner.Satisfies(criteria) }
