package engine

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/logx"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/providerstate"
	"github.com/starfail/locationengine/pkg/selection"
	"github.com/starfail/locationengine/pkg/settings"
	"github.com/starfail/locationengine/pkg/updatepolicy"
)

// entry is one row of the engine's provider table: the wrapped provider
// plus every scoped connection the engine itself holds on its behalf.
// Dropping all of entry.conns (in Close/RemoveProvider) severs every line
// the engine wired on add.
type entry struct {
	name    string
	wrapper *providerstate.Wrapper
	conns   []*cell.Connection
}

// Engine is the positioning engine. It owns the provider table,
// the three configuration cells, the four authoritative update cells, and
// wires the update policy and reference-data bus between them.
//
// The provider table is guarded by mu. A subscriber invoked during
// AddProvider may re-enter the engine, so rather than a reentrant OS
// mutex this implementation follows the same discipline as pkg/cell and
// pkg/providerstate: mu is only ever held while
// reading or mutating the table itself, never while a provider callback or
// a Signal/Cell subscriber is running. Every method that must do both
// takes a locked snapshot, unlocks, then calls out — so re-entrant calls
// from within a callback always see a consistent table and never deadlock.
type Engine struct {
	mu        sync.Mutex
	providers map[string]*entry
	order     []string

	adminMu sync.Mutex
	adminOn bool // administrative on/off; "active" is a derived overlay

	engineState   *cell.Cell[EngineState]
	satState      *cell.Cell[ToggleState]
	wifiCellState *cell.Cell[ToggleState]

	lastPosition *cell.Cell[Optional[model.Position]]
	lastVelocity *cell.Cell[Optional[model.Velocity]]
	lastHeading  *cell.Cell[Optional[model.Heading]]
	visibleSVs   *cell.Cell[map[model.SvKey]model.SpaceVehicle]

	policy   *updatepolicy.TimeBased
	selector *selection.Policy

	settings settings.Settings
	logger   *logx.Logger
}

// New constructs an Engine, reading engine_state and
// wifi_and_cell_id_reporting_state from st.
// satellite_based_positioning_state always starts at its default (on)
// since it is never persisted. A nil logger is replaced by an info-level
// logx logger (stdout, and syslog where available).
func New(st settings.Settings, logger *logx.Logger) *Engine {
	if logger == nil {
		logger = logx.New("info")
	}

	engineStateVal, err := settings.GetEnum(st, KeyEngineState, EngineStateOn, decodeEngineState)
	if err != nil {
		logger.Warn("bad stored engine state, using default", "error", err.Error())
	}
	wifiVal, err := settings.GetEnum(st, KeyWifiAndCellIdReportingState, ToggleOff, decodeToggleState)
	if err != nil {
		logger.Warn("bad stored wifi/cell reporting state, using default", "error", err.Error())
	}

	e := &Engine{
		providers:     make(map[string]*entry),
		adminOn:       engineStateVal != EngineStateOff,
		engineState:   cell.NewCell(engineStateVal),
		satState:      cell.NewCell(ToggleOn),
		wifiCellState: cell.NewCell(wifiVal),
		lastPosition:  cell.NewCell(Optional[model.Position]{}),
		lastVelocity:  cell.NewCell(Optional[model.Velocity]{}),
		lastHeading:   cell.NewCell(Optional[model.Heading]{}),
		visibleSVs:    cell.NewCell(map[model.SvKey]model.SpaceVehicle{}),
		policy:        updatepolicy.New(0),
		selector:      selection.New(),
		settings:      st,
		logger:        logger,
	}
	return e
}

// EngineState returns the current engine_state.
func (e *Engine) EngineState() EngineState { return e.engineState.Get() }

// Policy returns the engine's update policy, exported solely so
// pkg/metrics can attach an observer to count accept/reject decisions;
// no other caller should need it.
func (e *Engine) Policy() *updatepolicy.TimeBased { return e.policy }

// OnEngineStateChange subscribes to engine_state transitions.
func (e *Engine) OnEngineStateChange(fn func(EngineState)) *cell.Connection {
	return e.engineState.OnChange(fn)
}

// SatelliteBasedPositioningState returns the current
// satellite_based_positioning_state.
func (e *Engine) SatelliteBasedPositioningState() ToggleState { return e.satState.Get() }

// WifiAndCellIdReportingState returns the current
// wifi_and_cell_id_reporting_state.
func (e *Engine) WifiAndCellIdReportingState() ToggleState { return e.wifiCellState.Get() }

// OnWifiAndCellIdReportingStateChange subscribes to reporting-state
// transitions.
func (e *Engine) OnWifiAndCellIdReportingStateChange(fn func(ToggleState)) *cell.Connection {
	return e.wifiCellState.OnChange(fn)
}

// LastKnownPosition returns the engine's current authoritative position,
// if any has ever been accepted.
func (e *Engine) LastKnownPosition() (model.Update[model.Position], bool) {
	v := e.lastPosition.Get()
	return v.Update, v.Present
}

// OnPositionChange subscribes to last_known_position transitions.
func (e *Engine) OnPositionChange(fn func(model.Update[model.Position])) *cell.Connection {
	return e.lastPosition.OnChange(func(v Optional[model.Position]) {
		if v.Present {
			fn(v.Update)
		}
	})
}

// LastKnownVelocity returns the engine's current authoritative velocity,
// if any has ever been accepted.
func (e *Engine) LastKnownVelocity() (model.Update[model.Velocity], bool) {
	v := e.lastVelocity.Get()
	return v.Update, v.Present
}

// OnVelocityChange subscribes to last_known_velocity transitions.
func (e *Engine) OnVelocityChange(fn func(model.Update[model.Velocity])) *cell.Connection {
	return e.lastVelocity.OnChange(func(v Optional[model.Velocity]) {
		if v.Present {
			fn(v.Update)
		}
	})
}

// LastKnownHeading returns the engine's current authoritative heading, if
// any has ever been accepted.
func (e *Engine) LastKnownHeading() (model.Update[model.Heading], bool) {
	v := e.lastHeading.Get()
	return v.Update, v.Present
}

// OnHeadingChange subscribes to last_known_heading transitions.
func (e *Engine) OnHeadingChange(fn func(model.Update[model.Heading])) *cell.Connection {
	return e.lastHeading.OnChange(func(v Optional[model.Heading]) {
		if v.Present {
			fn(v.Update)
		}
	})
}

// VisibleSpaceVehicles returns a snapshot copy of the union-over-time
// space-vehicle set. Vehicles are never evicted, only overwritten when
// re-reported.
func (e *Engine) VisibleSpaceVehicles() map[model.SvKey]model.SpaceVehicle {
	cur := e.visibleSVs.Get()
	out := make(map[model.SvKey]model.SpaceVehicle, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// OnSpaceVehiclesChange subscribes to visible_space_vehicles transitions.
func (e *Engine) OnSpaceVehiclesChange(fn func(map[model.SvKey]model.SpaceVehicle)) *cell.Connection {
	return e.visibleSVs.OnChange(fn)
}

// snapshot copies the provider table under mu and returns it sorted in
// insertion order, so callers never hold mu while invoking user code.
func (e *Engine) snapshot() []*entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*entry, 0, len(e.order))
	for _, name := range e.order {
		if ent, ok := e.providers[name]; ok {
			out = append(out, ent)
		}
	}
	return out
}

// AddProvider validates, wraps and wires p into the engine under the
// given stable name. A nil provider fails with ErrInvalidArgument and no
// state changes. Adding under a name already in use first removes the
// previous provider.
func (e *Engine) AddProvider(name string, p provider.Provider) error {
	if p == nil {
		return fmt.Errorf("%w: nil provider", ErrInvalidArgument)
	}

	e.RemoveProvider(name)

	w := providerstate.Wrap(p)

	// Apply current configuration before the provider is ever visible to
	// selection or the reference-data bus.
	if e.EngineState() == EngineStateOff {
		w.Disable()
	} else if w.Requirements().Has(model.RequiresSatellites) && e.SatelliteBasedPositioningState() == ToggleOff {
		w.Disable()
	}

	ent := &entry{name: name, wrapper: w}
	sourceID := p.ID()

	// Reference-data bus: subscribe the provider's reference sinks to the
	// engine's authoritative cells, skipping delivery back to the provider
	// that itself produced the authoritative value.
	ent.conns = append(ent.conns,
		e.lastPosition.OnChange(func(v Optional[model.Position]) {
			if v.Present && v.Update.SourceID != sourceID {
				p.OnReferencePositionUpdated(v.Update)
			}
		}),
		e.lastVelocity.OnChange(func(v Optional[model.Velocity]) {
			if v.Present && v.Update.SourceID != sourceID {
				p.OnReferenceVelocityUpdated(v.Update)
			}
		}),
		e.lastHeading.OnChange(func(v Optional[model.Heading]) {
			if v.Present && v.Update.SourceID != sourceID {
				p.OnReferenceHeadingUpdated(v.Update)
			}
		}),
		e.wifiCellState.OnChange(func(s ToggleState) {
			p.OnWifiAndCellReportingStateChanged(s == ToggleOn)
		}),
	)

	// The provider's own position stream feeds back into last_known_position
	// through the update policy, closing the reference-data loop.
	ent.conns = append(ent.conns,
		p.PositionUpdates().Connect(func(u model.Update[model.Position]) {
			chosen := e.policy.VerifyPosition(u)
			e.lastPosition.Set(Optional[model.Position]{Update: chosen, Present: true}, optionalChanged[model.Position])
		}),
		p.HeadingUpdates().Connect(func(u model.Update[model.Heading]) {
			chosen := e.policy.VerifyHeading(u)
			e.lastHeading.Set(Optional[model.Heading]{Update: chosen, Present: true}, optionalChanged[model.Heading])
		}),
		p.VelocityUpdates().Connect(func(u model.Update[model.Velocity]) {
			chosen := e.policy.VerifyVelocity(u)
			e.lastVelocity.Set(Optional[model.Velocity]{Update: chosen, Present: true}, optionalChanged[model.Velocity])
		}),
		p.SpaceVehicleUpdates().Connect(func(svs map[model.SvKey]model.SpaceVehicle) {
			e.visibleSVs.Update(func(cur *map[model.SvKey]model.SpaceVehicle) bool {
				if *cur == nil {
					*cur = make(map[model.SvKey]model.SpaceVehicle, len(svs))
				}
				for k, v := range svs {
					(*cur)[k] = v
				}
				return len(svs) > 0
			})
		}),
	)

	// The provider's own state cell feeds the engine-wide recompute of
	// engine_state.
	ent.conns = append(ent.conns, w.State().OnChange(func(provider.State) {
		e.recomputeEngineState()
	}))

	e.mu.Lock()
	e.providers[name] = ent
	e.order = append(e.order, name)
	e.mu.Unlock()

	e.recomputeEngineState()
	e.logger.Info("provider added", "name", name, "requirements", int(w.Requirements()))
	return nil
}

// RemoveProvider tears down the named provider: drops the table entry,
// then stops every stream symmetrically, then severs every connection the
// engine holds. Returns false if no such provider was registered.
func (e *Engine) RemoveProvider(name string) bool {
	e.mu.Lock()
	ent, ok := e.providers[name]
	if ok {
		delete(e.providers, name)
		for i, n := range e.order {
			if n == name {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	ent.wrapper.StopAll()
	for _, c := range ent.conns {
		c.Disconnect()
	}
	e.recomputeEngineState()
	e.logger.Info("provider removed", "name", name)
	return true
}

// ForEachProvider invokes fn once per registered provider, concurrently,
// recovering and logging a panic from any single fn invocation as a
// ProviderFault so that one bad consumer cannot corrupt the iteration of
// the others.
func (e *Engine) ForEachProvider(fn func(name string, w *providerstate.Wrapper)) {
	entries := e.snapshot()
	var g errgroup.Group
	for _, ent := range entries {
		ent := ent
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("provider callback panicked", "name", ent.name, "panic", fmt.Sprint(r))
					err = fmt.Errorf("%w: %v", ErrProviderFault, r)
				}
			}()
			fn(ent.name, ent.wrapper)
			return nil
		})
	}
	_ = g.Wait()
}

// DispatchEvent forwards evt unchanged to every registered provider.
func (e *Engine) DispatchEvent(evt provider.Event) {
	e.ForEachProvider(func(_ string, w *providerstate.Wrapper) {
		w.OnNewEvent(evt)
	})
}

// DetermineProviderSelectionForCriteria delegates to the selection policy
// over the current provider table, in insertion order.
func (e *Engine) DetermineProviderSelectionForCriteria(c model.Criteria) selection.Selection {
	entries := e.snapshot()
	candidates := make([]selection.NamedProvider, len(entries))
	for i, ent := range entries {
		candidates[i] = selection.NamedProvider{Name: ent.name, Wrapper: ent.wrapper}
	}
	return e.selector.Select(c, candidates)
}

// SetEngineState applies an administrative engine_state transition.
// EngineStateActive cannot be set directly: it is purely derived, and an
// attempt to set it is logged and ignored.
func (e *Engine) SetEngineState(new EngineState) {
	if new == EngineStateActive {
		e.logger.Warn("engine_state active is derived, ignoring direct set")
		return
	}

	e.adminMu.Lock()
	e.adminOn = new == EngineStateOn
	e.adminMu.Unlock()

	switch new {
	case EngineStateOn:
		for _, ent := range e.snapshot() {
			if ent.wrapper.Requirements().Has(model.RequiresSatellites) && e.SatelliteBasedPositioningState() == ToggleOff {
				continue
			}
			ent.wrapper.Enable()
		}
	case EngineStateOff:
		for _, ent := range e.snapshot() {
			ent.wrapper.Disable()
		}
	}
	e.recomputeEngineState()
}

// SetSatelliteBasedPositioningState applies a satellite_based_positioning_state
// transition, gating every satellite-requiring provider.
func (e *Engine) SetSatelliteBasedPositioningState(new ToggleState) {
	e.satState.Set(new, func(old, nw ToggleState) bool { return old != nw })

	switch new {
	case ToggleOn:
		if e.EngineState() == EngineStateOff {
			return
		}
		for _, ent := range e.snapshot() {
			if ent.wrapper.Requirements().Has(model.RequiresSatellites) {
				ent.wrapper.Enable()
			}
		}
	case ToggleOff:
		for _, ent := range e.snapshot() {
			if ent.wrapper.Requirements().Has(model.RequiresSatellites) {
				ent.wrapper.Disable()
			}
		}
	}
}

// SetWifiAndCellIdReportingState applies a
// wifi_and_cell_id_reporting_state transition. Propagation to providers
// happens through the reference-data bus subscription wired in
// AddProvider, not here.
func (e *Engine) SetWifiAndCellIdReportingState(new ToggleState) {
	e.wifiCellState.Set(new, func(old, nw ToggleState) bool { return old != nw })
}

// recomputeEngineState re-derives engine_state from the administrative
// on/off flag and whether any registered provider currently reports
// StateActive: engine_state is active iff some provider is active.
func (e *Engine) recomputeEngineState() {
	e.adminMu.Lock()
	adminOn := e.adminOn
	e.adminMu.Unlock()

	var next EngineState
	switch {
	case !adminOn:
		next = EngineStateOff
	case e.anyProviderActive():
		next = EngineStateActive
	default:
		next = EngineStateOn
	}
	e.engineState.Set(next, func(old, nw EngineState) bool { return old != nw })
}

func (e *Engine) anyProviderActive() bool {
	for _, ent := range e.snapshot() {
		if ent.wrapper.State().Get() == provider.StateActive {
			return true
		}
	}
	return false
}

// Close tears down every provider symmetrically (empty the table, then for
// each provider stop streams, then drop connections) and writes engine_state and
// wifi_and_cell_id_reporting_state back to the settings store. No
// callback fires after Close returns.
func (e *Engine) Close() error {
	e.mu.Lock()
	names := append([]string(nil), e.order...)
	providers := e.providers
	e.providers = make(map[string]*entry)
	e.order = nil
	e.mu.Unlock()

	for _, name := range names {
		ent := providers[name]
		ent.wrapper.StopAll()
		for _, c := range ent.conns {
			c.Disconnect()
		}
	}

	if e.settings != nil {
		e.adminMu.Lock()
		adminOn := e.adminOn
		e.adminMu.Unlock()
		persisted := EngineStateOff
		if adminOn {
			persisted = EngineStateOn
		}
		settings.SetEnum(e.settings, KeyEngineState, persisted, encodeEngineState)
		settings.SetEnum(e.settings, KeyWifiAndCellIdReportingState, e.WifiAndCellIdReportingState(), encodeToggleState)
	}
	return nil
}
