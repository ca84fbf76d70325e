package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/providerstate"
	"github.com/starfail/locationengine/pkg/settings"
	"github.com/starfail/locationengine/pkg/units"
)

// mockProvider is a minimal in-memory Provider used across this package's
// tests, mirroring pkg/providerstate's own mockProvider.
type mockProvider struct {
	id           uuid.UUID
	requirements model.Requirements
	satisfiesAll bool

	activateCalls, deactivateCalls int
	refPosCalls                    int
	eventCalls                     int

	posSig *cell.Signal[model.Update[model.Position]]
	hdgSig *cell.Signal[model.Update[model.Heading]]
	velSig *cell.Signal[model.Update[model.Velocity]]
	svSig  *cell.Signal[map[model.SvKey]model.SpaceVehicle]
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		id:           uuid.New(),
		satisfiesAll: true,
		posSig:       cell.NewSignal[model.Update[model.Position]](),
		hdgSig:       cell.NewSignal[model.Update[model.Heading]](),
		velSig:       cell.NewSignal[model.Update[model.Velocity]](),
		svSig:        cell.NewSignal[map[model.SvKey]model.SpaceVehicle](),
	}
}

func (m *mockProvider) ID() uuid.UUID                    { return m.id }
func (m *mockProvider) Requirements() model.Requirements { return m.requirements }
func (m *mockProvider) Satisfies(model.Criteria) bool    { return m.satisfiesAll }
func (m *mockProvider) Enable()                          {}
func (m *mockProvider) Disable()                          {}
func (m *mockProvider) Activate()                         { m.activateCalls++ }
func (m *mockProvider) Deactivate()                       { m.deactivateCalls++ }
func (m *mockProvider) OnNewEvent(provider.Event)                               { m.eventCalls++ }
func (m *mockProvider) OnReferencePositionUpdated(model.Update[model.Position]) { m.refPosCalls++ }
func (m *mockProvider) OnReferenceVelocityUpdated(model.Update[model.Velocity]) {}
func (m *mockProvider) OnReferenceHeadingUpdated(model.Update[model.Heading])   {}
func (m *mockProvider) OnWifiAndCellReportingStateChanged(bool)                {}

func (m *mockProvider) PositionUpdates() *cell.Signal[model.Update[model.Position]] { return m.posSig }
func (m *mockProvider) HeadingUpdates() *cell.Signal[model.Update[model.Heading]]   { return m.hdgSig }
func (m *mockProvider) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] { return m.velSig }
func (m *mockProvider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return m.svSig
}

func metersPtr(v float64) *units.Meters {
	m := units.Meters(v)
	return &m
}

func posUpdate(source uuid.UUID, lat, lon float64, when time.Time, horizAcc float64) model.Update[model.Position] {
	return model.NewUpdate(model.Position{
		Latitude:  units.Degrees(lat),
		Longitude: units.Degrees(lon),
		Accuracy:  model.Accuracy{Horizontal: metersPtr(horizAcc)},
	}, when, source)
}

// The time-based policy accepts a significantly newer update even with
// worse accuracy.
func TestEngineAcceptsSignificantlyNewerPosition(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	mp := newMockProvider()
	require.NoError(t, e.AddProvider("gps", mp))

	base := time.Now()
	mp.posSig.Emit(posUpdate(mp.id, 9, 53, base, 10))
	mp.posSig.Emit(posUpdate(mp.id, 9.1, 53.1, base.Add(3*time.Minute), 500))

	got, ok := e.LastKnownPosition()
	require.True(t, ok)
	require.Equal(t, units.Degrees(9.1), got.Value.Latitude)
}

// An update that is both older and less accurate than the current one is
// rejected.
func TestEngineRejectsOlderLessAccuratePosition(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	mp := newMockProvider()
	require.NoError(t, e.AddProvider("gps", mp))

	base := time.Now()
	mp.posSig.Emit(posUpdate(mp.id, 9, 53, base, 50))
	mp.posSig.Emit(posUpdate(mp.id, 9.9, 53.9, base.Add(-3*time.Second), 500))

	got, ok := e.LastKnownPosition()
	require.True(t, ok)
	require.Equal(t, units.Degrees(9.0), got.Value.Latitude)
}

// The satellite gate: a provider requiring satellites
// stays disabled while satellite_based_positioning_state is off, and
// becomes enabled (capable of activating) once both states flip on.
func TestEngineSatelliteGate(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	mp := newMockProvider()
	mp.requirements = model.Requirements(model.RequiresSatellites)

	e.SetSatelliteBasedPositioningState(ToggleOff)
	require.NoError(t, e.AddProvider("gps", mp))

	sel := e.DetermineProviderSelectionForCriteria(model.NewCriteria(model.FeaturePosition))
	require.NotNil(t, sel.Position)
	ok := sel.Position.Wrapper.StartPositionUpdates()
	require.False(t, ok, "disabled provider must refuse to start streams")
	require.Equal(t, 0, mp.activateCalls)

	e.SetSatelliteBasedPositioningState(ToggleOn)
	e.SetEngineState(EngineStateOn)

	ok = sel.Position.Wrapper.StartPositionUpdates()
	require.True(t, ok)
	require.Equal(t, 1, mp.activateCalls)
	require.Equal(t, provider.StateActive, sel.Position.Wrapper.State().Get())
}

// engine_state must track "active" exactly while some registered provider
// is active, and fall back to "on" once none are.
func TestEngineStateTracksActiveProvider(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	mp := newMockProvider()
	require.NoError(t, e.AddProvider("gps", mp))
	require.Equal(t, EngineStateOn, e.EngineState())

	w := e.snapshot()[0].wrapper
	w.StartPositionUpdates()
	require.Equal(t, EngineStateActive, e.EngineState())

	w.StopPositionUpdates()
	require.Equal(t, EngineStateOn, e.EngineState())
}

// engine_state == off implies every provider is disabled, and a provider
// added while off starts out disabled.
func TestEngineOffDisablesAllProviders(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	e.SetEngineState(EngineStateOff)

	mp := newMockProvider()
	require.NoError(t, e.AddProvider("gps", mp))

	w := e.snapshot()[0].wrapper
	require.Equal(t, provider.StateDisabled, w.State().Get())
	ok := w.StartPositionUpdates()
	require.False(t, ok)
}

// A provider must never observe reference data it produced itself: the
// originating provider's OnReferencePositionUpdated must not fire, while
// a different provider's must.
func TestEngineSkipsSelfOriginatedReferenceFeedback(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	mp := newMockProvider()
	mp2 := newMockProvider()

	require.NoError(t, e.AddProvider("a", mp))
	require.NoError(t, e.AddProvider("b", mp2))

	mp.posSig.Emit(posUpdate(mp.id, 1, 1, time.Now(), 10))

	got, ok := e.LastKnownPosition()
	require.True(t, ok)
	require.Equal(t, mp.id, got.SourceID)
	require.Equal(t, 0, mp.refPosCalls, "provider must not receive its own update back")
	require.Equal(t, 1, mp2.refPosCalls, "a different provider must receive the reference update")
}

// Settings round-trip through Close: persisted engine_state and
// wifi/cell reporting state survive a reconstruction.
func TestEngineSettingsRoundTrip(t *testing.T) {
	store := settings.NewMemory()
	e := New(store, nil)
	e.SetEngineState(EngineStateOff)
	e.SetWifiAndCellIdReportingState(ToggleOn)
	require.NoError(t, e.Close())

	e2 := New(store, nil)
	require.Equal(t, EngineStateOff, e2.EngineState())
	require.Equal(t, ToggleOn, e2.WifiAndCellIdReportingState())
}

func TestAddProviderRejectsNil(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	err := e.AddProvider("nil", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

// The engine forwards events unchanged to every registered provider.
func TestDispatchEventReachesEveryProvider(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	mp := newMockProvider()
	mp2 := newMockProvider()
	require.NoError(t, e.AddProvider("a", mp))
	require.NoError(t, e.AddProvider("b", mp2))

	e.DispatchEvent(provider.Event{Kind: provider.EventWifiAndCellIDReportingStateChanged, WifiAndCellReportingStateOn: true})

	require.Equal(t, 1, mp.eventCalls)
	require.Equal(t, 1, mp2.eventCalls)
}

func TestForEachProviderRecoversPanic(t *testing.T) {
	e := New(settings.NewMemory(), nil)
	require.NoError(t, e.AddProvider("a", newMockProvider()))
	require.NoError(t, e.AddProvider("b", newMockProvider()))

	var calls atomic.Int32
	e.ForEachProvider(func(name string, w *providerstate.Wrapper) {
		calls.Add(1)
		if name == "a" {
			panic("boom")
		}
	})
	require.Equal(t, int32(2), calls.Load())
}
