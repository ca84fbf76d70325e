package providerstate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
)

// mockProvider is a minimal in-memory Provider used across this module's
// tests.
type mockProvider struct {
	id           uuid.UUID
	requirements model.Requirements
	satisfiesAll bool

	enableCalls, disableCalls     int
	activateCalls, deactivateCalls int

	posSig *cell.Signal[model.Update[model.Position]]
	hdgSig *cell.Signal[model.Update[model.Heading]]
	velSig *cell.Signal[model.Update[model.Velocity]]
	svSig  *cell.Signal[map[model.SvKey]model.SpaceVehicle]

	lastEvent *provider.Event
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

func (m *mockProvider) ID() uuid.UUID                            { return m.id }
func (m *mockProvider) Requirements() model.Requirements         { return m.requirements }
func (m *mockProvider) Satisfies(model.Criteria) bool            { return m.satisfiesAll }
func (m *mockProvider) Enable()                                  { m.enableCalls++ }
func (m *mockProvider) Disable()                                 { m.disableCalls++ }
func (m *mockProvider) Activate()                                { m.activateCalls++ }
func (m *mockProvider) Deactivate()                              { m.deactivateCalls++ }
func (m *mockProvider) OnNewEvent(evt provider.Event)            { m.lastEvent = &evt }
func (m *mockProvider) OnReferencePositionUpdated(model.Update[model.Position]) {}
func (m *mockProvider) OnReferenceVelocityUpdated(model.Update[model.Velocity]) {}
func (m *mockProvider) OnReferenceHeadingUpdated(model.Update[model.Heading])   {}
func (m *mockProvider) OnWifiAndCellReportingStateChanged(bool)                {}

func (m *mockProvider) PositionUpdates() *cell.Signal[model.Update[model.Position]] { return m.posSig }
func (m *mockProvider) HeadingUpdates() *cell.Signal[model.Update[model.Heading]]   { return m.hdgSig }
func (m *mockProvider) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] { return m.velSig }
func (m *mockProvider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return m.svSig
}

// Start twice position, once heading, once velocity: a single Activate
// call. Stop symmetrically: a single Deactivate call.
func TestWrapperAddStartStop(t *testing.T) {
	mp := newMockProvider()
	w := Wrap(mp)

	require.True(t, w.StartPositionUpdates())
	require.True(t, w.StartPositionUpdates())
	require.True(t, w.StartHeadingUpdates())
	require.True(t, w.StartVelocityUpdates())

	require.Equal(t, 1, mp.activateCalls)
	require.Equal(t, provider.StateActive, w.State().Get())

	w.StopPositionUpdates()
	w.StopPositionUpdates()
	w.StopHeadingUpdates()
	w.StopVelocityUpdates()

	require.Equal(t, 1, mp.deactivateCalls)
	require.Equal(t, provider.StateEnabled, w.State().Get())
}

func TestWrapperStartOnDisabledIsNoOp(t *testing.T) {
	mp := newMockProvider()
	w := Wrap(mp)
	w.Disable()

	ok := w.StartPositionUpdates()
	require.False(t, ok)
	require.Equal(t, 0, mp.activateCalls)
}

func TestWrapperEnableDisableIdempotent(t *testing.T) {
	mp := newMockProvider()
	w := Wrap(mp)

	w.Disable()
	w.Disable()
	require.Equal(t, 1, mp.disableCalls)

	w.Enable()
	w.Enable()
	require.Equal(t, 1, mp.enableCalls)
}

func TestWrapperDisableWhileActiveDeactivatesFirst(t *testing.T) {
	mp := newMockProvider()
	w := Wrap(mp)
	w.StartPositionUpdates()
	require.Equal(t, provider.StateActive, w.State().Get())

	w.Disable()
	require.Equal(t, 1, mp.deactivateCalls)
	require.Equal(t, 1, mp.disableCalls)
	require.Equal(t, provider.StateDisabled, w.State().Get())
}

func TestWrapperStartStopAnyInterleavingLeavesInactive(t *testing.T) {
	mp := newMockProvider()
	w := Wrap(mp)

	for i := 0; i < 5; i++ {
		w.StartPositionUpdates()
	}
	w.StopPositionUpdates()
	w.StartHeadingUpdates()
	w.StopHeadingUpdates()
	for i := 0; i < 4; i++ {
		w.StopPositionUpdates()
	}

	require.Equal(t, provider.StateEnabled, w.State().Get())
	require.Equal(t, 1, mp.activateCalls)
	require.Equal(t, 1, mp.deactivateCalls)
}
