package fusion

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/providerstate"
	"github.com/starfail/locationengine/pkg/units"
)

type emitterProvider struct {
	id     uuid.UUID
	posSig *cell.Signal[model.Update[model.Position]]
}

func newEmitterProvider() *emitterProvider {
	return &emitterProvider{id: uuid.New(), posSig: cell.NewSignal[model.Update[model.Position]]()}
}

func (e *emitterProvider) ID() uuid.UUID                    { return e.id }
func (e *emitterProvider) Requirements() model.Requirements { return 0 }
func (e *emitterProvider) Satisfies(model.Criteria) bool    { return true }
func (e *emitterProvider) Enable()                          {}
func (e *emitterProvider) Disable()                         {}
func (e *emitterProvider) Activate()                        {}
func (e *emitterProvider) Deactivate()                       {}
func (e *emitterProvider) OnNewEvent(provider.Event)        {}
func (e *emitterProvider) OnReferencePositionUpdated(model.Update[model.Position]) {}
func (e *emitterProvider) OnReferenceVelocityUpdated(model.Update[model.Velocity]) {}
func (e *emitterProvider) OnReferenceHeadingUpdated(model.Update[model.Heading])   {}
func (e *emitterProvider) OnWifiAndCellReportingStateChanged(bool)                {}
func (e *emitterProvider) PositionUpdates() *cell.Signal[model.Update[model.Position]] {
	return e.posSig
}
func (e *emitterProvider) HeadingUpdates() *cell.Signal[model.Update[model.Heading]] {
	return cell.NewSignal[model.Update[model.Heading]]()
}
func (e *emitterProvider) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] {
	return cell.NewSignal[model.Update[model.Velocity]]()
}
func (e *emitterProvider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return cell.NewSignal[map[model.SvKey]model.SpaceVehicle]()
}

func meters(v float64) *units.Meters {
	m := units.Meters(v)
	return &m
}

func posUpdate(when time.Time, accM float64, source uuid.UUID) model.Update[model.Position] {
	return model.NewUpdate(model.Position{
		Latitude:  1,
		Longitude: 1,
		Accuracy:  model.Accuracy{Horizontal: meters(accM)},
	}, when, source)
}

// A newer update from the same source is accepted even if less accurate.
func TestFusionSameSourceNewerAcceptedEvenIfLessAccurate(t *testing.T) {
	ep := newEmitterProvider()
	w := providerstate.Wrap(ep)
	f := NewFusion([]*providerstate.Wrapper{w}, NewNewerOrMoreAccurate(0))

	var published []model.Update[model.Position]
	f.PositionUpdates().Connect(func(u model.Update[model.Position]) { published = append(published, u) })

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	source := uuid.New()

	first := posUpdate(base.Add(-5*time.Second), 50, source)
	ep.posSig.Emit(first)

	second := posUpdate(base, 500, source)
	ep.posSig.Emit(second)

	require.Equal(t, []model.Update[model.Position]{first, second}, published)
}

// A less accurate update from a different source is rejected.
func TestFusionDifferentSourceLessAccurateRejected(t *testing.T) {
	epA := newEmitterProvider()
	epB := newEmitterProvider()
	wA := providerstate.Wrap(epA)
	wB := providerstate.Wrap(epB)
	f := NewFusion([]*providerstate.Wrapper{wA, wB}, NewNewerOrMoreAccurate(0))

	var published []model.Update[model.Position]
	f.PositionUpdates().Connect(func(u model.Update[model.Position]) { published = append(published, u) })

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sourceA := uuid.New()
	sourceB := uuid.New()

	a := posUpdate(base.Add(-5*time.Second), 50, sourceA)
	epA.posSig.Emit(a)

	b := posUpdate(base, 500, sourceB)
	epB.posSig.Emit(b)

	require.Equal(t, []model.Update[model.Position]{a}, published)
}

func TestFusionFirstUpdateAlwaysAccepted(t *testing.T) {
	ep := newEmitterProvider()
	w := providerstate.Wrap(ep)
	f := NewFusion([]*providerstate.Wrapper{w}, NewNewerOrMoreAccurate(0))

	var published []model.Update[model.Position]
	f.PositionUpdates().Connect(func(u model.Update[model.Position]) { published = append(published, u) })

	u := posUpdate(time.Now(), 1000, uuid.New())
	ep.posSig.Emit(u)
	require.Equal(t, []model.Update[model.Position]{u}, published)
}

func TestProxyForwardsStartToSelectedProviderOnly(t *testing.T) {
	epPos := newEmitterProvider()
	epVel := newEmitterProvider()
	wPos := providerstate.Wrap(epPos)
	wVel := providerstate.Wrap(epVel)
	p := NewProxy(wPos, nil, wVel)
	defer p.Close()

	require.True(t, p.StartPositionUpdates())
	require.Equal(t, provider.StateActive, wPos.State().Get())
	require.Equal(t, provider.StateEnabled, wVel.State().Get())
	require.False(t, p.StartHeadingUpdates(), "no heading member selected")

	p.StopPositionUpdates()
	require.Equal(t, provider.StateEnabled, wPos.State().Get())
}

func TestProxyRepublishesUpdatesUnchanged(t *testing.T) {
	ep := newEmitterProvider()
	w := providerstate.Wrap(ep)
	p := NewProxy(w, nil, nil)
	defer p.Close()

	var got []model.Update[model.Position]
	p.PositionUpdates().Connect(func(u model.Update[model.Position]) { got = append(got, u) })

	u := posUpdate(time.Now(), 25, ep.id)
	ep.posSig.Emit(u)
	require.Equal(t, []model.Update[model.Position]{u}, got)
}

func TestFusionStartStopFansOutToAllMembers(t *testing.T) {
	epA := newEmitterProvider()
	epB := newEmitterProvider()
	wA := providerstate.Wrap(epA)
	wB := providerstate.Wrap(epB)
	f := NewFusion([]*providerstate.Wrapper{wA, wB}, NewNewerOrMoreAccurate(0))

	f.StartPositionUpdates()
	require.Equal(t, provider.StateActive, wA.State().Get())
	require.Equal(t, provider.StateActive, wB.State().Get())

	f.StopPositionUpdates()
	require.Equal(t, provider.StateEnabled, wA.State().Get())
	require.Equal(t, provider.StateEnabled, wB.State().Get())
}
