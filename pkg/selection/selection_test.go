package selection

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/providerstate"
)

type stubProvider struct {
	id        uuid.UUID
	satisfies bool
}

func (s *stubProvider) ID() uuid.UUID                     { return s.id }
func (s *stubProvider) Requirements() model.Requirements { return 0 }
func (s *stubProvider) Satisfies(model.Criteria) bool    { return s.satisfies }
func (s *stubProvider) Enable()                          {}
func (s *stubProvider) Disable()                         {}
func (s *stubProvider) Activate()                        {}
func (s *stubProvider) Deactivate()                       {}
func (s *stubProvider) OnNewEvent(provider.Event)        {}
func (s *stubProvider) OnReferencePositionUpdated(model.Update[model.Position]) {}
func (s *stubProvider) OnReferenceVelocityUpdated(model.Update[model.Velocity]) {}
func (s *stubProvider) OnReferenceHeadingUpdated(model.Update[model.Heading])   {}
func (s *stubProvider) OnWifiAndCellReportingStateChanged(bool)                {}
func (s *stubProvider) PositionUpdates() *cell.Signal[model.Update[model.Position]] {
	return cell.NewSignal[model.Update[model.Position]]()
}
func (s *stubProvider) HeadingUpdates() *cell.Signal[model.Update[model.Heading]] {
	return cell.NewSignal[model.Update[model.Heading]]()
}
func (s *stubProvider) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] {
	return cell.NewSignal[model.Update[model.Velocity]]()
}
func (s *stubProvider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return cell.NewSignal[map[model.SvKey]model.SpaceVehicle]()
}

func named(name string, satisfies bool) NamedProvider {
	return NamedProvider{Name: name, Wrapper: providerstate.Wrap(&stubProvider{satisfies: satisfies})}
}

func TestSelectPicksFirstSatisfyingProviderPerFeature(t *testing.T) {
	policy := New()
	candidates := []NamedProvider{
		named("a", false),
		named("b", true),
		named("c", true),
	}

	sel := policy.Select(model.NewCriteria(model.FeaturePosition, model.FeatureHeading), candidates)
	require.NotNil(t, sel.Position)
	require.Equal(t, "b", sel.Position.Name)
	require.NotNil(t, sel.Heading)
	require.Equal(t, "b", sel.Heading.Name)
	require.Nil(t, sel.Velocity)
}

func TestSelectEmptyWhenNoneSatisfy(t *testing.T) {
	policy := New()
	candidates := []NamedProvider{named("a", false)}
	sel := policy.Select(model.NewCriteria(model.FeaturePosition), candidates)
	require.True(t, sel.Empty())
}
