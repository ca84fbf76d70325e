// Package remote implements a provider that relays externally-sourced
// reference position hints into the engine's ordinary update stream. The
// transport delivering those hints is left to the surrounding
// application: the relay is driven purely through the event channel's
// ReferencePositionUpdated, which the engine forwards to every provider
// via DispatchEvent, and republishes it verbatim on its own position
// stream.
package remote

import (
	"sync"

	"github.com/google/uuid"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/registry"
)

func init() {
	registry.Register("remote::Provider", func(registry.Config) (provider.Provider, error) {
		return New(), nil
	})
}

// Provider relays ReferencePositionUpdated events verbatim onto its own
// position stream. It has no lifecycle of its own beyond Activate gating
// whether relayed events are republished.
type Provider struct {
	id uuid.UUID

	// mu guards active: the engine's event fan-out delivers OnNewEvent
	// concurrently with lifecycle calls.
	mu     sync.Mutex
	active bool

	posSig *cell.Signal[model.Update[model.Position]]
	hdgSig *cell.Signal[model.Update[model.Heading]]
	velSig *cell.Signal[model.Update[model.Velocity]]
	svSig  *cell.Signal[map[model.SvKey]model.SpaceVehicle]
}

// New constructs a relay Provider with a fresh source identity.
func New() *Provider {
	return &Provider{
		id:     uuid.New(),
		posSig: cell.NewSignal[model.Update[model.Position]](),
		hdgSig: cell.NewSignal[model.Update[model.Heading]](),
		velSig: cell.NewSignal[model.Update[model.Velocity]](),
		svSig:  cell.NewSignal[map[model.SvKey]model.SpaceVehicle](),
	}
}

// ID returns this provider's stable source identity.
func (p *Provider) ID() uuid.UUID { return p.id }

// Requirements reports that the relay needs nothing of its own — the
// remote peer is responsible for whatever it took to produce the hint.
func (p *Provider) Requirements() model.Requirements { return 0 }

// Satisfies reports true only for criteria that ask exclusively for
// position: the relay has no heading or velocity of its own to offer.
func (p *Provider) Satisfies(c model.Criteria) bool {
	return !c.Wants(model.FeatureHeading) && !c.Wants(model.FeatureVelocity)
}

// Enable is a no-op.
func (p *Provider) Enable() {}

// Disable is a no-op.
func (p *Provider) Disable() {}

// Activate permits relayed events to be republished. Idempotent.
func (p *Provider) Activate() {
	p.mu.Lock()
	p.active = true
	p.mu.Unlock()
}

// Deactivate stops relaying events. Idempotent.
func (p *Provider) Deactivate() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

// OnNewEvent relays a ReferencePositionUpdated event onto the position
// stream, tagged with this provider's own source identity so the engine's
// feedback-loop suppression treats it like any other provider emission.
func (p *Provider) OnNewEvent(evt provider.Event) {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if !active || evt.Kind != provider.EventReferencePositionUpdated {
		return
	}
	relayed := model.NewUpdate(evt.ReferencePositionUpdated.Value, evt.ReferencePositionUpdated.When, p.id)
	p.posSig.Emit(relayed)
}

// OnReferencePositionUpdated is a no-op: the relay's own output already
// originates from reference data: reacting to the engine's reference bus
// too would immediately feed back into itself.
func (p *Provider) OnReferencePositionUpdated(model.Update[model.Position]) {}

// OnReferenceVelocityUpdated is a no-op.
func (p *Provider) OnReferenceVelocityUpdated(model.Update[model.Velocity]) {}

// OnReferenceHeadingUpdated is a no-op.
func (p *Provider) OnReferenceHeadingUpdated(model.Update[model.Heading]) {}

// OnWifiAndCellReportingStateChanged is a no-op.
func (p *Provider) OnWifiAndCellReportingStateChanged(bool) {}

// PositionUpdates returns the relayed position stream.
func (p *Provider) PositionUpdates() *cell.Signal[model.Update[model.Position]] { return p.posSig }

// HeadingUpdates returns an always-silent heading stream: the event
// channel only carries position hints.
func (p *Provider) HeadingUpdates() *cell.Signal[model.Update[model.Heading]] { return p.hdgSig }

// VelocityUpdates returns an always-silent velocity stream, for the same
// reason as HeadingUpdates.
func (p *Provider) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] { return p.velSig }

// SpaceVehicleUpdates returns an always-silent space-vehicle stream: the
// relay carries no satellite data.
func (p *Provider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return p.svSig
}
