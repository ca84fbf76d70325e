// Package provider defines the contract every positioning source must
// satisfy to be added to the engine.
package provider

import (
	"github.com/google/uuid"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
)

// State models the three states the provider wrapper (pkg/providerstate)
// drives a provider through.
type State int

const (
	StateDisabled State = iota
	StateEnabled
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Event is the tagged out-of-band input a provider's event sink accepts.
// Exactly one of the fields is populated, selected by Kind.
type EventKind int

const (
	EventReferencePositionUpdated EventKind = iota
	EventWifiAndCellIDReportingStateChanged
)

// Event carries one of the two concrete event kinds defined at the
// external-interface boundary.
type Event struct {
	Kind                         EventKind
	ReferencePositionUpdated     model.Update[model.Position]
	WifiAndCellReportingStateOn  bool
}

// Provider is the contract every positioning source implements. Providers
// are never referenced directly once added to the engine: it wraps every
// provider in a state-tracking adapter (pkg/providerstate) before storing
// it.
type Provider interface {
	// ID is the stable source identity this provider tags every update it
	// emits with (model.Update.SourceID). The engine uses it to skip
	// feeding reference data back to the provider that produced it.
	ID() uuid.UUID

	// Requirements reports the abstract resources this provider needs.
	Requirements() model.Requirements
	// Satisfies reports whether this provider can serve the given criteria.
	Satisfies(criteria model.Criteria) bool

	// Enable/Disable gate whether the provider is permitted to do work.
	// Idempotent: calling twice has the same effect as once.
	Enable()
	Disable()
	// Activate/Deactivate govern whether the provider currently is doing
	// work. Idempotent.
	Activate()
	Deactivate()

	// OnNewEvent delivers an out-of-band event to the provider.
	OnNewEvent(evt Event)

	// Reference-data sinks, fed by the engine's reference-data bus.
	OnReferencePositionUpdated(update model.Update[model.Position])
	OnReferenceVelocityUpdated(update model.Update[model.Velocity])
	OnReferenceHeadingUpdated(update model.Update[model.Heading])
	OnWifiAndCellReportingStateChanged(on bool)

	// PositionUpdates, HeadingUpdates, VelocityUpdates and
	// SpaceVehicleUpdates are this provider's update sources.
	PositionUpdates() *cell.Signal[model.Update[model.Position]]
	HeadingUpdates() *cell.Signal[model.Update[model.Heading]]
	VelocityUpdates() *cell.Signal[model.Update[model.Velocity]]
	SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle]
}
