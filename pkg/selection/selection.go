// Package selection implements the provider selection policy: given a
// Criteria and the engine's registered providers in insertion order, pick
// up to three providers, one each for position, heading and velocity. The
// first provider whose Satisfies reports true wins the feature, so
// selection is deterministic.
package selection

import (
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/providerstate"
)

// NamedProvider pairs a provider's wrapper with the stable name the engine
// registered it under, so a ProviderSelection can be reported back
// meaningfully.
type NamedProvider struct {
	Name    string
	Wrapper *providerstate.Wrapper
}

// Selection is the passive record returned by the policy: up to one
// provider per requested feature. The engine does not automatically start
// any of their streams.
type Selection struct {
	Position *NamedProvider
	Heading  *NamedProvider
	Velocity *NamedProvider
}

// Empty reports whether no provider was selected for any feature.
func (s Selection) Empty() bool {
	return s.Position == nil && s.Heading == nil && s.Velocity == nil
}

// Policy maps a Criteria to a Selection over a slice of candidate
// providers, which the caller supplies in the engine's insertion order so
// that selection is deterministic.
type Policy struct{}

// New constructs the default selection policy.
func New() *Policy { return &Policy{} }

// Select enumerates candidates in order, keeping the first provider that
// satisfies the criteria for each requested feature.
func (p *Policy) Select(criteria model.Criteria, candidates []NamedProvider) Selection {
	var sel Selection
	for _, cand := range candidates {
		if !cand.Wrapper.Satisfies(criteria) {
			continue
		}
		if criteria.Wants(model.FeaturePosition) && sel.Position == nil {
			c := cand
			sel.Position = &c
		}
		if criteria.Wants(model.FeatureHeading) && sel.Heading == nil {
			c := cand
			sel.Heading = &c
		}
		if criteria.Wants(model.FeatureVelocity) && sel.Velocity == nil {
			c := cand
			sel.Velocity = &c
		}
	}
	return sel
}
