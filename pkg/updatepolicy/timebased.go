// Package updatepolicy implements the decision function that mediates
// every candidate update against the engine's current authoritative one.
// The supplied policy is time-based: significantly-newer updates are
// accepted outright, significantly-older ones rejected outright, and
// within the timeout window position updates are accepted on
// equal-or-better horizontal accuracy while heading/velocity keep the
// current value.
package updatepolicy

import (
	"sync"
	"time"

	"github.com/starfail/locationengine/pkg/model"
)

// DefaultTimeout is the window within which two updates are considered
// contemporaries and accuracy decides between them.
const DefaultTimeout = 2 * time.Minute

// TimeBased is the engine's default update policy. Each stream kind is
// mediated under its own mutex.
type TimeBased struct {
	timeout time.Duration

	observe func(stream string, accepted bool)

	posMu  sync.Mutex
	curPos model.Update[model.Position]
	hasPos bool

	hdgMu  sync.Mutex
	curHdg model.Update[model.Heading]
	hasHdg bool

	velMu  sync.Mutex
	curVel model.Update[model.Velocity]
	hasVel bool
}

// SetObserver registers fn to be called with the stream name ("position",
// "heading" or "velocity") and the accept/reject outcome of every
// subsequent Verify* decision. Intended for pkg/metrics to count
// update-policy decisions without the policy itself depending on
// Prometheus; nil disables observation.
func (p *TimeBased) SetObserver(fn func(stream string, accepted bool)) {
	p.observe = fn
}

func (p *TimeBased) report(stream string, accepted bool) {
	if p.observe != nil {
		p.observe(stream, accepted)
	}
}

// New constructs a TimeBased policy with the given timeout. A zero
// timeout selects DefaultTimeout.
func New(timeout time.Duration) *TimeBased {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TimeBased{timeout: timeout}
}

func isSignificantlyNewer(cand, cur time.Time, timeout time.Duration) bool {
	return cand.After(cur.Add(timeout))
}

func isSignificantlyOlder(cand, cur time.Time, timeout time.Duration) bool {
	return cand.Add(timeout).Before(cur)
}

// VerifyPosition returns the chosen authoritative position update: either
// candidate or the current one.
func (p *TimeBased) VerifyPosition(candidate model.Update[model.Position]) model.Update[model.Position] {
	p.posMu.Lock()
	defer p.posMu.Unlock()

	if !p.hasPos {
		p.curPos, p.hasPos = candidate, true
		p.report("position", true)
		return candidate
	}

	useCandidate := false
	switch {
	case isSignificantlyNewer(candidate.When, p.curPos.When, p.timeout):
		useCandidate = true
	case isSignificantlyOlder(candidate.When, p.curPos.When, p.timeout):
		useCandidate = false
	default:
		useCandidate = acceptOnAccuracy(candidate, p.curPos)
	}

	p.report("position", useCandidate)
	if useCandidate {
		p.curPos = candidate
		return candidate
	}
	return p.curPos
}

// acceptOnAccuracy implements the tie-break: accept iff candidate has
// smaller-or-equal horizontal accuracy than the current update. A missing
// accuracy bound on either side rejects.
func acceptOnAccuracy(candidate, current model.Update[model.Position]) bool {
	candAcc := candidate.Value.Accuracy.Horizontal
	curAcc := current.Value.Accuracy.Horizontal
	if candAcc == nil || curAcc == nil {
		return false
	}
	return *candAcc <= *curAcc
}

// VerifyHeading returns the chosen authoritative heading update.
func (p *TimeBased) VerifyHeading(candidate model.Update[model.Heading]) model.Update[model.Heading] {
	p.hdgMu.Lock()
	defer p.hdgMu.Unlock()

	if !p.hasHdg {
		p.curHdg, p.hasHdg = candidate, true
		p.report("heading", true)
		return candidate
	}

	useCandidate := false
	switch {
	case isSignificantlyNewer(candidate.When, p.curHdg.When, p.timeout):
		useCandidate = true
	case isSignificantlyOlder(candidate.When, p.curHdg.When, p.timeout):
		useCandidate = false
	default:
		useCandidate = false // contemporaries: keep current
	}

	p.report("heading", useCandidate)
	if useCandidate {
		p.curHdg = candidate
		return candidate
	}
	return p.curHdg
}

// VerifyVelocity returns the chosen authoritative velocity update.
func (p *TimeBased) VerifyVelocity(candidate model.Update[model.Velocity]) model.Update[model.Velocity] {
	p.velMu.Lock()
	defer p.velMu.Unlock()

	if !p.hasVel {
		p.curVel, p.hasVel = candidate, true
		p.report("velocity", true)
		return candidate
	}

	useCandidate := false
	switch {
	case isSignificantlyNewer(candidate.When, p.curVel.When, p.timeout):
		useCandidate = true
	case isSignificantlyOlder(candidate.When, p.curVel.When, p.timeout):
		useCandidate = false
	default:
		useCandidate = false
	}

	p.report("velocity", useCandidate)
	if useCandidate {
		p.curVel = candidate
		return candidate
	}
	return p.curVel
}
