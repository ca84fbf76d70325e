// Package fusion implements the two composition modes sitting above the
// selection policy: Proxy, which forwards a stream's start/stop to the
// one selected provider for that stream, and Fusion, which fans a
// stream's start/stop out to every member provider and merges their
// updates through a chosen-update selector.
package fusion

import (
	"sync"
	"time"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/providerstate"
)

// Selector decides whether an incoming update replaces the current
// authoritative one for a fused stream.
type Selector[T any] interface {
	// Accept reports whether candidate should replace current. hasCurrent
	// is false when there is no current update yet, in which case candidate
	// is always accepted.
	Accept(candidate, current model.Update[T], hasCurrent bool) bool
}

// NewerOrMoreAccurate is the default selector: same source always wins, a
// significantly newer update wins, and for positions an equal-or-better
// horizontal accuracy also wins. Ties favor the existing update.
type NewerOrMoreAccurate struct {
	// Tolerance is how much newer an update must be before recency alone
	// decides.
	Tolerance time.Duration
}

// DefaultTolerance is the recency margin used when none is configured.
const DefaultTolerance = 5 * time.Second

// NewNewerOrMoreAccurate constructs the default selector with
// DefaultTolerance when tolerance is zero.
func NewNewerOrMoreAccurate(tolerance time.Duration) NewerOrMoreAccurate {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return NewerOrMoreAccurate{Tolerance: tolerance}
}

// AcceptPosition applies the selector rules to position updates. It has
// the shape of Selector.Accept but NewerOrMoreAccurate does not implement
// Selector (it has no Accept method).
func (s NewerOrMoreAccurate) AcceptPosition(candidate, current model.Update[model.Position], hasCurrent bool) bool {
	if !hasCurrent {
		return true
	}
	if candidate.SourceID == current.SourceID {
		return true
	}
	if candidate.When.After(current.When.Add(s.Tolerance)) {
		return true
	}
	candAcc := candidate.Value.Accuracy.Horizontal
	curAcc := current.Value.Accuracy.Horizontal
	if candAcc != nil && curAcc != nil && *candAcc <= *curAcc {
		return true
	}
	return false
}

// acceptGeneric implements the non-position variant shared by heading and
// velocity: same source always wins, significantly-newer wins, otherwise
// the tie favors the existing update.
func (s NewerOrMoreAccurate) acceptGeneric(candWhen, curWhen time.Time, sameSource, hasCurrent bool) bool {
	if !hasCurrent {
		return true
	}
	if sameSource {
		return true
	}
	return candWhen.After(curWhen.Add(s.Tolerance))
}

// Proxy forwards start/stop of each stream to the specific provider chosen
// by the selection policy for that stream, and republishes its updates
// unchanged.
type Proxy struct {
	position *providerstate.Wrapper
	heading  *providerstate.Wrapper
	velocity *providerstate.Wrapper

	posOut *cell.Signal[model.Update[model.Position]]
	hdgOut *cell.Signal[model.Update[model.Heading]]
	velOut *cell.Signal[model.Update[model.Velocity]]

	conns []*cell.Connection
}

// NewProxy builds a Proxy over the three (possibly nil) member wrappers.
func NewProxy(position, heading, velocity *providerstate.Wrapper) *Proxy {
	p := &Proxy{
		position: position,
		heading:  heading,
		velocity: velocity,
		posOut:   cell.NewSignal[model.Update[model.Position]](),
		hdgOut:   cell.NewSignal[model.Update[model.Heading]](),
		velOut:   cell.NewSignal[model.Update[model.Velocity]](),
	}
	if position != nil {
		p.conns = append(p.conns, position.Inner().PositionUpdates().Connect(p.posOut.Emit))
	}
	if heading != nil {
		p.conns = append(p.conns, heading.Inner().HeadingUpdates().Connect(p.hdgOut.Emit))
	}
	if velocity != nil {
		p.conns = append(p.conns, velocity.Inner().VelocityUpdates().Connect(p.velOut.Emit))
	}
	return p
}

// PositionUpdates returns the republished position stream.
func (p *Proxy) PositionUpdates() *cell.Signal[model.Update[model.Position]] { return p.posOut }

// HeadingUpdates returns the republished heading stream.
func (p *Proxy) HeadingUpdates() *cell.Signal[model.Update[model.Heading]] { return p.hdgOut }

// VelocityUpdates returns the republished velocity stream.
func (p *Proxy) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] { return p.velOut }

// StartPositionUpdates forwards to the position member, if any.
func (p *Proxy) StartPositionUpdates() bool {
	if p.position == nil {
		return false
	}
	return p.position.StartPositionUpdates()
}

// StopPositionUpdates forwards to the position member, if any.
func (p *Proxy) StopPositionUpdates() {
	if p.position != nil {
		p.position.StopPositionUpdates()
	}
}

// StartHeadingUpdates forwards to the heading member, if any.
func (p *Proxy) StartHeadingUpdates() bool {
	if p.heading == nil {
		return false
	}
	return p.heading.StartHeadingUpdates()
}

// StopHeadingUpdates forwards to the heading member, if any.
func (p *Proxy) StopHeadingUpdates() {
	if p.heading != nil {
		p.heading.StopHeadingUpdates()
	}
}

// StartVelocityUpdates forwards to the velocity member, if any.
func (p *Proxy) StartVelocityUpdates() bool {
	if p.velocity == nil {
		return false
	}
	return p.velocity.StartVelocityUpdates()
}

// StopVelocityUpdates forwards to the velocity member, if any.
func (p *Proxy) StopVelocityUpdates() {
	if p.velocity != nil {
		p.velocity.StopVelocityUpdates()
	}
}

// Close detaches every forwarding connection.
func (p *Proxy) Close() {
	for _, c := range p.conns {
		c.Disconnect()
	}
}

// Fusion merges every member provider's stream into one logical stream,
// using the supplied selector to decide whether each incoming update
// replaces the current authoritative one. Start/stop on a fused stream
// fans out to every member.
type Fusion struct {
	members []*providerstate.Wrapper
	sel     NewerOrMoreAccurate

	posOut *cell.Signal[model.Update[model.Position]]
	hdgOut *cell.Signal[model.Update[model.Heading]]
	velOut *cell.Signal[model.Update[model.Velocity]]

	// mu guards the per-stream authoritative update; member providers
	// emit from their own goroutines. It is released before republishing
	// so a downstream subscriber feeding back into a member stream cannot
	// deadlock against it.
	mu     sync.Mutex
	curPos model.Update[model.Position]
	hasPos bool
	curHdg model.Update[model.Heading]
	hasHdg bool
	curVel model.Update[model.Velocity]
	hasVel bool

	conns []*cell.Connection
}

// NewFusion builds a Fusion over the given member providers with the
// supplied selector.
func NewFusion(members []*providerstate.Wrapper, sel NewerOrMoreAccurate) *Fusion {
	f := &Fusion{
		members: members,
		sel:     sel,
		posOut:  cell.NewSignal[model.Update[model.Position]](),
		hdgOut:  cell.NewSignal[model.Update[model.Heading]](),
		velOut:  cell.NewSignal[model.Update[model.Velocity]](),
	}
	for _, m := range members {
		m := m
		f.conns = append(f.conns, m.Inner().PositionUpdates().Connect(f.onPosition))
		f.conns = append(f.conns, m.Inner().HeadingUpdates().Connect(f.onHeading))
		f.conns = append(f.conns, m.Inner().VelocityUpdates().Connect(f.onVelocity))
	}
	return f
}

func (f *Fusion) onPosition(candidate model.Update[model.Position]) {
	f.mu.Lock()
	accepted := f.sel.AcceptPosition(candidate, f.curPos, f.hasPos)
	if accepted {
		f.curPos, f.hasPos = candidate, true
	}
	f.mu.Unlock()

	if accepted {
		f.posOut.Emit(candidate)
	}
}

func (f *Fusion) onHeading(candidate model.Update[model.Heading]) {
	f.mu.Lock()
	sameSource := f.hasHdg && candidate.SourceID == f.curHdg.SourceID
	accepted := f.sel.acceptGeneric(candidate.When, f.curHdg.When, sameSource, f.hasHdg)
	if accepted {
		f.curHdg, f.hasHdg = candidate, true
	}
	f.mu.Unlock()

	if accepted {
		f.hdgOut.Emit(candidate)
	}
}

func (f *Fusion) onVelocity(candidate model.Update[model.Velocity]) {
	f.mu.Lock()
	sameSource := f.hasVel && candidate.SourceID == f.curVel.SourceID
	accepted := f.sel.acceptGeneric(candidate.When, f.curVel.When, sameSource, f.hasVel)
	if accepted {
		f.curVel, f.hasVel = candidate, true
	}
	f.mu.Unlock()

	if accepted {
		f.velOut.Emit(candidate)
	}
}

// PositionUpdates returns the fused position stream.
func (f *Fusion) PositionUpdates() *cell.Signal[model.Update[model.Position]] { return f.posOut }

// HeadingUpdates returns the fused heading stream.
func (f *Fusion) HeadingUpdates() *cell.Signal[model.Update[model.Heading]] { return f.hdgOut }

// VelocityUpdates returns the fused velocity stream.
func (f *Fusion) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] { return f.velOut }

// StartPositionUpdates fans out to every member.
func (f *Fusion) StartPositionUpdates() {
	for _, m := range f.members {
		m.StartPositionUpdates()
	}
}

// StopPositionUpdates fans out to every member.
func (f *Fusion) StopPositionUpdates() {
	for _, m := range f.members {
		m.StopPositionUpdates()
	}
}

// StartHeadingUpdates fans out to every member.
func (f *Fusion) StartHeadingUpdates() {
	for _, m := range f.members {
		m.StartHeadingUpdates()
	}
}

// StopHeadingUpdates fans out to every member.
func (f *Fusion) StopHeadingUpdates() {
	for _, m := range f.members {
		m.StopHeadingUpdates()
	}
}

// StartVelocityUpdates fans out to every member.
func (f *Fusion) StartVelocityUpdates() {
	for _, m := range f.members {
		m.StartVelocityUpdates()
	}
}

// StopVelocityUpdates fans out to every member.
func (f *Fusion) StopVelocityUpdates() {
	for _, m := range f.members {
		m.StopVelocityUpdates()
	}
}

// Close detaches every forwarding connection.
func (f *Fusion) Close() {
	for _, c := range f.conns {
		c.Disconnect()
	}
}
