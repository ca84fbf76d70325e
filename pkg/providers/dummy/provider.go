// Package dummy implements a deterministic, configurable demo/test
// provider: once activated it emits its configured reference
// position/heading/velocity on a fixed period, unconditionally, until
// deactivated.
package dummy

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/registry"
	"github.com/starfail/locationengine/pkg/units"
)

func init() {
	registry.Register("dummy::Provider", func(cfg registry.Config) (provider.Provider, error) {
		return New(configFromBundle(cfg)), nil
	})
}

// Config holds the fixed reference fix and emission period.
type Config struct {
	UpdatePeriod           time.Duration
	ReferenceLatitude      units.Degrees
	ReferenceLongitude     units.Degrees
	ReferenceAltitude      *units.Meters
	ReferenceHorizontalAcc *units.Meters
	ReferenceVerticalAcc   *units.Meters
	ReferenceVelocity      units.MetersPerSecond
	ReferenceHeading       units.Degrees
}

// DefaultConfig is a plausible mid-Europe reference fix.
func DefaultConfig() Config {
	return Config{
		UpdatePeriod:       500 * time.Millisecond,
		ReferenceLatitude:  51,
		ReferenceLongitude: 7,
		ReferenceVelocity:  9,
		ReferenceHeading:   127,
	}
}

func configFromBundle(cfg registry.Config) Config {
	c := DefaultConfig()
	if v, ok := cfg.Get("update_period_ms"); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			c.UpdatePeriod = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := cfg.Get("reference_position_lat"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ReferenceLatitude = units.Degrees(f)
		}
	}
	if v, ok := cfg.Get("reference_position_lon"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ReferenceLongitude = units.Degrees(f)
		}
	}
	if v, ok := cfg.Get("reference_velocity"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ReferenceVelocity = units.MetersPerSecond(f)
		}
	}
	if v, ok := cfg.Get("reference_heading"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ReferenceHeading = units.Degrees(f)
		}
	}
	return c
}

// Provider is the deterministic demo provider. Enable/Disable are no-ops;
// Activate/Deactivate start and stop the emission goroutine.
type Provider struct {
	id  uuid.UUID
	cfg Config

	posSig *cell.Signal[model.Update[model.Position]]
	hdgSig *cell.Signal[model.Update[model.Heading]]
	velSig *cell.Signal[model.Update[model.Velocity]]
	svSig  *cell.Signal[map[model.SvKey]model.SpaceVehicle]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Provider with the given configuration and a fresh
// source identity.
func New(cfg Config) *Provider {
	return &Provider{
		id:     uuid.New(),
		cfg:    cfg,
		posSig: cell.NewSignal[model.Update[model.Position]](),
		hdgSig: cell.NewSignal[model.Update[model.Heading]](),
		velSig: cell.NewSignal[model.Update[model.Velocity]](),
		svSig:  cell.NewSignal[map[model.SvKey]model.SpaceVehicle](),
	}
}

// ID returns this provider's stable source identity.
func (p *Provider) ID() uuid.UUID { return p.id }

// Requirements reports that the dummy provider needs nothing.
func (p *Provider) Requirements() model.Requirements { return 0 }

// Satisfies always reports true: the dummy provider can serve any criteria.
func (p *Provider) Satisfies(model.Criteria) bool { return true }

// Enable is a no-op; the dummy provider has no permission gating of its own.
func (p *Provider) Enable() {}

// Disable is a no-op.
func (p *Provider) Disable() {}

// Activate starts the emission goroutine. Idempotent.
func (p *Provider) Activate() {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
}

// Deactivate stops the emission goroutine and waits for it to exit.
// Idempotent.
func (p *Provider) Deactivate() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

func (p *Provider) run(ctx context.Context) {
	defer p.wg.Done()
	p.emit()

	ticker := time.NewTicker(p.cfg.UpdatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.emit()
		}
	}
}

func (p *Provider) emit() {
	now := time.Now()
	pos := model.Position{
		Latitude:  p.cfg.ReferenceLatitude,
		Longitude: p.cfg.ReferenceLongitude,
		Altitude:  p.cfg.ReferenceAltitude,
		Accuracy: model.Accuracy{
			Horizontal: p.cfg.ReferenceHorizontalAcc,
			Vertical:   p.cfg.ReferenceVerticalAcc,
		},
	}
	p.posSig.Emit(model.NewUpdate(pos, now, p.id))
	p.hdgSig.Emit(model.NewUpdate(model.NewHeading(p.cfg.ReferenceHeading), now, p.id))
	p.velSig.Emit(model.NewUpdate(model.Velocity{Speed: p.cfg.ReferenceVelocity}, now, p.id))
}

// OnNewEvent is a no-op: the dummy provider ignores out-of-band events.
func (p *Provider) OnNewEvent(provider.Event) {}

// OnReferencePositionUpdated is a no-op: the dummy provider has no
// reference-data-driven behavior.
func (p *Provider) OnReferencePositionUpdated(model.Update[model.Position]) {}

// OnReferenceVelocityUpdated is a no-op.
func (p *Provider) OnReferenceVelocityUpdated(model.Update[model.Velocity]) {}

// OnReferenceHeadingUpdated is a no-op.
func (p *Provider) OnReferenceHeadingUpdated(model.Update[model.Heading]) {}

// OnWifiAndCellReportingStateChanged is a no-op.
func (p *Provider) OnWifiAndCellReportingStateChanged(bool) {}

// PositionUpdates returns the position update stream.
func (p *Provider) PositionUpdates() *cell.Signal[model.Update[model.Position]] { return p.posSig }

// HeadingUpdates returns the heading update stream.
func (p *Provider) HeadingUpdates() *cell.Signal[model.Update[model.Heading]] { return p.hdgSig }

// VelocityUpdates returns the velocity update stream.
func (p *Provider) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] { return p.velSig }

// SpaceVehicleUpdates returns the (always empty) space-vehicle stream: the
// dummy provider reports no satellites.
func (p *Provider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return p.svSig
}
