// Package mls implements a network-based position provider: it submits
// visible wifi access points and cell towers to a geolocation API and
// turns the returned fix into a position update. Observations are polled
// on a timer; there is no connectivity manager pushing scan results here.
package mls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"googlemaps.github.io/maps"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/registry"
	"github.com/starfail/locationengine/pkg/retry"
	"github.com/starfail/locationengine/pkg/units"
)

func init() {
	registry.Register("mls::Provider", func(cfg registry.Config) (provider.Provider, error) {
		return New(configFromBundle(cfg)), nil
	})
}

// Config controls the geolocation backend and polling cadence.
type Config struct {
	APIKey       string
	PollInterval time.Duration
	Retry        retry.Config
}

// DefaultConfig uses a placeholder API key and a conservative polling
// cadence.
func DefaultConfig() Config {
	return Config{
		APIKey:       "test",
		PollInterval: 30 * time.Second,
		Retry:        retry.DefaultConfig(),
	}
}

func configFromBundle(cfg registry.Config) Config {
	c := DefaultConfig()
	c.APIKey = cfg.GetDefault("api_key", c.APIKey)
	return c
}

// WifiObservation is one visible access point.
type WifiObservation struct {
	BSSID          string
	SignalStrength float64
}

// Geolocator is the subset of the Google Maps geolocation client this
// provider depends on, satisfied by *maps.Client in production and a fake
// in tests.
type Geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// Provider submits the observations handed to it via ObserveWifi/ObserveCell
// to a geolocation backend on a timer and emits the resulting position.
type Provider struct {
	id  uuid.UUID
	cfg Config
	log *logrus.Logger

	client Geolocator
	runner *retry.Runner

	posSig *cell.Signal[model.Update[model.Position]]
	hdgSig *cell.Signal[model.Update[model.Heading]]
	velSig *cell.Signal[model.Update[model.Velocity]]
	svSig  *cell.Signal[map[model.SvKey]model.SpaceVehicle]

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wifis   []WifiObservation
	cells   []model.RadioCell
}

// New constructs a Provider backed by a real Google Maps geolocation
// client. If client construction fails (a malformed API key), New logs a
// warning once and the provider still builds, but every poll returns
// without producing an update.
func New(cfg Config) *Provider {
	p := &Provider{
		id:     uuid.New(),
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		runner: retry.NewRunner(cfg.Retry),
		posSig: cell.NewSignal[model.Update[model.Position]](),
		hdgSig: cell.NewSignal[model.Update[model.Heading]](),
		velSig: cell.NewSignal[model.Update[model.Velocity]](),
		svSig:  cell.NewSignal[map[model.SvKey]model.SpaceVehicle](),
	}
	if c, err := maps.NewClient(maps.WithAPIKey(cfg.APIKey)); err == nil {
		p.client = c
	} else {
		p.log.WithError(err).Warn("mls: failed to construct geolocation client")
	}
	return p
}

// NewWithClient constructs a Provider against an arbitrary Geolocator,
// primarily for tests.
func NewWithClient(cfg Config, client Geolocator) *Provider {
	p := New(cfg)
	p.client = client
	return p
}

// ID returns this provider's stable source identity.
func (p *Provider) ID() uuid.UUID { return p.id }

// Requirements reports that network positioning needs cellular or data
// connectivity, and spends money against a metered API.
func (p *Provider) Requirements() model.Requirements {
	return model.Requirements(model.RequiresDataNetwork | model.RequiresMonetarySpending)
}

// Satisfies reports true only for position-only criteria: the backend
// returns a single lat/lon/accuracy fix, never heading or velocity.
func (p *Provider) Satisfies(c model.Criteria) bool {
	return !c.Wants(model.FeatureHeading) && !c.Wants(model.FeatureVelocity)
}

// Enable is a no-op.
func (p *Provider) Enable() {}

// Disable is a no-op.
func (p *Provider) Disable() {}

// ObserveWifi replaces the set of visible wifi access points submitted on
// the next poll.
func (p *Provider) ObserveWifi(wifis []WifiObservation) {
	p.mu.Lock()
	p.wifis = wifis
	p.mu.Unlock()
}

// ObserveCells replaces the set of visible cell towers submitted on the
// next poll.
func (p *Provider) ObserveCells(cells []model.RadioCell) {
	p.mu.Lock()
	p.cells = cells
	p.mu.Unlock()
}

// Activate starts the polling goroutine. Idempotent.
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

// Deactivate stops polling and waits for the loop to exit. Idempotent.
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
	p.poll(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Provider) poll(ctx context.Context) {
	if p.client == nil {
		return
	}
	req := p.buildRequest()

	var result *maps.GeolocationResult
	err := p.runner.Do(ctx, func() error {
		r, geoErr := p.client.Geolocate(ctx, req)
		if geoErr != nil {
			return geoErr
		}
		result = r
		return nil
	})
	if err != nil {
		p.log.WithError(err).Warn("mls: geolocation request failed")
		return
	}

	horizontal := units.Meters(result.Accuracy)
	pos := model.Position{
		Latitude:  units.Degrees(result.Location.Lat),
		Longitude: units.Degrees(result.Location.Lng),
		Accuracy:  model.Accuracy{Horizontal: &horizontal},
	}
	p.posSig.Emit(model.NewUpdate(pos, time.Now(), p.id))
}

func (p *Provider) buildRequest() *maps.GeolocationRequest {
	p.mu.Lock()
	wifis := append([]WifiObservation(nil), p.wifis...)
	cells := append([]model.RadioCell(nil), p.cells...)
	p.mu.Unlock()

	req := &maps.GeolocationRequest{ConsiderIP: true}
	for _, w := range wifis {
		req.WiFiAccessPoints = append(req.WiFiAccessPoints, maps.WiFiAccessPoint{
			MACAddress:     w.BSSID,
			SignalStrength: w.SignalStrength,
		})
	}
	for _, c := range cells {
		if tower, ok := cellTower(c); ok {
			req.CellTowers = append(req.CellTowers, tower)
		}
	}
	return req
}

func cellTower(c model.RadioCell) (maps.CellTower, bool) {
	switch c.Technology() {
	case model.RadioGSM:
		g, _ := c.GSM()
		return maps.CellTower{
			MobileCountryCode: g.MCC, MobileNetworkCode: g.MNC,
			LocationAreaCode: g.LAC, CellID: g.CellID,
		}, true
	case model.RadioUMTS:
		u, _ := c.UMTS()
		return maps.CellTower{
			MobileCountryCode: u.MCC, MobileNetworkCode: u.MNC,
			LocationAreaCode: u.LAC, CellID: u.CellID,
		}, true
	case model.RadioLTE:
		l, _ := c.LTE()
		return maps.CellTower{
			MobileCountryCode: l.MCC, MobileNetworkCode: l.MNC,
			LocationAreaCode: l.TAC, CellID: l.CellID,
		}, true
	default:
		return maps.CellTower{}, false
	}
}

// OnNewEvent is a no-op: the mls provider has no use for reference or
// reporting-state events beyond what ObserveWifi/ObserveCells already
// drive.
func (p *Provider) OnNewEvent(provider.Event) {}

// OnReferencePositionUpdated is a no-op.
func (p *Provider) OnReferencePositionUpdated(model.Update[model.Position]) {}

// OnReferenceVelocityUpdated is a no-op.
func (p *Provider) OnReferenceVelocityUpdated(model.Update[model.Velocity]) {}

// OnReferenceHeadingUpdated is a no-op.
func (p *Provider) OnReferenceHeadingUpdated(model.Update[model.Heading]) {}

// OnWifiAndCellReportingStateChanged stops or resumes polling: with
// reporting disabled, submitting wifi/cell observations to a third-party
// backend would violate the operator's choice.
func (p *Provider) OnWifiAndCellReportingStateChanged(on bool) {
	if on {
		p.Activate()
	} else {
		p.Deactivate()
	}
}

// PositionUpdates returns the position update stream.
func (p *Provider) PositionUpdates() *cell.Signal[model.Update[model.Position]] { return p.posSig }

// HeadingUpdates returns an always-silent heading stream.
func (p *Provider) HeadingUpdates() *cell.Signal[model.Update[model.Heading]] { return p.hdgSig }

// VelocityUpdates returns an always-silent velocity stream.
func (p *Provider) VelocityUpdates() *cell.Signal[model.Update[model.Velocity]] { return p.velSig }

// SpaceVehicleUpdates returns an always-silent space-vehicle stream: the
// network provider reports no satellites.
func (p *Provider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return p.svSig
}
