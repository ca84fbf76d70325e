package nmea

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/starfail/locationengine/pkg/cell"
	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/provider"
	"github.com/starfail/locationengine/pkg/registry"
	"github.com/starfail/locationengine/pkg/retry"
	"github.com/starfail/locationengine/pkg/units"
)

func init() {
	registry.Register("nmea::Provider", func(cfg registry.Config) (provider.Provider, error) {
		return New(configFromBundle(cfg)), nil
	})
}

// Config controls which serial device is read and how opening the device
// is retried; a read error or EOF ends the read loop without a reopen. When SSH is set, the device is read from a remote host over
// SSH instead of a local serial port.
type Config struct {
	Device            string
	SSH               *SSHConfig
	ReopenRetry       retry.Config
	DefaultHorizontal units.Meters
}

// SSHConfig dials a remote RutOS-style router and runs Command on it to
// stream NMEA text back over the resulting stdout pipe.
type SSHConfig struct {
	Host           string
	Port           string
	User           string
	PrivateKeyPath string
	PrivateKeyPEM  []byte
	Command        string
	Timeout        time.Duration
}

// DefaultSSHConfig mirrors cmd/test-rutos-gps's flag defaults: a RutOS
// router reachable at its LAN address, root over key auth, reading the
// GPS serial device through a remote `cat`.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		Host:    "192.168.80.1",
		Port:    "22",
		User:    "root",
		Command: "cat /dev/ttyUSB1",
		Timeout: 10 * time.Second,
	}
}

// DefaultConfig returns the conventional RutOS-style GPS device path and
// the standard retry policy for reopening it.
func DefaultConfig() Config {
	return Config{
		Device:            "/dev/ttyUSB1",
		ReopenRetry:       retry.DefaultConfig(),
		DefaultHorizontal: 10,
	}
}

func configFromBundle(cfg registry.Config) Config {
	c := DefaultConfig()
	c.Device = cfg.GetDefault("device", c.Device)
	if host := cfg.GetDefault("ssh_host", ""); host != "" {
		sshCfg := DefaultSSHConfig()
		sshCfg.Host = host
		sshCfg.Port = cfg.GetDefault("ssh_port", sshCfg.Port)
		sshCfg.User = cfg.GetDefault("ssh_user", sshCfg.User)
		sshCfg.PrivateKeyPath = cfg.GetDefault("ssh_key_path", sshCfg.PrivateKeyPath)
		sshCfg.Command = cfg.GetDefault("ssh_command", sshCfg.Command)
		c.SSH = &sshCfg
	}
	return c
}

// Provider reads NMEA sentences from a local serial device, or from a
// remote one over SSH when Config.SSH is set, and turns GGA/RMC/GSV
// sentences into position, velocity, heading and space-vehicle updates.
type Provider struct {
	id  uuid.UUID
	cfg Config
	log *logrus.Logger

	open func(ctx context.Context) (io.ReadCloser, error)

	posSig *cell.Signal[model.Update[model.Position]]
	hdgSig *cell.Signal[model.Update[model.Heading]]
	velSig *cell.Signal[model.Update[model.Velocity]]
	svSig  *cell.Signal[map[model.SvKey]model.SpaceVehicle]

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	visible map[model.SvKey]model.SpaceVehicle
}

// New constructs a Provider for the given configuration with a fresh
// source identity.
func New(cfg Config) *Provider {
	p := &Provider{
		id:      uuid.New(),
		cfg:     cfg,
		log:     logrus.StandardLogger(),
		posSig:  cell.NewSignal[model.Update[model.Position]](),
		hdgSig:  cell.NewSignal[model.Update[model.Heading]](),
		velSig:  cell.NewSignal[model.Update[model.Velocity]](),
		svSig:   cell.NewSignal[map[model.SvKey]model.SpaceVehicle](),
		visible: make(map[model.SvKey]model.SpaceVehicle),
	}
	if cfg.SSH != nil {
		p.open = p.openSSH
	} else {
		p.open = func(context.Context) (io.ReadCloser, error) {
			return os.Open(cfg.Device)
		}
	}
	return p
}

// openSSH dials the configured router over SSH and starts streaming
// Config.SSH.Command's stdout.
func (p *Provider) openSSH(ctx context.Context) (io.ReadCloser, error) {
	sshCfg := p.cfg.SSH

	key := sshCfg.PrivateKeyPEM
	if key == nil {
		var err error
		key, err = os.ReadFile(sshCfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("nmea: reading ssh private key: %w", err)
		}
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("nmea: parsing ssh private key: %w", err)
	}

	clientCfg := &ssh.ClientConfig{
		User:            sshCfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshCfg.Timeout,
	}
	client, err := ssh.Dial("tcp", sshCfg.Host+":"+sshCfg.Port, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("nmea: ssh dial %s: %w", sshCfg.Host, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("nmea: ssh session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("nmea: ssh stdout pipe: %w", err)
	}
	if err := session.Start(sshCfg.Command); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("nmea: ssh start %q: %w", sshCfg.Command, err)
	}

	return &sshStream{stdout: stdout, session: session, client: client}, nil
}

// sshStream adapts an in-flight SSH session's stdout pipe to
// io.ReadCloser, closing the session and the underlying client together.
type sshStream struct {
	stdout  io.Reader
	session *ssh.Session
	client  *ssh.Client
}

func (s *sshStream) Read(p []byte) (int, error) { return s.stdout.Read(p) }

func (s *sshStream) Close() error {
	sessErr := s.session.Close()
	cliErr := s.client.Close()
	if sessErr != nil {
		return sessErr
	}
	return cliErr
}

// ID returns this provider's stable source identity.
func (p *Provider) ID() uuid.UUID { return p.id }

// Requirements reports that NMEA positioning needs a satellite fix.
func (p *Provider) Requirements() model.Requirements {
	return model.Requirements(model.RequiresSatellites)
}

// Satisfies reports true for any criteria asking for position, heading or
// velocity: a GGA/RMC stream carries all three.
func (p *Provider) Satisfies(model.Criteria) bool { return true }

// Enable is a no-op; the provider has no permission gating of its own
// beyond Activate/Deactivate.
func (p *Provider) Enable() {}

// Disable is a no-op.
func (p *Provider) Disable() {}

// Activate opens the device and starts reading sentences. Idempotent.
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

// Deactivate stops reading and waits for the read loop to exit. Idempotent.
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

	runner := retry.NewRunner(p.cfg.ReopenRetry)
	var rc io.ReadCloser
	err := runner.Do(ctx, func() error {
		r, openErr := p.open(ctx)
		if openErr != nil {
			return openErr
		}
		rc = r
		return nil
	})
	if err != nil {
		p.log.WithError(err).WithField("device", p.cfg.Device).Warn("nmea: giving up opening device")
		return
	}
	defer rc.Close()

	go func() {
		<-ctx.Done()
		rc.Close()
	}()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.handleLine(strings.TrimSpace(scanner.Text()))
	}
}

func (p *Provider) handleLine(line string) {
	if len(line) < 6 || line[0] != '$' {
		return
	}
	switch {
	case strings.HasSuffix(line[:6], "GGA"):
		p.handleGGA(line)
	case strings.HasSuffix(line[:6], "RMC"):
		p.handleRMC(line)
	case strings.HasSuffix(line[:6], "GSV"):
		p.handleGSV(line)
	}
}

func (p *Provider) handleGGA(line string) {
	fix, err := ParseGGA(line)
	if err != nil {
		p.log.WithError(err).Debug("nmea: dropping malformed GGA sentence")
		return
	}
	if fix.FixQuality == 0 {
		return
	}
	now := time.Now()
	pos := model.Position{
		Latitude:  units.Degrees(fix.Latitude),
		Longitude: units.Degrees(fix.Longitude),
		Accuracy:  model.Accuracy{Horizontal: &p.cfg.DefaultHorizontal},
	}
	if fix.HasAltitude {
		alt := units.Meters(fix.Altitude)
		pos.Altitude = &alt
	}
	p.posSig.Emit(model.NewUpdate(pos, now, p.id))
}

func (p *Provider) handleRMC(line string) {
	rmc, err := ParseRMC(line)
	if err != nil {
		p.log.WithError(err).Debug("nmea: dropping malformed RMC sentence")
		return
	}
	if !rmc.Valid {
		return
	}
	now := time.Now()
	speedMS := rmc.SpeedKnots * 0.514444
	p.velSig.Emit(model.NewUpdate(model.Velocity{Speed: units.MetersPerSecond(speedMS)}, now, p.id))
	p.hdgSig.Emit(model.NewUpdate(model.NewHeading(units.Degrees(rmc.TrackDegrees)), now, p.id))
}

func (p *Provider) handleGSV(line string) {
	gsv, err := ParseGSV(line)
	if err != nil {
		p.log.WithError(err).Debug("nmea: dropping malformed GSV sentence")
		return
	}
	constellation := constellationFromTalker(line)

	p.mu.Lock()
	for _, sat := range gsv.Satellites {
		key := model.SvKey{Constellation: constellation, SatelliteID: sat.PRN}
		p.visible[key] = model.SpaceVehicle{
			Key:       key,
			SNR:       float64(sat.SNR),
			UsedInFix: sat.SNR > 0,
			Azimuth:   units.Degrees(sat.AzimuthDegrees),
			Elevation: units.Degrees(sat.ElevationDegrees),
		}
	}
	snapshot := make(map[model.SvKey]model.SpaceVehicle, len(p.visible))
	for k, v := range p.visible {
		snapshot[k] = v
	}
	p.mu.Unlock()

	p.svSig.Emit(snapshot)
}

func constellationFromTalker(line string) model.Constellation {
	if len(line) < 3 {
		return model.ConstellationGPS
	}
	switch line[1:3] {
	case "GL":
		return model.ConstellationGLONASS
	case "GA":
		return model.ConstellationGalileo
	case "GB":
		return model.ConstellationBeiDou
	default:
		return model.ConstellationGPS
	}
}

// OnNewEvent is a no-op: the NMEA provider ignores out-of-band events.
func (p *Provider) OnNewEvent(provider.Event) {}

// OnReferencePositionUpdated is a no-op: a GPS receiver has no use for a
// reference position fed back to it.
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

// SpaceVehicleUpdates returns the visible-satellite-set stream.
func (p *Provider) SpaceVehicleUpdates() *cell.Signal[map[model.SvKey]model.SpaceVehicle] {
	return p.svSig
}
