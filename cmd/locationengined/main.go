// Command locationengined is the positioning-engine daemon: it builds an
// Engine, bootstraps the configured providers from pkg/registry, wires
// mqtt/metrics/health/telem/notification/audit around it, and runs until
// signalled to stop.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/starfail/locationengine/pkg/audit"
	"github.com/starfail/locationengine/pkg/engine"
	"github.com/starfail/locationengine/pkg/health"
	"github.com/starfail/locationengine/pkg/logx"
	"github.com/starfail/locationengine/pkg/metrics"
	"github.com/starfail/locationengine/pkg/mqtt"
	"github.com/starfail/locationengine/pkg/notification"
	"github.com/starfail/locationengine/pkg/registry"
	"github.com/starfail/locationengine/pkg/settings"
	"github.com/starfail/locationengine/pkg/settings/uci"
	"github.com/starfail/locationengine/pkg/telem"

	// Concrete provider packages self-register into pkg/registry from
	// their init functions; importing them for side effect is how the
	// bootstrap layer learns about them. The engine itself never consults
	// the registry.
	_ "github.com/starfail/locationengine/pkg/providers/dummy"
	_ "github.com/starfail/locationengine/pkg/providers/mls"
	_ "github.com/starfail/locationengine/pkg/providers/nmea"
	_ "github.com/starfail/locationengine/pkg/providers/remote"
)

const (
	version = "1.0.0-dev"
	appName = "locationengined"
)

var (
	logLevel    = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	uciSection  = flag.String("uci-section", "", "UCI config section for persisted engine state, e.g. locationengine.engine; empty uses in-memory settings")
	providers   = flag.String("providers", "dummy::Provider", "comma-separated list of class[=instance] provider-registry entries to bootstrap")
	tickPeriod  = flag.Duration("tick", 5*time.Second, "main loop tick period")
	mqttEnabled = flag.Bool("mqtt", false, "enable the MQTT bridge")
	mqttBroker  = flag.String("mqtt-broker", "localhost", "MQTT broker host")
	metricsAddr = flag.String("metrics-addr", ":9110", "Prometheus metrics listen address")
	healthAddr  = flag.String("health-addr", ":9111", "health endpoint listen address")
	telemPath   = flag.String("telem-path", ":memory:", "sqlite3 DSN for telemetry persistence")
	auditDir    = flag.String("audit-dir", "", "directory for the audit log; empty disables auditing")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, version)
		os.Exit(0)
	}

	logger := logx.New(*logLevel)
	logger.Info("starting location engine daemon", "version", version)

	store := buildSettings(logger)

	eng := engine.New(store, logger)
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("engine close failed", "error", err.Error())
		}
	}()

	notifier := notification.NewManager(notification.DefaultConfig(), logger)
	eng.OnEngineStateChange(func(st engine.EngineState) {
		notifier.NotifyEngineStateChange("", st.String())
	})

	var auditLog *audit.Logger
	if *auditDir != "" {
		var err error
		auditLog, err = audit.New(*auditDir)
		if err != nil {
			logger.Error("audit logger unavailable, continuing without it", "error", err.Error())
		} else {
			defer auditLog.Close()
		}
	}

	bootstrapProviders(eng, logger, notifier, auditLog, *providers)

	telemStore, err := telem.NewStore(telem.Config{Path: *telemPath, MaxSamples: telem.DefaultConfig().MaxSamples, Retention: telem.DefaultConfig().Retention})
	if err != nil {
		logger.Error("telemetry store unavailable, continuing without it", "error", err.Error())
	} else {
		defer telemStore.Close()
		telemStore.Subscribe(eng, func(err error) {
			logger.Error("telemetry record failed", "error", err.Error())
		})
	}

	metricsSrv := metrics.NewServer(metrics.Config{Addr: *metricsAddr, PollInterval: metrics.DefaultConfig().PollInterval}, logger)
	stopMetricsPoll := metricsSrv.Subscribe(eng)
	if err := metricsSrv.Start(); err != nil {
		logger.Error("metrics server failed to start", "error", err.Error())
	}
	defer func() {
		stopMetricsPoll()
		metricsSrv.Stop()
	}()

	healthSrv := health.NewServer(eng, version, logger)
	if err := healthSrv.Start(*healthAddr); err != nil {
		logger.Error("health server failed to start", "error", err.Error())
	}
	defer healthSrv.Stop()

	mqttCfg := mqtt.DefaultConfig()
	mqttCfg.Enabled = *mqttEnabled
	mqttCfg.Broker = *mqttBroker
	bridge := mqtt.New(mqttCfg, logger)
	if err := bridge.Connect(); err != nil {
		logger.Error("mqtt bridge failed to connect", "error", err.Error())
	}
	bridge.Subscribe(eng)
	defer bridge.Disconnect()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ticker := time.NewTicker(*tickPeriod)
	defer ticker.Stop()

	logger.Info("daemon started successfully")

	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("received SIGHUP, toggling satellite-based positioning")
				toggleSatelliteState(eng)
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("received shutdown signal", "signal", sig.String())
				return
			}

		case <-ticker.C:
			logTick(eng, logger)
		}
	}
}

// buildSettings selects the UCI-backed settings store when a section is
// configured; otherwise falls back to an in-memory store so the daemon
// runs standalone without a `uci` binary present.
func buildSettings(logger *logx.Logger) settings.Settings {
	if *uciSection == "" {
		logger.Info("no uci-section configured, using in-memory settings")
		return settings.NewMemory()
	}
	return uci.New(*uciSection, logger)
}

// bootstrapProviders parses the -providers flag ("class[=instance],...")
// and instantiates each through pkg/registry, adding it to eng under its
// instance name (defaulting to the class name). One bad entry is logged
// and skipped rather than aborting the whole daemon.
func bootstrapProviders(eng *engine.Engine, logger *logx.Logger, notifier *notification.Manager, auditLog *audit.Logger, spec string) {
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		class, instance := entry, entry
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			class, instance = entry[:idx], entry[idx+1:]
		}

		p, err := registry.Create(class, registry.Config{})
		if err != nil {
			logger.Error("failed to create provider", "class", class, "error", err.Error())
			notifier.NotifyProviderFault(instance, err)
			continue
		}
		if err := eng.AddProvider(instance, p); err != nil {
			logger.Error("failed to add provider", "name", instance, "error", err.Error())
			notifier.NotifyProviderFault(instance, err)
			continue
		}
		if auditLog != nil {
			auditLog.ProviderAdded(instance, int(p.Requirements()))
		}
		logger.Info("bootstrapped provider", "class", class, "name", instance)
	}
}

// toggleSatelliteState flips satellite_based_positioning_state on SIGHUP.
// There is no config file to re-read here, only the one runtime toggle the
// spec exposes beyond engine_state itself.
func toggleSatelliteState(eng *engine.Engine) {
	switch eng.SatelliteBasedPositioningState() {
	case engine.ToggleOn:
		eng.SetSatelliteBasedPositioningState(engine.ToggleOff)
	default:
		eng.SetSatelliteBasedPositioningState(engine.ToggleOn)
	}
}

func logTick(eng *engine.Engine, logger *logx.Logger) {
	kv := []interface{}{"engine_state", eng.EngineState().String()}
	if pos, ok := eng.LastKnownPosition(); ok {
		kv = append(kv, "lat", pos.Value.Latitude, "lon", pos.Value.Longitude)
	}
	logger.Debug("tick", kv...)
}
