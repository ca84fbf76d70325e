package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/engine"
	"github.com/starfail/locationengine/pkg/logx"
	"github.com/starfail/locationengine/pkg/settings"
)

func TestDisabledBridgeConnectAndSubscribeAreNoOps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	b := New(cfg, logx.New("error"))

	require.NoError(t, b.Connect())

	e := engine.New(settings.NewMemory(), logx.New("error"))
	require.NotPanics(t, func() { b.Subscribe(e) })

	e.SetEngineState(engine.EngineStateOff)
	require.False(t, b.IsConnected())

	b.Disconnect()
}

func TestDefaultConfigMatchesConventionalBroker(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "localhost", cfg.Broker)
	require.Equal(t, 1883, cfg.Port)
	require.True(t, cfg.Retain)
	require.False(t, cfg.Enabled)
}
