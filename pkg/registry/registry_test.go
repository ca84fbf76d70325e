package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/provider"
)

func TestCreateUnknownClassFails(t *testing.T) {
	_, err := Create("no::Such::Provider", Config{})
	require.Error(t, err)
}

func TestRegisterAndCreatePassesConfig(t *testing.T) {
	var seen Config
	Register("test::Provider", func(cfg Config) (provider.Provider, error) {
		seen = cfg
		return nil, errors.New("not built in this test")
	})

	_, err := Create("test::Provider", Config{"serial.device": "/dev/ttyUSB1"})
	require.Error(t, err)
	require.Equal(t, "/dev/ttyUSB1", seen.GetDefault("serial.device", ""))
}

func TestNamesIncludesRegisteredClasses(t *testing.T) {
	Register("zz::Provider", func(Config) (provider.Provider, error) { return nil, nil })
	require.Contains(t, Names(), "zz::Provider")
}

func TestConfigGetDefault(t *testing.T) {
	cfg := Config{"a": "1"}
	require.Equal(t, "1", cfg.GetDefault("a", "x"))
	require.Equal(t, "x", cfg.GetDefault("b", "x"))

	v, ok := cfg.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)
	_, ok = cfg.Get("b")
	require.False(t, ok)
}
