package settings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type color int

const (
	colorRed color = iota
	colorBlue
)

func encodeColor(c color) string {
	switch c {
	case colorBlue:
		return "blue"
	default:
		return "red"
	}
}

func decodeColor(s string) (color, bool) {
	switch s {
	case "red":
		return colorRed, true
	case "blue":
		return colorBlue, true
	default:
		return colorRed, false
	}
}

// For each persisted enum: SetEnum(k, v) followed by GetEnum(k, default)
// yields v.
func TestRoundTripOfSettings(t *testing.T) {
	store := NewMemory()
	SetEnum(store, "Engine::State", colorBlue, encodeColor)

	got, err := GetEnum(store, "Engine::State", colorRed, decodeColor)
	require.NoError(t, err)
	require.Equal(t, colorBlue, got)
}

func TestGetEnumReturnsDefaultWhenUnset(t *testing.T) {
	store := NewMemory()
	got, err := GetEnum(store, "Engine::State", colorRed, decodeColor)
	require.NoError(t, err)
	require.Equal(t, colorRed, got)
}

func TestGetEnumBadValueSubstitutesDefault(t *testing.T) {
	store := NewMemory()
	store.SetString("Engine::State", "purple")

	got, err := GetEnum(store, "Engine::State", colorRed, decodeColor)
	require.Error(t, err)
	var bv *BadValue
	require.ErrorAs(t, err, &bv)
	require.Equal(t, colorRed, got)
}
