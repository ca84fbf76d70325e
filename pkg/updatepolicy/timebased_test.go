package updatepolicy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/model"
	"github.com/starfail/locationengine/pkg/units"
)

func meters(v float64) *units.Meters {
	m := units.Meters(v)
	return &m
}

func posUpdate(lat, lon float64, when time.Time, accM float64) model.Update[model.Position] {
	return model.NewUpdate(model.Position{
		Latitude:  units.Degrees(lat),
		Longitude: units.Degrees(lon),
		Accuracy:  model.Accuracy{Horizontal: meters(accM)},
	}, when, uuid.New())
}

// The time-based policy accepts a significantly newer update.
func TestVerifyPositionAcceptsSignificantlyNewer(t *testing.T) {
	p := New(2 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := posUpdate(9, 53, base, 50)
	require.Equal(t, first, p.VerifyPosition(first))

	second := posUpdate(9.1, 53.1, base.Add(3*time.Minute), 50)
	got := p.VerifyPosition(second)
	require.Equal(t, second, got)
}

// An update that is both older and less accurate is rejected.
func TestVerifyPositionRejectsOlderAndLessAccurate(t *testing.T) {
	p := New(2 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := posUpdate(9, 53, base, 50)
	p.VerifyPosition(first)

	second := posUpdate(9, 53, base.Add(-3*time.Second), 500)
	got := p.VerifyPosition(second)
	require.Equal(t, first, got)
}

func TestVerifyPositionTieAcceptsEqualAccuracy(t *testing.T) {
	p := New(2 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := posUpdate(9, 53, base, 50)
	p.VerifyPosition(first)

	second := posUpdate(9, 53, base, 50)
	got := p.VerifyPosition(second)
	require.Equal(t, second, got)
}

func TestVerifyPositionWithinWindowRejectsWorseAccuracy(t *testing.T) {
	p := New(2 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := posUpdate(9, 53, base, 10)
	p.VerifyPosition(first)

	second := posUpdate(9, 53, base.Add(30*time.Second), 20)
	got := p.VerifyPosition(second)
	require.Equal(t, first, got)
}

// Strictly increasing timestamps separated by more than timeout are every
// one accepted.
func TestMonotonicityLawAcceptsEveryStrictlyNewerUpdate(t *testing.T) {
	p := New(1 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		u := posUpdate(float64(i), 0, base.Add(time.Duration(i)*2*time.Minute), 1000)
		got := p.VerifyPosition(u)
		require.Equal(t, u, got)
	}
}

// An update older than cur-timeout is never accepted, whatever its
// accuracy.
func TestRejectionLawNeverAcceptsOlderThanTimeout(t *testing.T) {
	p := New(1 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := posUpdate(0, 0, base, 1)
	p.VerifyPosition(first)

	older := posUpdate(1, 1, base.Add(-2*time.Minute), 0.1)
	got := p.VerifyPosition(older)
	require.Equal(t, first, got)
}

func hdgUpdate(deg float64, when time.Time) model.Update[model.Heading] {
	return model.NewUpdate(model.NewHeading(units.Degrees(deg)), when, uuid.New())
}

func TestVerifyHeadingRejectsWithinWindow(t *testing.T) {
	p := New(2 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := hdgUpdate(90, base)
	p.VerifyHeading(first)

	second := hdgUpdate(180, base.Add(10*time.Second))
	got := p.VerifyHeading(second)
	require.Equal(t, first, got)
}

func TestVerifyHeadingAcceptsSignificantlyNewer(t *testing.T) {
	p := New(2 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := hdgUpdate(90, base)
	p.VerifyHeading(first)

	second := hdgUpdate(180, base.Add(3*time.Minute))
	got := p.VerifyHeading(second)
	require.Equal(t, second, got)
}
