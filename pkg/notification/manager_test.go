package notification

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starfail/locationengine/pkg/logx"
)

func testManager() *Manager {
	cfg := Config{CriticalCooldown: 20 * time.Millisecond, WarningCooldown: 20 * time.Millisecond, InfoCooldown: 20 * time.Millisecond}
	return NewManager(cfg, logx.New("error"))
}

func TestNotifySuppressesWithinCooldown(t *testing.T) {
	m := testManager()
	key := "test-key"

	require.True(t, m.limiterFor(key, PriorityCritical).Allow())
	l := m.limiterFor(key, PriorityCritical)
	require.False(t, l.Allow())
}

func TestNotifyProviderFaultIsKeyedPerProvider(t *testing.T) {
	m := testManager()
	m.NotifyProviderFault("provider-a", errors.New("boom"))
	m.NotifyProviderFault("provider-b", errors.New("boom"))

	require.Len(t, m.limits, 2)
}

func TestNotifyAllowsAgainAfterCooldown(t *testing.T) {
	m := testManager()
	m.Notify("k", PriorityInfo, "t", "m")
	time.Sleep(30 * time.Millisecond)
	require.True(t, m.limiterFor("k", PriorityInfo).Allow())
}
