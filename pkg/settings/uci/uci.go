// Package uci implements settings.Settings backed by the OpenWrt `uci`
// command-line tool, shelling out to `uci get`/`uci set` with
// config.section.option keys.
//
// Concurrent reads of the same key are coalesced with
// golang.org/x/sync/singleflight: concurrent Get calls for one key share a
// single `uci get` subprocess instead of each spawning their own.
package uci

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starfail/locationengine/pkg/logx"
)

// Store is a settings.Settings backed by the `uci` binary. Keys are
// expected in "config.section.option" form; the engine's own keys
// ("Engine::State", "Engine::WifiAndCellIdReportingState") are mapped onto
// a fixed section via keyToUCI.
type Store struct {
	section string
	logger  *logx.Logger
	group   singleflight.Group
	timeout time.Duration
}

// New constructs a Store that persists the engine's settings under the
// given UCI config section (e.g. "locationengine.engine").
func New(section string, logger *logx.Logger) *Store {
	return &Store{section: section, logger: logger, timeout: 5 * time.Second}
}

func (s *Store) keyToUCI(key string) string {
	option := strings.ToLower(strings.ReplaceAll(key, "::", "_"))
	return s.section + "." + option
}

// GetString implements settings.Settings.
func (s *Store) GetString(key string) (string, bool) {
	uciKey := s.keyToUCI(key)
	v, err, _ := s.group.Do(uciKey, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		out, err := exec.CommandContext(ctx, "uci", "get", uciKey).Output()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("uci get failed, treating as unset", "key", uciKey, "error", err.Error())
		}
		return "", false
	}
	return v.(string), true
}

// SetString implements settings.Settings.
func (s *Store) SetString(key string, value string) {
	uciKey := s.keyToUCI(key)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "uci", "set", uciKey+"="+value).Run(); err != nil {
		if s.logger != nil {
			s.logger.Warn("uci set failed", "key", uciKey, "error", err.Error())
		}
		return
	}
	if err := exec.CommandContext(ctx, "uci", "commit", strings.SplitN(s.section, ".", 2)[0]).Run(); err != nil {
		if s.logger != nil {
			s.logger.Warn("uci commit failed", "section", s.section, "error", err.Error())
		}
	}
}
