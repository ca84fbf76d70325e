// Package telem persists a rolling window of the engine's authoritative
// position, velocity and heading updates, and the visible space-vehicle
// set, for postmortem inspection after the daemon has moved on. Each
// stream gets its own sqlite3 table so the window survives a daemon
// restart, with ring-buffer trim semantics enforced in SQL.
package telem

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starfail/locationengine/pkg/engine"
	"github.com/starfail/locationengine/pkg/model"
)

// Config holds telemetry store configuration.
type Config struct {
	// Path is the sqlite3 DSN. ":memory:" is valid and used by tests.
	Path string
	// MaxSamples bounds each stream's table to its most recent N rows.
	MaxSamples int
	// Retention additionally drops rows older than this, regardless of
	// count. Zero disables time-based retention.
	Retention time.Duration
}

// DefaultConfig keeps a day of samples under the daemon's state
// directory.
func DefaultConfig() Config {
	return Config{Path: "/var/lib/locationengined/telem.db", MaxSamples: 1000, Retention: 24 * time.Hour}
}

// Store persists engine updates into sqlite3 tables bounded by
// Config.MaxSamples and Config.Retention.
type Store struct {
	db  *sql.DB
	cfg Config
}

const schema = `
CREATE TABLE IF NOT EXISTS position_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at DATETIME NOT NULL,
	source_id TEXT NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	altitude REAL,
	horizontal_accuracy REAL,
	vertical_accuracy REAL
);
CREATE TABLE IF NOT EXISTS velocity_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at DATETIME NOT NULL,
	source_id TEXT NOT NULL,
	speed_mps REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS heading_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at DATETIME NOT NULL,
	source_id TEXT NOT NULL,
	degrees REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS space_vehicle_sightings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at DATETIME NOT NULL,
	constellation TEXT NOT NULL,
	satellite_id INTEGER NOT NULL,
	snr REAL NOT NULL,
	used_in_fix BOOLEAN NOT NULL,
	azimuth REAL NOT NULL,
	elevation REAL NOT NULL
);
`

// NewStore opens (creating if needed) the sqlite3 database at cfg.Path
// and ensures its schema exists.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultConfig().MaxSamples
	}
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("telem: open %s: %w", cfg.Path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("telem: migrate schema: %w", err)
	}
	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// RecordPosition inserts u and trims position_samples to the configured
// ring-buffer size.
func (s *Store) RecordPosition(u model.Update[model.Position]) error {
	var alt, hacc, vacc sql.NullFloat64
	if u.Value.Altitude != nil {
		alt = sql.NullFloat64{Float64: float64(*u.Value.Altitude), Valid: true}
	}
	if u.Value.Accuracy.Horizontal != nil {
		hacc = sql.NullFloat64{Float64: float64(*u.Value.Accuracy.Horizontal), Valid: true}
	}
	if u.Value.Accuracy.Vertical != nil {
		vacc = sql.NullFloat64{Float64: float64(*u.Value.Accuracy.Vertical), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO position_samples (recorded_at, source_id, latitude, longitude, altitude, horizontal_accuracy, vertical_accuracy)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.When, u.SourceID.String(), float64(u.Value.Latitude), float64(u.Value.Longitude), alt, hacc, vacc,
	)
	if err != nil {
		return fmt.Errorf("telem: insert position sample: %w", err)
	}
	return s.trim("position_samples")
}

// RecordVelocity inserts u and trims velocity_samples.
func (s *Store) RecordVelocity(u model.Update[model.Velocity]) error {
	_, err := s.db.Exec(
		`INSERT INTO velocity_samples (recorded_at, source_id, speed_mps) VALUES (?, ?, ?)`,
		u.When, u.SourceID.String(), float64(u.Value.Speed),
	)
	if err != nil {
		return fmt.Errorf("telem: insert velocity sample: %w", err)
	}
	return s.trim("velocity_samples")
}

// RecordHeading inserts u and trims heading_samples.
func (s *Store) RecordHeading(u model.Update[model.Heading]) error {
	_, err := s.db.Exec(
		`INSERT INTO heading_samples (recorded_at, source_id, degrees) VALUES (?, ?, ?)`,
		u.When, u.SourceID.String(), float64(u.Value.Degrees),
	)
	if err != nil {
		return fmt.Errorf("telem: insert heading sample: %w", err)
	}
	return s.trim("heading_samples")
}

// RecordSpaceVehicles inserts one sighting row per visible satellite.
func (s *Store) RecordSpaceVehicles(svs map[model.SvKey]model.SpaceVehicle) error {
	now := time.Now()
	for _, sv := range svs {
		_, err := s.db.Exec(
			`INSERT INTO space_vehicle_sightings (recorded_at, constellation, satellite_id, snr, used_in_fix, azimuth, elevation)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			now, string(sv.Key.Constellation), sv.Key.SatelliteID, sv.SNR, sv.UsedInFix, float64(sv.Azimuth), float64(sv.Elevation),
		)
		if err != nil {
			return fmt.Errorf("telem: insert space vehicle sighting: %w", err)
		}
	}
	return s.trim("space_vehicle_sightings")
}

// trim enforces the ring-buffer size bound on table by deleting every
// row outside the most recent MaxSamples, then (if Retention is set)
// sweeps rows older than the retention window.
func (s *Store) trim(table string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT ?)`, table, table),
		s.cfg.MaxSamples,
	)
	if err != nil {
		return fmt.Errorf("telem: trim %s: %w", table, err)
	}
	if s.cfg.Retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.cfg.Retention)
	_, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE recorded_at < ?`, table), cutoff)
	if err != nil {
		return fmt.Errorf("telem: sweep %s: %w", table, err)
	}
	return nil
}

// PositionSample is one row read back from position_samples.
type PositionSample struct {
	RecordedAt time.Time
	SourceID   string
	Latitude   float64
	Longitude  float64
}

// RecentPositions returns the limit most recent position samples, newest
// first.
func (s *Store) RecentPositions(limit int) ([]PositionSample, error) {
	rows, err := s.db.Query(
		`SELECT recorded_at, source_id, latitude, longitude FROM position_samples ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("telem: query position samples: %w", err)
	}
	defer rows.Close()

	var out []PositionSample
	for rows.Next() {
		var p PositionSample
		if err := rows.Scan(&p.RecordedAt, &p.SourceID, &p.Latitude, &p.Longitude); err != nil {
			return nil, fmt.Errorf("telem: scan position sample: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Subscribe wires e's authoritative update cells and space-vehicle set
// into the store, logging (rather than failing) on write errors so a
// telemetry hiccup never takes down the engine it is observing.
func (s *Store) Subscribe(e *engine.Engine, onError func(error)) {
	if onError == nil {
		onError = func(error) {}
	}
	e.OnPositionChange(func(u model.Update[model.Position]) {
		if err := s.RecordPosition(u); err != nil {
			onError(err)
		}
	})
	e.OnVelocityChange(func(u model.Update[model.Velocity]) {
		if err := s.RecordVelocity(u); err != nil {
			onError(err)
		}
	})
	e.OnHeadingChange(func(u model.Update[model.Heading]) {
		if err := s.RecordHeading(u); err != nil {
			onError(err)
		}
	})
	e.OnSpaceVehiclesChange(func(svs map[model.SvKey]model.SpaceVehicle) {
		if err := s.RecordSpaceVehicles(svs); err != nil {
			onError(err)
		}
	})
}
