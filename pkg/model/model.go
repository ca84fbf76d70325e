// Package model defines the location engine's core data types: position,
// heading, velocity, space-vehicle sightings, the generic timestamped
// update envelope, and client-facing criteria/requirements descriptions.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/starfail/locationengine/pkg/units"
)

// Accuracy bundles horizontal and vertical accuracy, both optional.
type Accuracy struct {
	Horizontal *units.Meters
	Vertical   *units.Meters
}

// Position is a WGS-84 latitude/longitude fix with optional altitude and
// accuracy. Latitude and longitude are mandatory.
type Position struct {
	Latitude  units.Degrees
	Longitude units.Degrees
	Altitude  *units.Meters
	Accuracy  Accuracy
}

// Valid reports whether the position's mandatory fields are within range.
func (p Position) Valid() bool {
	return units.ValidLatitude(p.Latitude) && units.ValidLongitude(p.Longitude)
}

// Heading is a single degrees value, normalized to [0, 360) by NewHeading.
type Heading struct {
	Degrees units.Degrees
}

// NewHeading normalizes d into [0, 360) before constructing a Heading.
func NewHeading(d units.Degrees) Heading {
	return Heading{Degrees: units.NormalizeHeading(d)}
}

// Velocity is the magnitude of horizontal ground speed, never negative.
type Velocity struct {
	Speed units.MetersPerSecond
}

// Valid reports whether the velocity is non-negative.
func (v Velocity) Valid() bool { return v.Speed >= 0 }

// Constellation tags the satellite system a SpaceVehicle belongs to.
type Constellation string

const (
	ConstellationGPS     Constellation = "gps"
	ConstellationGLONASS Constellation = "glonass"
	ConstellationGalileo Constellation = "galileo"
	ConstellationBeiDou  Constellation = "beidou"
)

// SvKey identifies a space vehicle uniquely within the visible set.
type SvKey struct {
	Constellation Constellation
	SatelliteID   int
}

// SpaceVehicle describes one satellite's current visibility and fix usage.
type SpaceVehicle struct {
	Key           SvKey
	SNR           float64
	HasAlmanac    bool
	HasEphemeris  bool
	UsedInFix     bool
	Azimuth       units.Degrees
	Elevation     units.Degrees
}

// Update wraps a value of type T with a monotonic timestamp and the
// identity of the provider that produced it. The engine skips
// reference-data delivery back to the provider whose SourceID matches the
// authoritative update, so a provider never observes its own emissions.
type Update[T any] struct {
	Value    T
	When     time.Time
	SourceID uuid.UUID
}

// NewUpdate builds an Update stamped with the given source identity.
func NewUpdate[T any](value T, when time.Time, sourceID uuid.UUID) Update[T] {
	return Update[T]{Value: value, When: when, SourceID: sourceID}
}

// Feature is one of the capabilities a Criteria can request.
type Feature int

const (
	FeaturePosition Feature = iota
	FeatureHeading
	FeatureVelocity
)

// Criteria is a client's requested feature set with optional per-feature
// accuracy bounds.
type Criteria struct {
	Features             map[Feature]bool
	HorizontalAccuracyMax *units.Meters
	VerticalAccuracyMax   *units.Meters
}

// Wants reports whether the criteria requests the given feature.
func (c Criteria) Wants(f Feature) bool {
	if c.Features == nil {
		return false
	}
	return c.Features[f]
}

// NewCriteria builds a Criteria requesting the given features.
func NewCriteria(features ...Feature) Criteria {
	m := make(map[Feature]bool, len(features))
	for _, f := range features {
		m[f] = true
	}
	return Criteria{Features: m}
}

// Requirement is an abstract resource a provider declares it needs.
type Requirement int

const (
	RequiresSatellites Requirement = 1 << iota
	RequiresCellNetwork
	RequiresDataNetwork
	RequiresMonetarySpending
)

// Requirements is a bitset of Requirement flags.
type Requirements int

// Has reports whether r includes req.
func (r Requirements) Has(req Requirement) bool { return r&Requirements(req) != 0 }

// RadioTechnology tags which variant a RadioCell carries.
type RadioTechnology int

const (
	RadioGSM RadioTechnology = iota
	RadioUMTS
	RadioLTE
	RadioCDMA
)

// RadioCell is a tagged union over cellular technologies. Variant fields
// are only reachable through the accessor matching the Technology tag;
// the New*Cell constructors are the sole way to populate one.
type RadioCell struct {
	technology RadioTechnology
	gsm        *GSMCell
	umts       *UMTSCell
	lte        *LTECell
	cdma       *CDMACell
}

// GSMCell holds GSM-specific cell identity fields.
type GSMCell struct {
	MCC, MNC, LAC, CellID int
}

// UMTSCell holds UMTS-specific cell identity fields.
type UMTSCell struct {
	MCC, MNC, LAC, CellID int
}

// LTECell holds LTE-specific cell identity fields.
type LTECell struct {
	MCC, MNC, TAC, CellID int
}

// CDMACell holds CDMA-specific cell identity fields.
type CDMACell struct {
	SID, NID, BaseStationID int
}

// NewGSMCell constructs a GSM-tagged RadioCell.
func NewGSMCell(c GSMCell) RadioCell { return RadioCell{technology: RadioGSM, gsm: &c} }

// NewUMTSCell constructs a UMTS-tagged RadioCell.
func NewUMTSCell(c UMTSCell) RadioCell { return RadioCell{technology: RadioUMTS, umts: &c} }

// NewLTECell constructs an LTE-tagged RadioCell.
func NewLTECell(c LTECell) RadioCell { return RadioCell{technology: RadioLTE, lte: &c} }

// NewCDMACell constructs a CDMA-tagged RadioCell.
func NewCDMACell(c CDMACell) RadioCell { return RadioCell{technology: RadioCDMA, cdma: &c} }

// Technology reports which variant this cell carries.
func (r RadioCell) Technology() RadioTechnology { return r.technology }

// GSM returns the GSM fields and true iff this cell is GSM-tagged.
func (r RadioCell) GSM() (GSMCell, bool) {
	if r.technology != RadioGSM || r.gsm == nil {
		return GSMCell{}, false
	}
	return *r.gsm, true
}

// UMTS returns the UMTS fields and true iff this cell is UMTS-tagged.
func (r RadioCell) UMTS() (UMTSCell, bool) {
	if r.technology != RadioUMTS || r.umts == nil {
		return UMTSCell{}, false
	}
	return *r.umts, true
}

// LTE returns the LTE fields and true iff this cell is LTE-tagged.
func (r RadioCell) LTE() (LTECell, bool) {
	if r.technology != RadioLTE || r.lte == nil {
		return LTECell{}, false
	}
	return *r.lte, true
}

// CDMA returns the CDMA fields and true iff this cell is CDMA-tagged.
func (r RadioCell) CDMA() (CDMACell, bool) {
	if r.technology != RadioCDMA || r.cdma == nil {
		return CDMACell{}, false
	}
	return *r.cdma, true
}
