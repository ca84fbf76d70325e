// Package nmea implements a serial GPS provider that reads NMEA 0183
// sentences and turns them into position, heading, velocity and
// space-vehicle updates.
package nmea

import (
	"fmt"
	"strconv"
	"strings"
)

// Fix describes one parsed GGA sentence: a position fix with fix quality
// and satellite count.
type Fix struct {
	Latitude, Longitude float64
	HasAltitude         bool
	Altitude            float64
	FixQuality          int
	SatellitesUsed      int
	HDOP                float64
}

// RMC describes one parsed RMC sentence: position plus ground speed and
// track angle, the original's combined position/velocity/heading sentence.
type RMC struct {
	Latitude, Longitude float64
	Valid               bool
	SpeedKnots          float64
	TrackDegrees        float64
}

// GSV describes one parsed GSV sentence: a page of the visible
// satellite set, SNR per satellite.
type GSV struct {
	SatellitesInView int
	Satellites       []GSVSatellite
}

// GSVSatellite is one satellite entry within a GSV sentence.
type GSVSatellite struct {
	PRN              int
	ElevationDegrees int
	AzimuthDegrees   int
	SNR              int
}

// verifyChecksum validates the *hh checksum trailer against the XOR of
// every byte between '$' and '*'. Sentences without a checksum trailer are
// accepted as-is: not every talker emits one.
func verifyChecksum(sentence string) bool {
	star := strings.LastIndexByte(sentence, '*')
	if star < 0 || star+3 > len(sentence) {
		return true
	}
	want, err := strconv.ParseUint(sentence[star+1:star+3], 16, 8)
	if err != nil {
		return false
	}
	var got byte
	for i := 1; i < star; i++ {
		got ^= sentence[i]
	}
	return byte(want) == got
}

func fields(sentence string) []string {
	body := sentence
	if star := strings.IndexByte(body, '*'); star >= 0 {
		body = body[:star]
	}
	return strings.Split(body, ",")
}

// ParseGGA parses a $--GGA sentence.
func ParseGGA(sentence string) (Fix, error) {
	if !verifyChecksum(sentence) {
		return Fix{}, fmt.Errorf("nmea: bad checksum in %q", sentence)
	}
	f := fields(sentence)
	if len(f) < 10 || !strings.HasSuffix(f[0], "GGA") {
		return Fix{}, fmt.Errorf("nmea: not a GGA sentence: %q", sentence)
	}
	lat, err := parseLatitude(f[2], f[3])
	if err != nil {
		return Fix{}, err
	}
	lon, err := parseLongitude(f[4], f[5])
	if err != nil {
		return Fix{}, err
	}
	quality, _ := strconv.Atoi(f[6])
	sats, _ := strconv.Atoi(f[7])
	hdop, _ := strconv.ParseFloat(f[8], 64)

	fix := Fix{
		Latitude:       lat,
		Longitude:      lon,
		FixQuality:     quality,
		SatellitesUsed: sats,
		HDOP:           hdop,
	}
	if alt, err := strconv.ParseFloat(f[9], 64); err == nil {
		fix.HasAltitude = true
		fix.Altitude = alt
	}
	return fix, nil
}

// ParseRMC parses a $--RMC sentence.
func ParseRMC(sentence string) (RMC, error) {
	if !verifyChecksum(sentence) {
		return RMC{}, fmt.Errorf("nmea: bad checksum in %q", sentence)
	}
	f := fields(sentence)
	if len(f) < 10 || !strings.HasSuffix(f[0], "RMC") {
		return RMC{}, fmt.Errorf("nmea: not an RMC sentence: %q", sentence)
	}
	rmc := RMC{Valid: f[2] == "A"}
	if rmc.Valid || f[3] != "" || f[5] != "" {
		lat, err := parseLatitude(f[3], f[4])
		if err != nil {
			return RMC{}, err
		}
		lon, err := parseLongitude(f[5], f[6])
		if err != nil {
			return RMC{}, err
		}
		rmc.Latitude, rmc.Longitude = lat, lon
	}
	rmc.SpeedKnots, _ = strconv.ParseFloat(f[7], 64)
	rmc.TrackDegrees, _ = strconv.ParseFloat(f[8], 64)
	return rmc, nil
}

// ParseGSV parses a $--GSV sentence (one page; callers accumulate pages
// across a full cycle if they need the entire constellation view).
func ParseGSV(sentence string) (GSV, error) {
	if !verifyChecksum(sentence) {
		return GSV{}, fmt.Errorf("nmea: bad checksum in %q", sentence)
	}
	f := fields(sentence)
	if len(f) < 4 || !strings.HasSuffix(f[0], "GSV") {
		return GSV{}, fmt.Errorf("nmea: not a GSV sentence: %q", sentence)
	}
	inView, _ := strconv.Atoi(f[3])
	gsv := GSV{SatellitesInView: inView}
	for i := 4; i+3 < len(f); i += 4 {
		prn, err := strconv.Atoi(f[i])
		if err != nil {
			continue
		}
		elev, _ := strconv.Atoi(f[i+1])
		azim, _ := strconv.Atoi(f[i+2])
		snr, _ := strconv.Atoi(strings.TrimSpace(f[i+3]))
		gsv.Satellites = append(gsv.Satellites, GSVSatellite{
			PRN: prn, ElevationDegrees: elev, AzimuthDegrees: azim, SNR: snr,
		})
	}
	return gsv, nil
}

func parseLatitude(ddmm, hemisphere string) (float64, error) {
	if ddmm == "" {
		return 0, fmt.Errorf("nmea: empty latitude field")
	}
	v, err := strconv.ParseFloat(ddmm, 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: invalid latitude %q: %w", ddmm, err)
	}
	deg := float64(int(v / 100))
	min := v - deg*100
	lat := deg + min/60
	if hemisphere == "S" {
		lat = -lat
	}
	return lat, nil
}

func parseLongitude(dddmm, hemisphere string) (float64, error) {
	if dddmm == "" {
		return 0, fmt.Errorf("nmea: empty longitude field")
	}
	v, err := strconv.ParseFloat(dddmm, 64)
	if err != nil {
		return 0, fmt.Errorf("nmea: invalid longitude %q: %w", dddmm, err)
	}
	deg := float64(int(v / 100))
	min := v - deg*100
	lon := deg + min/60
	if hemisphere == "W" {
		lon = -lon
	}
	return lon, nil
}
