package nmea

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGGA(t *testing.T) {
	fix, err := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")
	require.NoError(t, err)
	require.InDelta(t, 48.1173, fix.Latitude, 1e-3)
	require.InDelta(t, 11.5166, fix.Longitude, 1e-3)
	require.Equal(t, 1, fix.FixQuality)
	require.Equal(t, 8, fix.SatellitesUsed)
	require.True(t, fix.HasAltitude)
	require.InDelta(t, 545.4, fix.Altitude, 1e-9)
}

func TestParseGGABadChecksum(t *testing.T) {
	_, err := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00")
	require.Error(t, err)
}

func TestParseRMCValidFix(t *testing.T) {
	rmc, err := ParseRMC("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	require.NoError(t, err)
	require.True(t, rmc.Valid)
	require.InDelta(t, 48.1173, rmc.Latitude, 1e-3)
	require.InDelta(t, 11.5166, rmc.Longitude, 1e-3)
	require.InDelta(t, 22.4, rmc.SpeedKnots, 1e-9)
	require.InDelta(t, 84.4, rmc.TrackDegrees, 1e-9)
}

func TestParseRMCNoFix(t *testing.T) {
	rmc, err := ParseRMC("$GPRMC,123519,V,,,,,,,230394,,*33")
	require.NoError(t, err)
	require.False(t, rmc.Valid)
}

func TestParseGSV(t *testing.T) {
	gsv, err := ParseGSV("$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74")
	require.NoError(t, err)
	require.Equal(t, 11, gsv.SatellitesInView)
	require.Len(t, gsv.Satellites, 4)
	require.Equal(t, GSVSatellite{PRN: 3, ElevationDegrees: 3, AzimuthDegrees: 111, SNR: 0}, gsv.Satellites[0])
}

func TestParseGGARejectsNonGGA(t *testing.T) {
	_, err := ParseGGA("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	require.Error(t, err)
}
