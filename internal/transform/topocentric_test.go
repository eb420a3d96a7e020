package transform

import (
	"math"
	"testing"
)

func magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

func TestNewObserver_ECEFMagnitude(t *testing.T) {
	x, y, z := NewObserver(0, 0, 0).ECEF()
	if mag := magnitude(x, y, z); math.Abs(mag-6378137.0) > 1.0 {
		t.Errorf("equatorial observer ECEF magnitude = %.1f m, want ~6378137 m", mag)
	}

	x, y, z = NewObserver(90, 0, 0).ECEF()
	if mag := magnitude(x, y, z); math.Abs(mag-6356752.3) > 1.0 {
		t.Errorf("polar observer ECEF magnitude = %.1f m, want ~6356752 m", mag)
	}
}

func TestNewObserver_Altitude(t *testing.T) {
	mag0 := magnitude(NewObserver(0, 0, 0).ECEF())
	mag100 := magnitude(NewObserver(0, 0, 100).ECEF())

	if diff := mag100 - mag0; math.Abs(diff-100.0) > 0.01 {
		t.Errorf("altitude difference = %.3f m, want 100 m", diff)
	}
}

func TestLookAngles_DirectlyOverhead(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	x, y, z := obs.ECEF()

	la := obs.LookAngles(x+400000, y, z)
	if math.Abs(la.Elevation.Deg()-90.0) > 0.1 {
		t.Errorf("overhead elevation = %.2f deg, want ~90", la.Elevation.Deg())
	}
	if math.Abs(la.RangeKm-400.0) > 1.0 {
		t.Errorf("overhead range = %.2f km, want ~400", la.RangeKm)
	}
}

func TestLookAngles_AzimuthDirections(t *testing.T) {
	obs := NewObserver(0, 0, 0)

	tests := []struct {
		name     string
		lat, lon float64
		wantDeg  float64
	}{
		{"north", 10, 0, 0},
		{"east", 0, 10, 90},
		{"south", -10, 0, 180},
		{"west", 0, -10, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			la := obs.LookAngles(NewObserver(tt.lat, tt.lon, 400000).ECEF())
			az := la.Azimuth.Deg()
			if az < 0 || az >= 360 {
				t.Fatalf("azimuth %.2f outside [0, 360)", az)
			}
			diff := math.Abs(az - tt.wantDeg)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > 30 {
				t.Errorf("azimuth = %.2f deg, want near %.0f", az, tt.wantDeg)
			}
		})
	}
}

func TestElevation_MatchesLookAngles(t *testing.T) {
	obs := NewObserver(51.5, -0.12, 35)
	sats := [][3]float64{
		{6778000, 0, 0},
		{3000000, -500000, 6000000},
		{4200000, 100000, 5100000},
	}

	for _, s := range sats {
		want := obs.LookAngles(s[0], s[1], s[2]).Elevation
		got := obs.Elevation(s[0], s[1], s[2])
		if math.Abs(got.Rad()-want.Rad()) > 1e-12 {
			t.Errorf("Elevation(%v) = %v, LookAngles elevation = %v", s, got, want)
		}
	}
}

func TestLookAngles_BelowHorizon(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	// Antipodal satellite.
	la := obs.LookAngles(-6778000, 0, 0)
	if la.Elevation.Deg() > -80 {
		t.Errorf("antipodal elevation = %.2f deg, want near -90", la.Elevation.Deg())
	}
}

func TestECEFToGeodetic_RoundTrip(t *testing.T) {
	points := []GeodeticPoint{
		{0, 0, 0},
		{51.5, -0.12, 35},
		{-33.9, 151.2, 400000},
		{89.9, 45, 800000},
	}

	for _, p := range points {
		got := ECEFToGeodetic(NewObserver(p.LatDeg, p.LonDeg, p.AltM).ECEF())
		if math.Abs(got.LatDeg-p.LatDeg) > 1e-6 || math.Abs(got.LonDeg-p.LonDeg) > 1e-6 {
			t.Errorf("ECEFToGeodetic round trip %+v -> %+v", p, got)
		}
		if math.Abs(got.AltM-p.AltM) > 0.01 {
			t.Errorf("altitude round trip %.3f -> %.3f", p.AltM, got.AltM)
		}
	}
}
