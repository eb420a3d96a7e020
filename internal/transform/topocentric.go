package transform

import (
	"math"

	"github.com/soniakeys/unit"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Observer is a ground location with its ECEF position and the SEZ rotation
// terms precomputed, so repeated look-angle queries only do the rotation.
type Observer struct {
	Lat, Lon unit.Angle // geodetic
	AltM     float64    // meters above the ellipsoid

	x, y, z                        float64 // ECEF meters
	sinLat, cosLat, sinLon, cosLon float64
}

// NewObserver creates an Observer from geodetic coordinates in degrees and
// an altitude in meters above the WGS-84 ellipsoid.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	lat := unit.AngleFromDeg(latDeg)
	lon := unit.AngleFromDeg(lonDeg)

	sinLat, cosLat := math.Sincos(lat.Rad())
	sinLon, cosLon := math.Sincos(lon.Rad())

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Observer{
		Lat:    lat,
		Lon:    lon,
		AltM:   altM,
		x:      (N + altM) * cosLat * cosLon,
		y:      (N + altM) * cosLat * sinLon,
		z:      (N*(1-wgs84E2) + altM) * sinLat,
		sinLat: sinLat,
		cosLat: cosLat,
		sinLon: sinLon,
		cosLon: cosLon,
	}
}

// ECEF returns the observer's ECEF position in meters.
func (o Observer) ECEF() (x, y, z float64) { return o.x, o.y, o.z }

// LookAngles holds azimuth, elevation, and range from observer to satellite.
type LookAngles struct {
	Azimuth   unit.Angle // 0 = North, clockwise, [0, 2π)
	Elevation unit.Angle // 0 = horizon, π/2 = zenith
	RangeKm   float64
}

// sez rotates the observer-to-satellite ECEF vector into South-East-Zenith.
func (o Observer) sez(satX, satY, satZ float64) (south, east, zenith float64) {
	rx := satX - o.x
	ry := satY - o.y
	rz := satZ - o.z

	south = o.sinLat*o.cosLon*rx + o.sinLat*o.sinLon*ry - o.cosLat*rz
	east = -o.sinLon*rx + o.cosLon*ry
	zenith = o.cosLat*o.cosLon*rx + o.cosLat*o.sinLon*ry + o.sinLat*rz
	return south, east, zenith
}

// LookAngles computes azimuth, elevation, and range to a satellite given in
// ECEF meters, per Vallado Section 4.4.
func (o Observer) LookAngles(satX, satY, satZ float64) LookAngles {
	south, east, zenith := o.sez(satX, satY, satZ)
	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)

	// North is -South in SEZ.
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		Azimuth:   unit.Angle(az),
		Elevation: unit.Angle(math.Asin(zenith / rangeMag)),
		RangeKm:   rangeMag / 1000.0,
	}
}

// Elevation computes only the elevation angle to a satellite in ECEF meters.
func (o Observer) Elevation(satX, satY, satZ float64) unit.Angle {
	south, east, zenith := o.sez(satX, satY, satZ)
	return unit.Angle(math.Asin(zenith / math.Sqrt(south*south+east*east+zenith*zenith)))
}

// GeodeticPoint holds a geodetic position (latitude/longitude in degrees, altitude in meters).
type GeodeticPoint struct {
	LatDeg, LonDeg, AltM float64
}

// ECEFToGeodetic converts ECEF coordinates (meters) to geodetic coordinates
// with Bowring's iteration, which settles in two or three rounds for orbital
// altitudes.
func ECEFToGeodetic(x, y, z float64) GeodeticPoint {
	lon := math.Atan2(y, x)
	p := math.Hypot(x, y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*N*sinLat, p)
	}

	sinLat, cosLat := math.Sincos(lat)
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - N
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - N*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: unit.Angle(lat).Deg(),
		LonDeg: unit.Angle(lon).Deg(),
		AltM:   alt,
	}
}
