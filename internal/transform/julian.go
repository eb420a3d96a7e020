package transform

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// jdUnix is the Julian Date of the Unix epoch.
const jdUnix = 2440587.5

// SecondsPerDay converts between Julian-day offsets and seconds.
const SecondsPerDay = 86400.0

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// JulianDate converts a time.Time (UTC) to Julian Date.
// Uses the standard astronomical algorithm valid for dates after March 1, 4801 BC.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	min := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Treat Jan/Feb as months 13/14 of the previous year.
	if m <= 2 {
		y -= 1
		m += 12
	}

	A := math.Floor(y / 100)
	B := 2 - A + math.Floor(A/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + B - 1524.5
	jd += (h + min/60.0 + s/3600.0) / 24.0

	return jd
}

// TimeFromJulian converts a Julian Date back to UTC, rounded to the microsecond.
// Whole days and the day fraction are split before scaling so the fraction
// keeps its precision.
func TimeFromJulian(jd float64) time.Time {
	days, frac := math.Modf(jd - jdUnix)
	usec := math.Round(frac * SecondsPerDay * 1e6)
	return time.Unix(int64(days)*int64(SecondsPerDay), 0).
		Add(time.Duration(usec) * time.Microsecond).
		UTC()
}

// Days converts a duration to a Julian-day offset.
func Days(d time.Duration) float64 {
	return d.Seconds() / SecondsPerDay
}

// GMST calculates Greenwich Mean Sidereal Time in radians for a given UTC time.
func GMST(t time.Time) float64 {
	return GMSTJulian(JulianDate(t))
}

// GMSTJulian calculates Greenwich Mean Sidereal Time in radians at Julian Date
// jd (UT1 taken as UTC), using the IAU-82 model from Vallado "Fundamentals of
// Astrodynamics" Eq 3-47:
//
//	θ_GMST = 67310.54841 + (876600h + 8640184.812866)*T + 0.093104*T² - 6.2e-6*T³
//
// where T is Julian centuries from J2000.0 and the result is in seconds of time.
func GMSTJulian(jd float64) float64 {
	tUT1 := (jd - j2000) / 36525.0

	// 876600h = 3155760000 seconds.
	gmstSec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	gmstSec = math.Mod(gmstSec, SecondsPerDay)
	if gmstSec < 0 {
		gmstSec += SecondsPerDay
	}
	return gmstSec / SecondsPerDay * 2.0 * math.Pi
}
