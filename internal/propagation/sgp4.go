package propagation

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

// go-satellite's Propagate takes Satellite by value and whole seconds, so
// SGP4 error codes are not visible to the caller and sub-second instants
// need extrapolation. Failures are detected from the output: NaN/Inf or an
// unreasonable position magnitude.

// SGP4Propagator wraps the go-satellite library for a single satellite.
// It is immutable after construction and safe for concurrent use.
type SGP4Propagator struct {
	sat     satellite.Satellite
	noradID int
	name    string
}

// NewSGP4Propagator creates an SGP4 propagator from an element set.
//
// The lines are checked before reaching the library, because go-satellite
// calls log.Fatal on malformed input.
func NewSGP4Propagator(e tle.Entry) (*SGP4Propagator, error) {
	if err := validateTLELines(e.Line1, e.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", e.NORADID, err)
	}

	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", e.NORADID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, noradID: e.NORADID, name: e.Name}, nil
}

// NORADID returns the satellite's catalog number.
func (p *SGP4Propagator) NORADID() int { return p.noradID }

// Name returns the satellite's name from its element set.
func (p *SGP4Propagator) Name() string { return p.name }

func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// Propagate computes the TEME state (km, km/s) at a whole-second UTC time.
func (p *SGP4Propagator) Propagate(year, month, day, hour, min, sec int) (transform.PositionTEME, error) {
	pos, vel := satellite.Propagate(p.sat, year, month, day, hour, min, sec)

	for _, v := range [...]float64{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", p.noradID)
		}
	}

	// Position magnitude should be between ~6200km and ~50000km.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.noradID, mag)
	}

	return transform.PositionTEME{
		X:  pos.X,
		Y:  pos.Y,
		Z:  pos.Z,
		VX: vel.X,
		VY: vel.Y,
		VZ: vel.Z,
	}, nil
}

// PropagateAt computes the TEME state at an arbitrary instant. The library
// is called at the whole second and the remainder is covered by linear
// extrapolation along the velocity.
func (p *SGP4Propagator) PropagateAt(t time.Time) (transform.PositionTEME, error) {
	t = t.UTC()
	whole := t.Truncate(time.Second)
	teme, err := p.Propagate(whole.Year(), int(whole.Month()), whole.Day(), whole.Hour(), whole.Minute(), whole.Second())
	if err != nil {
		return transform.PositionTEME{}, err
	}
	if frac := t.Sub(whole); frac > 0 {
		teme = teme.Advance(frac.Seconds())
	}
	return teme, nil
}

// ECEFAt returns the ECEF state (m, m/s) at t.
func (p *SGP4Propagator) ECEFAt(t time.Time) (transform.PositionECEF, error) {
	teme, err := p.PropagateAt(t)
	if err != nil {
		return transform.PositionECEF{}, err
	}
	return transform.TEMEToECEF(teme, t), nil
}
