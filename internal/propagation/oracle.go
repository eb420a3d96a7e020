package propagation

import (
	"math"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/transform"
)

// ElevationOracle reports a satellite's elevation above an observer's
// horizon at a Julian date. It satisfies scan.Oracle with time in Julian days.
type ElevationOracle struct {
	prop *SGP4Propagator
	obs  transform.Observer
}

// NewElevationOracle binds a propagator to an observer.
func NewElevationOracle(prop *SGP4Propagator, obs transform.Observer) *ElevationOracle {
	return &ElevationOracle{prop: prop, obs: obs}
}

// Propagator returns the underlying propagator.
func (o *ElevationOracle) Propagator() *SGP4Propagator { return o.prop }

// Elevation returns the elevation at Julian date jd. A propagation failure
// yields NaN, which never satisfies a crossing test or forms a bracket.
func (o *ElevationOracle) Elevation(jd float64) unit.Angle {
	metrics.IncOracleEvaluations()

	teme, err := o.prop.PropagateAt(transform.TimeFromJulian(jd))
	if err != nil {
		metrics.IncOracleErrors()
		return unit.Angle(math.NaN())
	}
	ecef := transform.TEMEToECEFWithGMST(teme, transform.GMSTJulian(jd))
	return o.obs.Elevation(ecef.X, ecef.Y, ecef.Z)
}

// Look returns the full look angles and sub-satellite point at t.
func (o *ElevationOracle) Look(t time.Time) (SkyPosition, error) {
	return look(o.prop, o.obs, t, transform.GMST(t))
}

func look(prop *SGP4Propagator, obs transform.Observer, t time.Time, gmst float64) (SkyPosition, error) {
	teme, err := prop.PropagateAt(t)
	if err != nil {
		return SkyPosition{}, err
	}
	ecef := transform.TEMEToECEFWithGMST(teme, gmst)
	la := obs.LookAngles(ecef.X, ecef.Y, ecef.Z)
	sub := transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)

	return SkyPosition{
		NORADID:   prop.NORADID(),
		Name:      prop.Name(),
		Time:      t,
		Azimuth:   la.Azimuth,
		Elevation: la.Elevation,
		RangeKm:   la.RangeKm,
		LatDeg:    sub.LatDeg,
		LonDeg:    sub.LonDeg,
		AltKm:     sub.AltM / 1000.0,
	}, nil
}
