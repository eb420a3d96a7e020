package propagation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

const (
	issLine1      = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009"
	issLine2      = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01"
	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9998"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    07"
)

var (
	issEntry      = tle.Entry{NORADID: 25544, Name: "ISS", Line1: issLine1, Line2: issLine2}
	starlinkEntry = tle.Entry{NORADID: 44713, Name: "STARLINK-1007", Line1: starlinkLine1, Line2: starlinkLine2}
	testTime      = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestStore(entries ...tle.Entry) *tle.Store {
	s := tle.NewStore()
	s.Set(tle.NewDataset("test", time.Now(), entries))
	return s
}

func TestPropagateSingle(t *testing.T) {
	prop, err := NewSGP4Propagator(issEntry)
	if err != nil {
		t.Fatalf("NewSGP4Propagator failed: %v", err)
	}

	teme, err := prop.PropagateAt(testTime)
	if err != nil {
		t.Fatalf("PropagateAt failed: %v", err)
	}

	// ~420 km altitude.
	mag := math.Sqrt(teme.X*teme.X + teme.Y*teme.Y + teme.Z*teme.Z)
	if mag < 6500 || mag > 7000 {
		t.Errorf("TEME position magnitude = %.1f km, expected ~6791 km", mag)
	}

	ecef, err := prop.ECEFAt(testTime)
	if err != nil {
		t.Fatalf("ECEFAt failed: %v", err)
	}
	if !transform.ValidateECEF(ecef) {
		t.Errorf("ECEF position failed validation: [%.1f, %.1f, %.1f] m", ecef.X, ecef.Y, ecef.Z)
	}

	// Rotation preserves magnitude.
	ecefMag := math.Sqrt(ecef.X*ecef.X+ecef.Y*ecef.Y+ecef.Z*ecef.Z) / 1000.0
	if math.Abs(ecefMag-mag) > 0.01 {
		t.Errorf("ECEF magnitude = %.3f km, TEME magnitude = %.3f km", ecefMag, mag)
	}
}

func TestPropagateAtSubSecond(t *testing.T) {
	prop, err := NewSGP4Propagator(issEntry)
	if err != nil {
		t.Fatal(err)
	}

	whole, err := prop.Propagate(2024, 4, 10, 12, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	at, err := prop.PropagateAt(testTime)
	if err != nil {
		t.Fatal(err)
	}
	if at != whole {
		t.Errorf("PropagateAt on a whole second differs from Propagate: %+v vs %+v", at, whole)
	}

	// Extrapolating almost a full second must land within tens of meters of
	// the library's own answer for the next second.
	next, err := prop.Propagate(2024, 4, 10, 12, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	near, err := prop.PropagateAt(testTime.Add(999 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	dist := math.Sqrt(math.Pow(near.X-next.X, 2) + math.Pow(near.Y-next.Y, 2) + math.Pow(near.Z-next.Z, 2))
	if dist > 0.05 {
		t.Errorf("sub-second extrapolation off by %.3f km", dist)
	}
}

func TestNewSGP4PropagatorInvalid(t *testing.T) {
	tests := []struct {
		name         string
		line1, line2 string
	}{
		{"garbage", "invalid line 1", "invalid line 2"},
		{"swapped", issLine2, issLine1},
		{"short line2", issLine1, issLine2[:60]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSGP4Propagator(tle.Entry{NORADID: 99999, Line1: tt.line1, Line2: tt.line2})
			if err == nil {
				t.Fatal("expected error for invalid TLE")
			}
		})
	}
}

func TestElevationOracleOverhead(t *testing.T) {
	prop, err := NewSGP4Propagator(issEntry)
	if err != nil {
		t.Fatal(err)
	}

	// Stand directly under the satellite.
	sub, err := look(prop, transform.NewObserver(0, 0, 0), testTime, transform.GMST(testTime))
	if err != nil {
		t.Fatal(err)
	}
	oracle := NewElevationOracle(prop, transform.NewObserver(sub.LatDeg, sub.LonDeg, 0))

	el := oracle.Elevation(transform.JulianDate(testTime))
	if el.Deg() < 89.5 {
		t.Errorf("elevation under the satellite = %.3f deg, want ~90", el.Deg())
	}
	if sub.AltKm < 300 || sub.AltKm > 600 {
		t.Errorf("sub-point altitude = %.1f km, want ISS-like", sub.AltKm)
	}

	// Half an orbit later it is on the far side of the Earth.
	later := transform.JulianDate(testTime.Add(46 * time.Minute))
	if el := oracle.Elevation(later); el.Deg() > -30 {
		t.Errorf("elevation half an orbit later = %.1f deg, want well below horizon", el.Deg())
	}
}

func TestElevationOracleMatchesLook(t *testing.T) {
	prop, err := NewSGP4Propagator(starlinkEntry)
	if err != nil {
		t.Fatal(err)
	}
	oracle := NewElevationOracle(prop, transform.NewObserver(47.6, -122.3, 50))

	for i := 0; i < 10; i++ {
		at := testTime.Add(time.Duration(i) * 7 * time.Minute)
		pos, err := oracle.Look(at)
		if err != nil {
			t.Fatal(err)
		}
		el := oracle.Elevation(transform.JulianDate(at))
		// Julian-date rounding moves the instant by microseconds at most.
		if math.Abs(el.Deg()-pos.Elevation.Deg()) > 0.01 {
			t.Errorf("t=%v: oracle %.4f deg, Look %.4f deg", at, el.Deg(), pos.Elevation.Deg())
		}
		if pos.NORADID != 44713 || pos.Name != "STARLINK-1007" {
			t.Errorf("Look identity = %d %q", pos.NORADID, pos.Name)
		}
	}
}

func TestWorkerPoolBatch(t *testing.T) {
	pool := NewWorkerPool(4, testLogger())

	var props []*SGP4Propagator
	for _, e := range []tle.Entry{issEntry, starlinkEntry} {
		p, err := NewSGP4Propagator(e)
		if err != nil {
			t.Fatal(err)
		}
		props = append(props, p)
	}

	positions, successCount, errorCount := pool.LookBatch(context.Background(), props, transform.NewObserver(0, 0, 0), testTime)
	if successCount != 2 || errorCount != 0 || len(positions) != 2 {
		t.Fatalf("LookBatch = %d positions, %d ok, %d errors", len(positions), successCount, errorCount)
	}
	for _, pos := range positions {
		if pos.RangeKm <= 0 || pos.Azimuth < 0 || pos.Azimuth.Deg() >= 360 {
			t.Errorf("NORAD %d: implausible look angles %+v", pos.NORADID, pos)
		}
	}
}

func TestWorkerPoolCancellation(t *testing.T) {
	pool := NewWorkerPool(2, testLogger())

	p, err := NewSGP4Propagator(issEntry)
	if err != nil {
		t.Fatal(err)
	}
	props := make([]*SGP4Propagator, 100)
	for i := range props {
		props[i] = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	positions, _, _ := pool.LookBatch(ctx, props, transform.NewObserver(0, 0, 0), testTime)
	if len(positions) >= len(props) {
		t.Errorf("expected fewer results with cancelled context, got %d/%d", len(positions), len(props))
	}
}

func TestPropagatorGetAndOracle(t *testing.T) {
	store := newTestStore(issEntry, starlinkEntry)
	prop := NewPropagator(store, Config{Workers: 2}, testLogger())

	sp, err := prop.Get(25544)
	if err != nil {
		t.Fatalf("Get(25544): %v", err)
	}
	again, _ := prop.Get(25544)
	if sp != again {
		t.Error("propagator should be reused for the same dataset")
	}

	if _, err := prop.Get(1); !errors.Is(err, ErrUnknownSatellite) {
		t.Errorf("Get(1) error = %v, want ErrUnknownSatellite", err)
	}

	ids, err := prop.IDs()
	if err != nil || len(ids) != 2 || ids[0] != 25544 || ids[1] != 44713 {
		t.Errorf("IDs() = %v, %v", ids, err)
	}

	oracle, err := prop.Oracle(44713, transform.NewObserver(10, 20, 0))
	if err != nil {
		t.Fatalf("Oracle: %v", err)
	}
	if oracle.Propagator().NORADID() != 44713 {
		t.Errorf("oracle bound to NORAD %d", oracle.Propagator().NORADID())
	}

	// A new dataset rebuilds the cache.
	store.Set(tle.NewDataset("test2", time.Now(), []tle.Entry{issEntry}))
	rebuilt, err := prop.Get(25544)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt == sp {
		t.Error("propagator cache not rebuilt after dataset change")
	}
	if _, err := prop.Get(44713); !errors.Is(err, ErrUnknownSatellite) {
		t.Errorf("Get(44713) after swap = %v, want ErrUnknownSatellite", err)
	}
}

func TestPropagatorNoDataset(t *testing.T) {
	prop := NewPropagator(tle.NewStore(), Config{Workers: 2}, testLogger())

	if _, err := prop.Get(25544); !errors.Is(err, ErrNoDataset) {
		t.Errorf("Get error = %v, want ErrNoDataset", err)
	}
	if _, err := prop.Sky(context.Background(), transform.NewObserver(0, 0, 0), testTime, 0); !errors.Is(err, ErrNoDataset) {
		t.Errorf("Sky error = %v, want ErrNoDataset", err)
	}
}

func TestPropagatorSky(t *testing.T) {
	prop := NewPropagator(newTestStore(issEntry, starlinkEntry), Config{Workers: 2}, testLogger())
	obs := transform.NewObserver(0, 0, 0)

	all, err := prop.Sky(context.Background(), obs, testTime, unit.AngleFromDeg(-90))
	if err != nil {
		t.Fatalf("Sky: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Sky(-90°) returned %d satellites, want 2", len(all))
	}
	if all[0].Elevation < all[1].Elevation {
		t.Error("Sky results not sorted by elevation, highest first")
	}

	// Only satellites at or above the cut-off survive.
	cut := all[0].Elevation + unit.AngleFromDeg(0.001)
	none, err := prop.Sky(context.Background(), obs, testTime, cut)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("Sky above the highest elevation returned %d satellites", len(none))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := prop.Sky(ctx, obs, testTime, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Sky with cancelled context = %v, want context.Canceled", err)
	}
}

func BenchmarkElevationOracle(b *testing.B) {
	prop, err := NewSGP4Propagator(issEntry)
	if err != nil {
		b.Fatal(err)
	}
	oracle := NewElevationOracle(prop, transform.NewObserver(51.5, -0.12, 35))
	jd := transform.JulianDate(testTime)
	step := transform.Days(10 * time.Second)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		oracle.Elevation(jd + float64(i%8640)*step)
	}
}
