package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"

	"github.com/soniakeys/unit"
)

const sinePeriod = 10.0

// sine is a synthetic elevation profile with known crossings and peaks.
var sine = OracleFunc(func(t float64) unit.Angle {
	return unit.Angle(math.Sin(2 * math.Pi * t / sinePeriod))
})

// countingOracle counts elevation evaluations.
type countingOracle struct {
	Oracle
	calls int
}

func (c *countingOracle) Elevation(t float64) unit.Angle {
	c.calls++
	return c.Oracle.Elevation(t)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func mustSequence(t *testing.T, o Oracle, threshold unit.Angle, step, tol float64, opts ...Option) *Sequence {
	t.Helper()
	cfg, err := NewConfig(threshold, step, tol, opts...)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	seq, err := NewSequence(o, cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSequence: %v", err)
	}
	return seq
}

func within(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestPassesTwoSeparatedPasses(t *testing.T) {
	const tol = 1e-5
	seq := mustSequence(t, sine, 0.5, 0.5, tol)

	events := slices.Collect(seq.Passes(0, 20))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}

	// sin(x) >= 0.5 for x in [pi/6, 5pi/6], i.e. t in [10/12, 50/12].
	for i, ev := range events {
		offset := float64(i) * sinePeriod
		if !within(ev.AOS, offset+10.0/12, tol) {
			t.Errorf("event %d: AOS = %.7f, want %.7f", i, ev.AOS, offset+10.0/12)
		}
		if !within(ev.TCA, offset+2.5, tol) {
			t.Errorf("event %d: TCA = %.7f, want %.7f", i, ev.TCA, offset+2.5)
		}
		if !within(ev.LOS, offset+50.0/12, tol) {
			t.Errorf("event %d: LOS = %.7f, want %.7f", i, ev.LOS, offset+50.0/12)
		}
		if !within(ev.MaxElevation.Rad(), 1, 1e-9) {
			t.Errorf("event %d: max elevation = %g, want 1", i, ev.MaxElevation.Rad())
		}
		if !(ev.AOS < ev.TCA && ev.TCA < ev.LOS) {
			t.Errorf("event %d: ordering violated: %+v", i, ev)
		}
	}

	if !(events[0].LOS < events[1].AOS) {
		t.Errorf("events overlap: first LOS %g, second AOS %g", events[0].LOS, events[1].AOS)
	}
}

func TestPassesThresholdNearExtremes(t *testing.T) {
	const tol = 1e-6
	asin95 := math.Asin(0.95)
	toT := func(x float64) float64 { return x * sinePeriod / (2 * math.Pi) }

	tests := []struct {
		name      string
		threshold float64
		want      []Event
	}{
		{
			name:      "near maximum",
			threshold: 0.95,
			want: []Event{
				{AOS: toT(asin95), TCA: 2.5, LOS: toT(math.Pi - asin95)},
				{AOS: 10 + toT(asin95), TCA: 12.5, LOS: 10 + toT(math.Pi-asin95)},
			},
		},
		{
			// The run starts inside a pass; only the next full pass counts.
			name:      "near minimum",
			threshold: -0.95,
			want: []Event{
				{AOS: toT(2*math.Pi - asin95), TCA: 12.5, LOS: 10 + toT(math.Pi+asin95)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := mustSequence(t, sine, unit.Angle(tt.threshold), 0.5, tol)
			got := slices.Collect(seq.Passes(0, 20))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				g := got[i]
				if !within(g.AOS, w.AOS, tol) || !within(g.TCA, w.TCA, tol) || !within(g.LOS, w.LOS, tol) {
					t.Errorf("event %d = {AOS %.7f TCA %.7f LOS %.7f}, want {AOS %.7f TCA %.7f LOS %.7f}",
						i, g.AOS, g.TCA, g.LOS, w.AOS, w.TCA, w.LOS)
				}
			}
		})
	}
}

func TestPassesDeterministic(t *testing.T) {
	seq := mustSequence(t, sine, 0.2, 0.25, 1e-4)

	first := slices.Collect(seq.Passes(3, 60))
	second := slices.Collect(seq.Passes(3, 60))

	if len(first) == 0 {
		t.Fatal("expected passes")
	}
	if !slices.Equal(first, second) {
		t.Errorf("reruns differ:\n first  %+v\n second %+v", first, second)
	}
}

func TestPassesStrictlyIncreasing(t *testing.T) {
	seq := mustSequence(t, sine, 0, 0.3, 1e-5)

	var first, last Event
	n := 0
	for ev := range seq.PassesFrom(0) {
		if n == 0 {
			first = ev
		}
		if n > 0 && !(last.LOS < ev.AOS) {
			t.Fatalf("event %d starts at %g before previous LOS %g", n, ev.AOS, last.LOS)
		}
		last = ev
		n++
	}
	// The run begins on a sample exactly at the threshold, so the first pass
	// rises at t=0. The crossing at t=100 falls in the step that carries the
	// cursor past the horizon and is refined too: one pass per period, 0..100.
	if n != 11 {
		t.Errorf("got %d passes over the default horizon, want 11", n)
	}
	if first.AOS != 0 {
		t.Errorf("first AOS = %g, want 0", first.AOS)
	}
}

func TestThresholdSampledExactly(t *testing.T) {
	tests := []struct {
		name     string
		profile  func(t float64) float64
		aos, los float64
	}{
		{"acquisition and loss on the grid", func(t float64) float64 { return t * (4 - t) }, 0, 4},
		{"acquisition on the grid", func(t float64) float64 { return t * (4.5 - t) }, 0, 4.5},
		{"loss on the grid", func(t float64) float64 { return (t - 0.5) * (4 - t) }, 0.5, 4},
	}

	const tol = 1e-6
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := OracleFunc(func(t float64) unit.Angle { return unit.Angle(tt.profile(t)) })
			// Integer samples from -3 land exactly on the grid crossings.
			got := slices.Collect(mustSequence(t, oracle, 0, 1, tol).Passes(-3, 10))
			if len(got) != 1 {
				t.Fatalf("got %d events, want 1: %+v", len(got), got)
			}
			ev := got[0]
			tca := (tt.aos + tt.los) / 2
			if !within(ev.AOS, tt.aos, tol) || !within(ev.TCA, tca, tol) || !within(ev.LOS, tt.los, tol) {
				t.Errorf("event = %+v, want AOS %g TCA %g LOS %g", ev, tt.aos, tca, tt.los)
			}
			if want := tt.profile(tca); !within(ev.MaxElevation.Rad(), want, 1e-9) {
				t.Errorf("MaxElevation = %g, want %g", ev.MaxElevation.Rad(), want)
			}
		})
	}
}

func TestPassesEarlyStop(t *testing.T) {
	full := &countingOracle{Oracle: sine}
	seq := mustSequence(t, full, 0.5, 0.5, 1e-6)
	for range seq.Passes(0, 1000) {
	}

	partial := &countingOracle{Oracle: sine}
	seq = mustSequence(t, partial, 0.5, 0.5, 1e-6)
	for range seq.Passes(0, 1000) {
		break
	}

	if partial.calls == 0 || partial.calls*10 > full.calls {
		t.Errorf("stopping after one pass cost %d evaluations, full run %d", partial.calls, full.calls)
	}
}

func TestGrazingPassNotYielded(t *testing.T) {
	const thr = unit.Angle(0.2)
	// Peak exactly at the threshold, sampled exactly at the peak.
	graze := OracleFunc(func(t float64) unit.Angle {
		return thr - unit.Angle((t-5)*(t-5))
	})

	for _, start := range []float64{0, 0.3} {
		seq := mustSequence(t, graze, thr, 1, 1e-3)
		if got := slices.Collect(seq.Passes(start, 10)); len(got) != 0 {
			t.Errorf("start=%g: grazing pass yielded %+v", start, got)
		}
	}
}

func TestFailedRefinementResumesWithoutSkip(t *testing.T) {
	// A touch at t=5 fails refinement; a real pass follows one step later,
	// well inside the five-step skip that a successful pass would apply.
	profile := OracleFunc(func(t float64) unit.Angle {
		if t < 5.5 {
			return unit.Angle(-(t - 5) * (t - 5))
		}
		return unit.Angle(1 - (t-7.5)*(t-7.5))
	})

	const tol = 1e-6
	seq := mustSequence(t, profile, 0, 1, tol)
	got := slices.Collect(seq.Passes(0, 20))
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(got), got)
	}
	ev := got[0]
	if !within(ev.AOS, 6.5, tol) || !within(ev.TCA, 7.5, tol) || !within(ev.LOS, 8.5, tol) {
		t.Errorf("event = %+v, want AOS 6.5 TCA 7.5 LOS 8.5", ev)
	}
	if !within(ev.Duration(), 2, 2*tol) {
		t.Errorf("Duration() = %g, want 2", ev.Duration())
	}
}

func TestMinPeakFilter(t *testing.T) {
	twoBumps := OracleFunc(func(t float64) unit.Angle {
		return unit.Angle(math.Max(0.3-(t-5)*(t-5), 0.8-(t-15)*(t-15)))
	})

	all := slices.Collect(mustSequence(t, twoBumps, 0, 0.25, 1e-6).Passes(0, 30))
	if len(all) != 2 {
		t.Fatalf("without filter: got %d events, want 2", len(all))
	}

	high := slices.Collect(mustSequence(t, twoBumps, 0, 0.25, 1e-6, WithMinPeak(0.5)).Passes(0, 30))
	if len(high) != 1 {
		t.Fatalf("with filter: got %d events, want 1", len(high))
	}
	if !within(high[0].TCA, 15, 1e-6) {
		t.Errorf("filtered pass TCA = %g, want 15", high[0].TCA)
	}
}

func TestUnreachableLossEndsRun(t *testing.T) {
	// Rises once and never sets.
	rising := &countingOracle{Oracle: OracleFunc(func(t float64) unit.Angle {
		return unit.Angle(t - 0.5)
	})}

	seq := mustSequence(t, rising, 0, 1, 1e-3)
	if got := slices.Collect(seq.Passes(0, 5)); len(got) != 0 {
		t.Errorf("got %+v, want no events", got)
	}
	if rising.calls > 200 {
		t.Errorf("loss search made %d evaluations, want it bounded near the horizon", rising.calls)
	}
}

func TestMaxPassDurationBoundsLossSearch(t *testing.T) {
	// Julian-day units: 10 s steps over a one-hour window. The object rises
	// 30 s in and never sets.
	const (
		second = 1.0 / 86400
		hour   = 3600 * second
	)
	rising := &countingOracle{Oracle: OracleFunc(func(t float64) unit.Angle {
		return unit.Angle(t - 30*second)
	})}

	cfg, err := NewConfig(0, 10*second, 0.25*second, WithMaxPassDuration(hour))
	if err != nil {
		t.Fatal(err)
	}
	seq, err := NewSequence(rising, cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := slices.Collect(seq.Passes(0, hour)); len(got) != 0 {
		t.Errorf("got %+v, want no events", got)
	}
	// Window samples plus one hour of loss search, with slack for the root.
	if limit := 2*360 + 100; rising.calls > limit {
		t.Errorf("made %d evaluations, want at most %d", rising.calls, limit)
	}
}

func TestMaxPassDurationAdmitsLongPass(t *testing.T) {
	// A 30-unit pass needs more than the 20-unit bound but less than 40.
	long := OracleFunc(func(t float64) unit.Angle {
		return unit.Angle(225 - (t-20)*(t-20))
	})

	short := mustSequence(t, long, 0, 1, 1e-6, WithMaxPassDuration(20))
	if got := slices.Collect(short.Passes(0, 10)); len(got) != 0 {
		t.Errorf("bound 20: got %+v, want none", got)
	}
	wide := mustSequence(t, long, 0, 1, 1e-6, WithMaxPassDuration(40))
	if got := slices.Collect(wide.Passes(0, 10)); len(got) != 1 || !within(got[0].LOS, 35, 1e-6) {
		t.Errorf("bound 40: got %+v, want one pass ending at 35", got)
	}
}

func TestPassesContextCancel(t *testing.T) {
	tests := []struct {
		name    string
		profile func(t float64) float64
	}{
		{"while scanning", func(t float64) float64 { return -1 }},
		{"while searching for loss", func(t float64) float64 { return t - 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			calls := 0
			oracle := OracleFunc(func(t float64) unit.Angle {
				if calls++; calls == 50 {
					cancel()
				}
				return unit.Angle(tt.profile(t))
			})
			cfg, err := NewConfig(0, 1, 1e-3, WithMaxPassDuration(1e9))
			if err != nil {
				t.Fatal(err)
			}
			seq, err := NewSequence(oracle, cfg, testLogger())
			if err != nil {
				t.Fatal(err)
			}

			if got := slices.Collect(seq.PassesContext(ctx, 0, 1e9)); len(got) != 0 {
				t.Errorf("got %+v, want no events", got)
			}
			if calls > 60 {
				t.Errorf("made %d evaluations after cancelling at 50", calls)
			}

			s := newScanner(ctx, oracle, cfg, testLogger(), 0, 1e9)
			if _, ok := s.Next(); ok {
				t.Error("Next on a cancelled scanner returned a pass")
			}
			if !errors.Is(s.Err(), context.Canceled) {
				t.Errorf("Err() = %v, want context.Canceled", s.Err())
			}
		})
	}
}

func TestOracleFailureDropsCandidate(t *testing.T) {
	// Elevation becomes unavailable mid-pass.
	broken := OracleFunc(func(t float64) unit.Angle {
		if t > 3 {
			return unit.Angle(math.NaN())
		}
		return unit.Angle(t - 1.5)
	})

	seq := mustSequence(t, broken, 0, 1, 1e-3)
	if got := slices.Collect(seq.Passes(0, 10)); len(got) != 0 {
		t.Errorf("got %+v, want no events", got)
	}
}

func TestScannerNext(t *testing.T) {
	seq := mustSequence(t, sine, 0.5, 0.5, 1e-6)
	s := seq.Scanner(0, 20)

	for i := 0; i < 2; i++ {
		if _, ok := s.Next(); !ok {
			t.Fatalf("Next %d: expected a pass", i)
		}
	}
	if ev, ok := s.Next(); ok {
		t.Errorf("Next after last pass returned %+v", ev)
	}
	// Exhausted scanners stay exhausted.
	if _, ok := s.Next(); ok {
		t.Error("Next after exhaustion returned a pass")
	}
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold unit.Angle
		step      float64
		tol       float64
		field     string
	}{
		{"zero step", 0, 0, 0.1, "step"},
		{"negative step", 0, -1, 0.1, "step"},
		{"NaN step", 0, math.NaN(), 0.1, "step"},
		{"infinite step", 0, math.Inf(1), 0.1, "step"},
		{"zero tolerance", 0, 1, 0, "tolerance"},
		{"negative tolerance", 0, 1, -0.1, "tolerance"},
		{"tolerance equals step", 0, 1, 1, "tolerance"},
		{"tolerance above step", 0, 1, 2, "tolerance"},
		{"NaN threshold", unit.Angle(math.NaN()), 1, 0.1, "threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.threshold, tt.step, tt.tol)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error = %v, want ErrInvalidConfig", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error %T is not a *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestMaxPassDurationValidation(t *testing.T) {
	for _, d := range []float64{0, -1, 1, 0.5, math.NaN(), math.Inf(1)} {
		_, err := NewConfig(0, 1, 0.1, WithMaxPassDuration(d))
		var ce *ConfigError
		if !errors.As(err, &ce) || ce.Field != "max_pass_duration" {
			t.Errorf("WithMaxPassDuration(%g): error = %v, want max_pass_duration ConfigError", d, err)
		}
	}
	cfg, err := NewConfig(0, 1, 0.1, WithMaxPassDuration(1.5))
	if err != nil || cfg.MaxPassDuration() != 1.5 {
		t.Errorf("MaxPassDuration = %g (err %v), want 1.5", cfg.MaxPassDuration(), err)
	}
	if def, _ := NewConfig(0, 1, 0.1); def.MaxPassDuration() != DefaultMaxPassDuration {
		t.Errorf("default MaxPassDuration = %g", def.MaxPassDuration())
	}
}

func TestConfigAccessors(t *testing.T) {
	thr := unit.AngleFromDeg(10)
	cfg, err := NewConfig(thr, 10, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Threshold() != thr || cfg.Step() != 10 || cfg.Tolerance() != 0.25 {
		t.Errorf("accessors = (%v, %v, %v), want (%v, 10, 0.25)", cfg.Threshold(), cfg.Step(), cfg.Tolerance(), thr)
	}
	// Without a minimum peak the threshold is the floor.
	if cfg.MinPeak() != thr {
		t.Errorf("MinPeak = %v, want threshold %v", cfg.MinPeak(), thr)
	}

	low, _ := NewConfig(thr, 10, 0.25, WithMinPeak(unit.AngleFromDeg(5)))
	if low.MinPeak() != thr {
		t.Errorf("MinPeak below threshold = %v, want %v", low.MinPeak(), thr)
	}
	high, _ := NewConfig(thr, 10, 0.25, WithMinPeak(unit.AngleFromDeg(30)))
	if high.MinPeak() != unit.AngleFromDeg(30) {
		t.Errorf("MinPeak = %v, want 30 degrees", high.MinPeak().Deg())
	}
}

func TestNewSequenceRejectsBadInput(t *testing.T) {
	if _, err := NewSequence(sine, Config{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero Config: error = %v, want ErrInvalidConfig", err)
	}
	cfg, _ := NewConfig(0, 1, 0.1)
	if _, err := NewSequence(nil, cfg, nil); err == nil {
		t.Error("nil oracle: expected error")
	}
	if _, err := NewSequence(sine, cfg, nil); err != nil {
		t.Errorf("nil logger: unexpected error %v", err)
	}
}

func BenchmarkPassesSine(b *testing.B) {
	cfg, _ := NewConfig(0.3, 0.1, 1e-6)
	seq, _ := NewSequence(sine, cfg, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for range seq.Passes(0, 100) {
		}
	}
}
