// Command diag prints predicted passes for satellites in a local TLE file,
// with angles in degrees, arcminutes and arcseconds.
//
//	diag -lat 39.7392 -lon -104.9903 -alt 1609 -hours 72 -ids 25544 tle.txt
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	sexa "github.com/soniakeys/sexagesimal"
	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/passes"
	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

func main() {
	var (
		lat       = flag.Float64("lat", 39.7392, "observer latitude, degrees")
		lon       = flag.Float64("lon", -104.9903, "observer longitude, degrees")
		alt       = flag.Float64("alt", 1609, "observer altitude, meters")
		hours     = flag.Float64("hours", 72, "prediction window, hours")
		start     = flag.String("start", "", "window start, RFC 3339 (default now)")
		ids       = flag.String("ids", "", "comma-separated NORAD ids (default: first -n satellites)")
		n         = flag.Int("n", 5, "satellites to predict when -ids is empty")
		minEl     = flag.Float64("min-el", 0, "elevation threshold, degrees")
		minPeak   = flag.Float64("min-peak", 0, "minimum culmination, degrees")
		step      = flag.Duration("step", passes.DefaultStep, "coarse scan step")
		tolerance = flag.Duration("tol", passes.DefaultTolerance, "refinement tolerance")
		maxPasses = flag.Int("max", 10, "passes per satellite, 0 for no limit")
		prec      = flag.Int("prec", 0, "arcsecond decimals")
		verbose   = flag.Bool("v", false, "log engine diagnostics to stderr")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: diag [flags] <tle-file>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR reading TLE file:", err)
		os.Exit(1)
	}
	entries, err := tle.Parse(bytes.NewReader(data), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR parsing TLE:", err)
		os.Exit(1)
	}
	ds := tle.NewDataset(flag.Arg(0), time.Now().UTC(), entries)
	fmt.Printf("Loaded %d TLE entries, epochs %s .. %s\n",
		ds.Len(), ds.EpochRange.Min.Format(time.RFC3339), ds.EpochRange.Max.Format(time.RFC3339))

	subset, err := selectEntries(ds, *ids, *n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}

	from := time.Now().UTC().Truncate(time.Second)
	if *start != "" {
		if from, err = time.Parse(time.RFC3339, *start); err != nil {
			fmt.Fprintln(os.Stderr, "ERROR: invalid -start:", err)
			os.Exit(2)
		}
	}

	obs := transform.NewObserver(*lat, *lon, *alt)
	fmt.Printf("Observer: lat %.*s  lon %.*s  alt %.0f m\n",
		*prec, sexa.FmtAngle(obs.Lat), *prec, sexa.FmtAngle(obs.Lon), obs.AltM)
	fmt.Printf("Window:   %s + %gh\n\n", from.Format(time.RFC3339), *hours)

	req := passes.Request{
		Observer:        obs,
		Entries:         subset,
		Start:           from,
		Horizon:         time.Duration(*hours * float64(time.Hour)),
		MinElevation:    unit.AngleFromDeg(*minEl),
		Step:            *step,
		Tolerance:       *tolerance,
		MaxPasses:       *maxPasses,
		GroundTrackStep: -1,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "min-peak" {
			peak := unit.AngleFromDeg(*minPeak)
			req.MinPeak = &peak
		}
	})

	began := time.Now()
	results, err := passes.Predict(context.Background(), req, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	total := 0
	for _, sat := range results {
		if sat.Error != "" {
			fmt.Fprintf(tw, "%s (NORAD %d): ERROR %s\n", sat.Name, sat.NORADID, sat.Error)
			continue
		}
		fmt.Fprintf(tw, "%s (NORAD %d): %d passes\n", sat.Name, sat.NORADID, len(sat.Passes))
		fmt.Fprintln(tw, "\tAOS\tTCA\tLOS\tmax el\taz AOS/TCA/LOS\tdur")
		for _, p := range sat.Passes {
			fmt.Fprintf(tw, "\t%s\t%s\t%s\t%.*s\t%s / %s / %s\t%.0fs\n",
				p.StartTime.Format("01-02 15:04:05"),
				p.MaxElevationTime.Format("15:04:05"),
				p.EndTime.Format("15:04:05"),
				*prec, sexa.FmtAngle(unit.AngleFromDeg(p.MaxElevation)),
				compass(p.StartAzimuth), compass(p.AzimuthAtMax), compass(p.EndAzimuth),
				p.DurationSeconds,
			)
		}
		total += len(sat.Passes)
	}
	tw.Flush()

	fmt.Printf("\nTotal passes found: %d in %v\n", total, time.Since(began).Round(time.Millisecond))
}

func selectEntries(ds *tle.Dataset, ids string, n int) ([]tle.Entry, error) {
	if ids == "" {
		if n > ds.Len() {
			n = ds.Len()
		}
		return ds.Satellites[:n], nil
	}
	var out []tle.Entry
	for _, s := range strings.Split(ids, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid NORAD id %q", s)
		}
		e, ok := ds.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("NORAD %d not in file", id)
		}
		out = append(out, e)
	}
	return out, nil
}

var points = [...]string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE", "S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}

// compass names an azimuth in degrees by its 16-point bearing.
func compass(az float64) string {
	i := int((az+11.25)/22.5) % len(points)
	if i < 0 {
		i += len(points)
	}
	return fmt.Sprintf("%s %3.0f°", points[i], az)
}
