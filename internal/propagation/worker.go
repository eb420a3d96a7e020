package propagation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/star/passcast/internal/transform"
)

// lookJob is a unit of work for the worker pool.
type lookJob struct {
	prop *SGP4Propagator
}

// lookResult is the output of a single satellite's look-angle computation.
type lookResult struct {
	position SkyPosition
	err      error
	noradID  int
}

// WorkerPool manages a fixed number of goroutines that compute look angles
// for many satellites at one instant.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// LookBatch computes look angles from obs to every propagator at t. Results
// come back in no particular order. Failed satellites are logged, counted
// and skipped.
func (wp *WorkerPool) LookBatch(ctx context.Context, props []*SGP4Propagator, obs transform.Observer, t time.Time) ([]SkyPosition, int, int) {
	if len(props) == 0 {
		return nil, 0, 0
	}

	// GMST is the same for every satellite at t.
	gmst := transform.GMST(t)

	jobs := make(chan lookJob, wp.workers*2)
	results := make(chan lookResult, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				pos, err := look(job.prop, obs, t, gmst)
				select {
				case results <- lookResult{position: pos, err: err, noradID: job.prop.NORADID()}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range props {
			select {
			case jobs <- lookJob{prop: p}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	positions := make([]SkyPosition, 0, len(props))
	var successCount, errorCount int

	for result := range results {
		if result.err != nil {
			errorCount++
			wp.logger.Warn("propagation failed",
				"component", "propagation",
				"norad_id", result.noradID,
				"error", result.err,
			)
			continue
		}
		successCount++
		positions = append(positions, result.position)
	}

	return positions, successCount, errorCount
}
