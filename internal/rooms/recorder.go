package rooms

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"typerace/internal/metrics"
)

// RaceRecord describes a race at the moment it starts.
type RaceRecord struct {
	ID        string
	Code      string
	Kind      Kind
	SnippetID string
	StartedAt time.Time
}

// Recorder persists race outcomes. Implementations may be slow; rooms never
// call them from their own goroutine.
type Recorder interface {
	RaceStarted(ctx context.Context, race RaceRecord) error
	RecordResult(ctx context.Context, raceID, snippetID string, res RaceResult) error
	RaceFinished(ctx context.Context, raceID string, finishedAt time.Time) error
}

type nopRecorder struct{}

func (nopRecorder) RaceStarted(context.Context, RaceRecord) error                  { return nil }
func (nopRecorder) RecordResult(context.Context, string, string, RaceResult) error { return nil }
func (nopRecorder) RaceFinished(context.Context, string, time.Time) error          { return nil }

type recordJob struct {
	name string
	run  func(ctx context.Context) error
}

// journal writes to a Recorder from a single goroutine so a race row always
// lands before its results.
type journal struct {
	rec     Recorder
	timeout time.Duration
	jobs    chan recordJob
	log     zerolog.Logger
}

func newJournal(rec Recorder, timeout time.Duration, logger zerolog.Logger) *journal {
	if rec == nil {
		rec = nopRecorder{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &journal{
		rec:     rec,
		timeout: timeout,
		jobs:    make(chan recordJob, 256),
		log:     logger,
	}
}

func (j *journal) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-j.jobs:
			jobCtx, cancel := context.WithTimeout(ctx, j.timeout)
			if err := job.run(jobCtx); err != nil {
				metrics.PersistFailures.Inc()
				j.log.Warn().Err(err).Str("op", job.name).Msg("recording race data")
			}
			cancel()
		}
	}
}

func (j *journal) enqueue(name string, fn func(ctx context.Context) error) {
	if j == nil {
		return
	}
	select {
	case j.jobs <- recordJob{name: name, run: fn}:
	default:
		metrics.PersistFailures.Inc()
		j.log.Warn().Str("op", name).Msg("record queue full, dropping")
	}
}

func (j *journal) raceStarted(race RaceRecord) {
	j.enqueue("race-started", func(ctx context.Context) error {
		return j.rec.RaceStarted(ctx, race)
	})
}

func (j *journal) result(raceID, snippetID string, res RaceResult) {
	j.enqueue("record-result", func(ctx context.Context) error {
		if err := j.rec.RecordResult(ctx, raceID, snippetID, res); err != nil {
			return err
		}
		metrics.ResultsRecorded.Inc()
		return nil
	})
}

func (j *journal) raceFinished(raceID string, at time.Time) {
	j.enqueue("race-finished", func(ctx context.Context) error {
		return j.rec.RaceFinished(ctx, raceID, at)
	})
}
