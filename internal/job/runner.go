// Package job implements the year-level SimHash computation pipeline:
// the asynchronous job that, given (url, year), queries the
// change-log, fetches each capture under a bounded worker pool,
// extracts features, computes a SimHash, and commits the results to
// the cache store.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/feature"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/metrics"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/simhash"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/store"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/urlkey"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/wayback"
)

// ChangeLogClient is the subset of wayback.Client the runner needs to
// enumerate captures.
type ChangeLogClient interface {
	Timemap(ctx context.Context, url, year string, snapshotsPerYear int) ([]wayback.CaptureRecord, error)
}

// Fetcher is the subset of wayback.Client the runner needs to
// download one capture's body.
type Fetcher interface {
	Fetch(ctx context.Context, timestamp, url string) ([]byte, error)
}

// Runner is an explicit, stateless-per-call value: every mutable
// field a job needs (seen, error counter, url, job id) is function
// local, so the same *Runner is safe to invoke concurrently for
// different jobs. This replaces the teacher's package-level
// simhashMap/mu, which leaked digest state across unrelated jobs.
type Runner struct {
	ChangeLog ChangeLogClient
	Fetcher   Fetcher
	Cache     store.Cache
	Metrics   metrics.Client
	Logger    zerolog.Logger

	SimhashSize       int
	HashFunc          simhash.HashFunc
	SnapshotsPerYear  int
	Threads           int
	MaxDownloadErrors int
	ExpireAfter       time.Duration
	CommitPartial     bool
}

// Run executes the full pipeline synchronously; callers that want
// asynchronous execution (the task queue adapter) invoke it from a
// goroutine or worker.
func (r *Runner) Run(ctx context.Context, url, year string, submittedAt time.Time, progress ProgressFunc) Result {
	start := time.Now()
	metrics.Timing(r.Metrics, metrics.TaskWait, start.Sub(submittedAt))

	if url == "" {
		return Result{State: Error, Info: "URL is required"}
	}
	if year == "" {
		return Result{State: Error, Info: "Year is required"}
	}

	key := urlkey.Canonicalize(url)
	if progress != nil {
		progress(fmt.Sprintf("Fetching captures for %s year %s", url, year))
	}

	records, err := r.ChangeLog.Timemap(ctx, url, year, r.SnapshotsPerYear)
	if errors.Is(err, wayback.ErrEmpty) {
		if cacheErr := r.Cache.PutYearSentinel(ctx, key, year, r.ExpireAfter); cacheErr != nil {
			r.Logger.Error().Err(cacheErr).Str("urlkey", key).Msg("failed to write year sentinel")
		}
		return Result{State: Error, Info: fmt.Sprintf("No captures of %s for year %s", url, year)}
	}
	if err != nil {
		return Result{State: Error, Info: err.Error()}
	}

	total := len(records)
	seen := make(map[string]string)
	var seenMu sync.Mutex
	var errCount int32
	results := make(map[string]string)
	var resultsMu sync.Mutex
	var processed int64

	threads := r.Threads
	if threads <= 0 {
		threads = 1
	}
	sem := make(chan struct{}, threads)
	var wg sync.WaitGroup

dispatch:
	for _, rec := range records {
		select {
		case <-ctx.Done():
			break dispatch
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(rec wayback.CaptureRecord) {
			defer func() {
				<-sem
				wg.Done()
			}()

			ts, enc, ok := r.processCapture(ctx, url, rec, seen, &seenMu, &errCount)
			if ok {
				resultsMu.Lock()
				results[ts] = enc
				resultsMu.Unlock()
			}

			n := atomic.AddInt64(&processed, 1)
			if progress != nil && n%10 == 0 {
				progress(fmt.Sprintf("Processed %d out of %d captures", n, total))
			}
		}(rec)
	}
	wg.Wait()

	// A cancelled job commits what it collected only when CommitPartial
	// is set; the write uses a context detached from the cancellation so
	// the cache client does not reject it outright.
	if len(results) > 0 && (ctx.Err() == nil || r.CommitPartial) {
		if err := r.Cache.PutMany(context.WithoutCancel(ctx), key, results, r.ExpireAfter); err != nil {
			// Cache-backend write failures are an observability
			// concern only: the job still reports SUCCESS once the
			// pipeline work itself completed.
			r.Logger.Error().Err(err).Str("urlkey", key).Msg("failed to commit simhash results")
		}
	}

	metrics.Incr(r.Metrics, metrics.CalculateSimhash)
	duration := time.Since(start)
	metrics.Timing(r.Metrics, metrics.TaskDuration, duration)

	return Result{State: Success, Duration: duration}
}

// processCapture is the per-capture routine spec.md §4.6 step 6
// describes: digest dedup short-circuit, soft circuit breaker,
// fetch, extract, hash.
func (r *Runner) processCapture(
	ctx context.Context,
	url string,
	rec wayback.CaptureRecord,
	seen map[string]string,
	seenMu *sync.Mutex,
	errCount *int32,
) (timestamp, encoded string, ok bool) {
	seenMu.Lock()
	if enc, exists := seen[rec.Digest]; exists {
		seenMu.Unlock()
		return rec.Timestamp, enc, true
	}
	seenMu.Unlock()

	if atomic.LoadInt32(errCount) >= int32(r.MaxDownloadErrors) {
		return "", "", false
	}

	body, err := r.Fetcher.Fetch(ctx, rec.Timestamp, url)
	if err != nil {
		n := atomic.AddInt32(errCount, 1)
		metrics.Incr(r.Metrics, metrics.DownloadError)
		if int(n) == r.MaxDownloadErrors {
			metrics.Incr(r.Metrics, metrics.MultipleConsecutiveErrors)
			r.Logger.Warn().Str("url", url).Int("errors", int(n)).Msg("tripped download error circuit breaker")
		}
		return "", "", false
	}
	if body == nil {
		// Content-type rejection: not an error, just nothing to hash.
		return "", "", false
	}
	metrics.Incr(r.Metrics, metrics.DownloadCapture)

	features := feature.Extract(body)
	if len(features) == 0 {
		return "", "", false
	}

	enc := simhash.EncodedFingerprint(features, r.SimhashSize, r.HashFunc)

	seenMu.Lock()
	seen[rec.Digest] = enc
	seenMu.Unlock()

	return rec.Timestamp, enc, true
}
