// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// Outcome is the result of one record of a batch.
type Outcome struct {
	Filename string
	URL      string
	Attempts int
	Err      error
}

// Report summarizes a batch download.
type Report struct {
	mu        sync.Mutex
	Succeeded []Outcome
	Failed    []Outcome
}

func (r *Report) add(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.Err != nil {
		r.Failed = append(r.Failed, o)
	} else {
		r.Succeeded = append(r.Succeeded, o)
	}
}

// Err aggregates the per-record failures, or returns nil if there were none.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var merr *multierror.Error
	for _, o := range r.Failed {
		merr = multierror.Append(merr, &RecordError{Filename: o.Filename, Attempts: o.Attempts, Err: o.Err})
	}
	return merr.ErrorOrNil()
}

// Download fetches every record of rs into destDir with at most
// cfg.Concurrency records in flight.
//
// Each record is retried per cfg.Retry and each attempt is bounded by
// cfg.Timeout. A record that exhausts its attempts is reported in
// Report.Failed and never affects the others, so per-record failures do not
// make Download return an error. Errors are returned only for invalid
// settings, an uncreatable destDir, or cancellation of ctx.
func Download(ctx context.Context, rs ResultSet, destDir string, cfg Settings, progress ProgressFunc) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, cfg.Concurrency)
	}
	cfg = cfg.withDefaults()
	emit := emitter(progress)

	if err := cfg.Fs.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	report := &Report{}
	total := int64(len(rs))
	var completed int64

	type token struct{}
	lim := make(chan token, cfg.Concurrency)
	var wg sync.WaitGroup

LOOP:
	for i := range rs {
		select {
		case <-ctx.Done():
			break LOOP
		default:
		}

		select {
		case lim <- token{}:
		case <-ctx.Done():
			break LOOP
		}

		wg.Add(1)
		go func(rec *Record) {
			defer wg.Done()
			defer func() { <-lim }()

			o := downloadRecord(ctx, cfg, rec, destDir, emit)
			report.add(o)
			n := atomic.AddInt64(&completed, 1)

			if o.Err != nil {
				emit(ProgressEvent{
					Level:     "error",
					Event:     "file_error",
					Path:      o.Filename,
					URL:       o.URL,
					Attempt:   o.Attempts,
					Total:     total,
					Completed: n,
					Message:   o.Err.Error(),
				})
				return
			}
			emit(ProgressEvent{Event: "file_done", Path: o.Filename, URL: o.URL, Attempt: o.Attempts, Total: total, Completed: n})
		}(&rs[i])
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	emit(ProgressEvent{
		Event:     "done",
		Total:     total,
		Completed: completed,
		Message:   fmt.Sprintf("download complete (downloaded %d, failed %d)", len(report.Succeeded), len(report.Failed)),
	})
	return report, nil
}

// downloadRecord runs the attempts for one record.
func downloadRecord(ctx context.Context, cfg Settings, rec *Record, destDir string, emit func(ProgressEvent)) Outcome {
	o := Outcome{Filename: rec.Filename}

	if err := safeFilename(rec.Filename); err != nil {
		o.Err = err
		return o
	}
	key, err := ObjectKey(*rec)
	if err != nil {
		o.Err = err
		return o
	}
	o.URL = "s3://" + Bucket + "/" + key

	dst := filepath.Join(destDir, rec.Filename)
	emit(ProgressEvent{Event: "file_start", Path: rec.Filename, URL: o.URL})

	o.Attempts, o.Err = cfg.Retry.Do(ctx,
		func(ctx context.Context, attempt int) error {
			actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			return fetchToFile(actx, cfg.Fs, cfg.Fetcher, rec, dst)
		},
		func(attempt int, err error, wait time.Duration) {
			emit(ProgressEvent{
				Level:   "warn",
				Event:   "retry",
				Path:    rec.Filename,
				URL:     o.URL,
				Attempt: attempt,
				Message: fmt.Sprintf("failed download attempt %d: %v; retrying in %s", attempt, err, wait),
			})
		},
	)
	return o
}

// fetchToFile writes the object behind rec to a unique temporary file next to
// dst and renames it over dst only once the whole body has been received.
func fetchToFile(ctx context.Context, fs afero.Fs, fetcher ObjectFetcher, rec *Record, dst string) error {
	body, err := fetcher.Fetch(ctx, *rec)
	if err != nil {
		return err
	}
	defer body.Close()

	// Each writer gets its own temporary file; records sharing a filename
	// resolve to whichever rename lands last.
	out, err := afero.TempFile(fs, filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	tmp := out.Name()

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("read body: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, dst); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}
