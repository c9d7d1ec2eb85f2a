// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/afero"
)

const (
	// Bucket is the public bucket holding the cpg0016 images.
	Bucket = "cellpainting-gallery"

	// Prefix is the key prefix of the cpg0016 dataset inside Bucket.
	Prefix = "cpg0016-jump"

	// TableFilename is the name of the cached lookup table inside the cache directory.
	TableFilename = "jump-cpg0016.csv.gz"

	// TableFileID is the Google Drive file id of the lookup table.
	TableFileID = "1X-7Im3DYdgw1ITmIy_H4y1nclWDW8Uxh"
)

// Record is one row of the cpg0016 lookup table, describing one image.
//
// Every field is mandatory in the table. Records are built once while the
// table is streamed and never modified afterwards.
type Record struct {
	// Source is the data generating center identifier.
	Source string `json:"source"`

	// Batch is the batch identifier for the plate.
	Batch string `json:"batch"`

	// Plate is the plate identifier.
	Plate string `json:"plate"`

	// Site is the imaging site within the well.
	Site string `json:"site"`

	// Well is the well identifier.
	Well string `json:"well"`

	// Illum is the illumination-correction identifier. It is not filterable.
	Illum string `json:"illum"`

	// Filename is the name of the image file, used as-is for the local file.
	Filename string `json:"filename"`

	// Path is the fully-qualified object-store directory of the image,
	// e.g. "s3://cellpainting-gallery/cpg0016-jump/source_4/images/.../".
	Path string `json:"path"`

	// Compound is the compound, denoted by a hashed InChIKey identifier.
	Compound string `json:"compound"`
}

// ResultSet is the ordered list of records matching a query.
// Order follows the rows of the lookup table.
type ResultSet []Record

// Filenames returns the local filenames of the result set in order.
func (rs ResultSet) Filenames() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Filename
	}
	return out
}

// Settings configures the batch downloader.
//
// Example:
//
//	cfg := cpg0016.DefaultSettings()
//	cfg.Concurrency = 4
//	report, err := cpg0016.Download(ctx, rs, "./images", cfg, nil)
type Settings struct {
	// Concurrency is the maximum number of records downloading at once.
	// It must be positive; use DefaultConcurrency when the caller has no
	// preference.
	Concurrency int

	// Timeout bounds every single HTTP attempt.
	// If <= 0, defaults to 30s.
	Timeout time.Duration

	// Retry decides how many attempts a record gets and the delay between
	// them. A zero value means 3 attempts with a fixed 2s delay.
	Retry RetryPolicy

	// Fetcher retrieves the object behind a record.
	// If nil, an HTTPFetcher against the public bucket endpoint is used.
	Fetcher ObjectFetcher

	// Fs is the filesystem the images are written to.
	// If nil, the OS filesystem is used.
	Fs afero.Fs
}

// DefaultConcurrency returns the number of available CPU cores.
func DefaultConcurrency() int {
	return runtime.NumCPU()
}

// DefaultSettings returns Settings with the defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		Concurrency: DefaultConcurrency(),
		Timeout:     DefaultTimeout,
		Retry:       DefaultRetryPolicy(),
	}
}

// DefaultTimeout is the per-attempt timeout of image downloads.
const DefaultTimeout = 30 * time.Second

func (s Settings) withDefaults() Settings {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	s.Retry = s.Retry.withDefaults()
	if s.Fetcher == nil {
		s.Fetcher = NewHTTPFetcher("")
	}
	if s.Fs == nil {
		s.Fs = afero.NewOsFs()
	}
	return s
}

// ProgressEvent represents a progress update from the table store or the
// batch downloader.
//
// The Event field indicates the type of event:
//   - "table_fetch": The lookup table is missing and is being fetched
//   - "table_cached": The lookup table is present in the cache
//   - "row_skipped": A malformed row was skipped (SkipMalformed only)
//   - "query_done": The query finished; Total holds the number of matches
//   - "file_start": Download of a record has started
//   - "retry": An attempt failed and another one will follow
//   - "file_done": A record was written to disk
//   - "file_error": A record failed after all attempts
//   - "done": All records were processed
type ProgressEvent struct {
	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Level is the log level: "debug", "info", "warn", "error".
	// Empty defaults to "info".
	Level string `json:"level,omitempty"`

	// Event is the event type identifier.
	Event string `json:"event"`

	// Path is the local filename, or the table path for table events.
	Path string `json:"path,omitempty"`

	// URL is the remote locator of the record.
	URL string `json:"url,omitempty"`

	// Total is a count or size depending on the event.
	Total int64 `json:"total,omitempty"`

	// Completed is the number of records finished so far (success or failure).
	Completed int64 `json:"completed,omitempty"`

	// Attempt is the 1-based attempt number for "retry" and "file_error".
	Attempt int `json:"attempt,omitempty"`

	// Message contains additional context or error details.
	Message string `json:"message,omitempty"`
}

// ProgressFunc is a callback for receiving progress events.
// The downloader invokes it from multiple goroutines, so it must be thread-safe.
type ProgressFunc func(ProgressEvent)

func emitter(progress ProgressFunc) func(ProgressEvent) {
	return func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		progress(ev)
	}
}

// buildHTTPClient creates an HTTP client for image downloads. Timeouts are
// applied per attempt through the request context.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}
