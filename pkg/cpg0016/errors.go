// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"errors"
	"fmt"
)

// Common errors returned by the library.
var (
	// ErrNoCriteria is returned when a query names no field and does not ask for everything.
	ErrNoCriteria = errors.New("no query parameters provided: set at least one filter or All")

	// ErrInvalidConcurrency is returned when the concurrency bound is zero or negative.
	ErrInvalidConcurrency = errors.New("concurrency must be a positive integer")

	// ErrUnexpectedPath is returned when a record's path does not live under the cpg0016 prefix.
	ErrUnexpectedPath = errors.New("path is not under s3://" + Bucket + "/" + Prefix + "/")

	// ErrUnsafeFilename is returned when a record's filename would escape the output directory.
	ErrUnsafeFilename = errors.New("filename must not contain path separators")

	// ErrMissingColumn is returned when the lookup table header lacks a mandatory column.
	ErrMissingColumn = errors.New("lookup table is missing a column")
)

// RowError reports a malformed row of the lookup table.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("lookup table line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// StatusError is returned when an object request answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("GET %s: HTTP status %s: %s", e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("GET %s: HTTP status %s", e.URL, e.Status)
}

// RecordError wraps the final error of a record that exhausted its attempts.
type RecordError struct {
	Filename string
	Attempts int
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.Filename, e.Attempts, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
