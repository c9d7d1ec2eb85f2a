// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package gdrive

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDownload is returned when the server announces no content.
	ErrEmptyDownload = errors.New("download could not be started: empty or unknown content length")

	// ErrFormNotFound is returned when a confirmation page has no download form.
	ErrFormNotFound = errors.New("download form not found in the HTML")

	// ErrNoFormAction is returned when the download form has no action.
	ErrNoFormAction = errors.New("no form action found")
)

// StatusError is returned when the host answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP status %s", e.URL, e.Status)
}
