// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the zerolog logger used by the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// TimeFormat is the timestamp layout of console output.
const TimeFormat = "15:04:05"

// Options selects the logger's level and sinks.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// JSON switches console output to JSON lines.
	JSON bool

	// File, when set, additionally receives every entry as JSON.
	File string

	// Out replaces os.Stderr.
	Out io.Writer
}

// New builds a logger from opts. The returned closer releases the log file,
// if any, and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	if !opts.JSON {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: TimeFormat}
	}

	var closer io.Closer = nopCloser{}
	w := console
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		closer = f
		w = zerolog.MultiLevelWriter(console, f)
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level. "warning" is accepted as warn.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q (want debug, info, warn, error)", s)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
