// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testPath = "s3://cellpainting-gallery/cpg0016-jump/source_4/images/2021_04_26_Batch1/images/BR00117035__2021-05-02T16_02_51-Measurement1/Images/"

func testRecord(plate, filename string) Record {
	return Record{
		Source:   "source_4",
		Batch:    "2021_04_26_Batch1",
		Plate:    plate,
		Site:     "1",
		Well:     "A01",
		Illum:    "illum",
		Filename: filename,
		Path:     testPath,
		Compound: "AAKJLRGGTJKAMG-UHFFFAOYSA-N",
	}
}

// csvTable renders records as an uncompressed lookup table.
func csvTable(t *testing.T, recs ...Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(columns))
	for _, r := range recs {
		require.NoError(t, w.Write([]string{r.Source, r.Batch, r.Plate, r.Site, r.Well, r.Illum, r.Filename, r.Path, r.Compound}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// countingTableFetcher writes a fixed table and counts its calls.
type countingTableFetcher struct {
	fs    afero.Fs
	data  []byte
	err   error
	mu    sync.Mutex
	calls int
}

func (f *countingTableFetcher) Download(_ context.Context, fileID, dst string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if fileID != TableFileID {
		return io.ErrUnexpectedEOF
	}
	if f.err != nil {
		return f.err
	}
	return afero.WriteFile(f.fs, dst, f.data, 0o644)
}

func (f *countingTableFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// funcFetcher adapts a function to ObjectFetcher.
type funcFetcher func(ctx context.Context, r Record) (io.ReadCloser, error)

func (f funcFetcher) Fetch(ctx context.Context, r Record) (io.ReadCloser, error) {
	return f(ctx, r)
}

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

// eventLog collects progress events from concurrent workers.
type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) add(ev ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Event == name {
			n++
		}
	}
	return n
}
