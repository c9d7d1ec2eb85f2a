// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

// TableFetcher populates dst with the remote file identified by fileID.
// gdrive.Fetcher is the production implementation.
type TableFetcher interface {
	Download(ctx context.Context, fileID, dst string) error
}

// Store materializes result sets from the cached lookup table.
type Store struct {
	fs       afero.Fs
	cacheDir string
	fetcher  TableFetcher

	// SkipMalformed downgrades malformed rows from a fatal error to a
	// "row_skipped" event.
	SkipMalformed bool

	// Progress receives table events. May be nil.
	Progress ProgressFunc
}

// NewStore returns a store caching the lookup table in cacheDir.
// A nil fs means the OS filesystem.
func NewStore(fs afero.Fs, cacheDir string, fetcher TableFetcher) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, cacheDir: cacheDir, fetcher: fetcher}
}

// TablePath returns the deterministic path of the cached lookup table.
func (s *Store) TablePath() string {
	return filepath.Join(s.cacheDir, TableFilename)
}

// EnsureCached fetches the lookup table unless it already exists, and returns
// its path. An existing table is never re-validated or refreshed.
func (s *Store) EnsureCached(ctx context.Context) (string, error) {
	path := s.TablePath()
	emit := emitter(s.Progress)

	ok, err := afero.Exists(s.fs, path)
	if err != nil {
		return "", err
	}
	if ok {
		emit(ProgressEvent{Event: "table_cached", Path: path})
		return path, nil
	}
	return path, s.fetch(ctx, path)
}

// Refresh removes the cached lookup table and fetches it again.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	path := s.TablePath()
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove cached table: %w", err)
	}
	return path, s.fetch(ctx, path)
}

func (s *Store) fetch(ctx context.Context, path string) error {
	if s.fetcher == nil {
		return fmt.Errorf("lookup table %s not cached and no fetcher configured", path)
	}
	emitter(s.Progress)(ProgressEvent{Event: "table_fetch", Path: path, Message: "lookup table not cached, fetching"})

	if err := s.fs.MkdirAll(s.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := s.fetcher.Download(ctx, TableFileID, path); err != nil {
		return fmt.Errorf("fetch lookup table: %w", err)
	}
	return nil
}

// Query returns every record of the lookup table matching c, in table order.
// Criteria are validated before any I/O.
func (s *Store) Query(ctx context.Context, c Criteria) (ResultSet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	path, err := s.EnsureCached(ctx)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lookup table: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decompress lookup table: %w", err)
	}
	defer zr.Close()

	rs, err := FilterTable(ctx, zr, c, FilterOptions{
		SkipMalformed: s.SkipMalformed,
		Progress:      s.Progress,
	})
	if err != nil {
		return nil, err
	}
	emitter(s.Progress)(ProgressEvent{
		Event:   "query_done",
		Path:    path,
		Total:   int64(len(rs)),
		Message: fmt.Sprintf("detected %d samples for downloading", len(rs)),
	})
	return rs, nil
}

// FilterOptions tunes FilterTable.
type FilterOptions struct {
	SkipMalformed bool
	Progress      ProgressFunc
}

// columns lists the mandatory header fields of the lookup table.
var columns = []string{"source", "batch", "plate", "site", "well", "illum", "filename", "path", "compound"}

// FilterTable streams an uncompressed CSV lookup table from r and returns the
// records matching c in row order. Columns are located by header name.
func FilterTable(ctx context.Context, r io.Reader, c Criteria, opts FilterOptions) (ResultSet, error) {
	emit := emitter(opts.Progress)

	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("lookup table is empty")
		}
		return nil, fmt.Errorf("read lookup table header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	pos := make([]int, len(columns))
	for i, name := range columns {
		p, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		pos[i] = p
	}

	var rs ResultSet
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErr := &RowError{Err: err}
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErr.Line = perr.Line
			}
			// Only field-count mismatches leave the reader in a usable state.
			if opts.SkipMalformed && errors.Is(err, csv.ErrFieldCount) {
				emit(ProgressEvent{Level: "warn", Event: "row_skipped", Message: rowErr.Error()})
				continue
			}
			return nil, rowErr
		}

		rec := Record{
			Source:   row[pos[0]],
			Batch:    row[pos[1]],
			Plate:    row[pos[2]],
			Site:     row[pos[3]],
			Well:     row[pos[4]],
			Illum:    row[pos[5]],
			Filename: row[pos[6]],
			Path:     row[pos[7]],
			Compound: row[pos[8]],
		}
		if c.Matches(rec) {
			rs = append(rs, rec)
		}
	}
	return rs, nil
}
