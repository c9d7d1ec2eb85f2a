// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cpg0016

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSettings(fs afero.Fs, fetcher ObjectFetcher, concurrency int) Settings {
	return Settings{
		Concurrency: concurrency,
		Timeout:     5 * time.Second,
		Retry:       RetryPolicy{MaxAttempts: 3, Backoff: FixedBackoff(time.Millisecond)},
		Fetcher:     fetcher,
		Fs:          fs,
	}
}

func TestDownload_RetriesThenSucceeds(t *testing.T) {
	fs := afero.NewMemMapFs()
	var calls int32
	fetcher := funcFetcher(func(context.Context, Record) (io.ReadCloser, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection reset")
		}
		return body("pixels"), nil
	})

	var log eventLog
	report, err := Download(context.Background(), ResultSet{testRecord("p", "a.tif")}, "/out", fastSettings(fs, fetcher, 1), log.add)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	require.Len(t, report.Succeeded, 1)
	assert.Equal(t, 3, report.Succeeded[0].Attempts)
	assert.Equal(t, 2, log.count("retry"))
	assert.Equal(t, 1, log.count("file_done"))
	assert.Equal(t, 1, log.count("done"))

	got, err := afero.ReadFile(fs, "/out/a.tif")
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(got))
}

func TestDownload_FailureIsIsolated(t *testing.T) {
	fs := afero.NewMemMapFs()
	var rs ResultSet
	for i := 0; i < 10; i++ {
		rs = append(rs, testRecord("p", fmt.Sprintf("img_%d.tif", i)))
	}

	var badCalls int32
	fetcher := funcFetcher(func(_ context.Context, r Record) (io.ReadCloser, error) {
		if r.Filename == "img_7.tif" {
			atomic.AddInt32(&badCalls, 1)
			return nil, &StatusError{StatusCode: 503, Status: "503 Service Unavailable", URL: "x"}
		}
		return body("content of " + r.Filename), nil
	})

	var log eventLog
	report, err := Download(context.Background(), rs, "/out", fastSettings(fs, fetcher, 4), log.add)
	require.NoError(t, err)

	assert.Len(t, report.Succeeded, 9)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "img_7.tif", report.Failed[0].Filename)
	assert.Equal(t, 3, report.Failed[0].Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&badCalls))
	assert.Equal(t, 1, log.count("file_error"))

	var recErr *RecordError
	require.ErrorAs(t, report.Err(), &recErr)
	assert.Equal(t, "img_7.tif", recErr.Filename)
	var statusErr *StatusError
	assert.ErrorAs(t, report.Err(), &statusErr)

	for _, r := range rs {
		exists, _ := afero.Exists(fs, "/out/"+r.Filename)
		if r.Filename == "img_7.tif" {
			assert.False(t, exists)
			continue
		}
		got, err := afero.ReadFile(fs, "/out/"+r.Filename)
		require.NoError(t, err)
		assert.Equal(t, "content of "+r.Filename, string(got))
	}
}

func TestDownload_ConcurrencyBound(t *testing.T) {
	fs := afero.NewMemMapFs()
	var rs ResultSet
	for i := 0; i < 10; i++ {
		rs = append(rs, testRecord("p", fmt.Sprintf("img_%d.tif", i)))
	}

	var inFlight, peak int32
	fetcher := funcFetcher(func(context.Context, Record) (io.ReadCloser, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return body("x"), nil
	})

	report, err := Download(context.Background(), rs, "/out", fastSettings(fs, fetcher, 2), nil)
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 10)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestDownload_InvalidConcurrency(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := Download(context.Background(), ResultSet{testRecord("p", "a.tif")}, "/out",
			Settings{Concurrency: n, Fs: afero.NewMemMapFs()}, nil)
		assert.ErrorIs(t, err, ErrInvalidConcurrency)
	}
}

func TestDownload_UnexpectedPathFailsOneRecord(t *testing.T) {
	fs := afero.NewMemMapFs()
	bad := testRecord("p", "bad.tif")
	bad.Path = "s3://other-bucket/cpg0016-jump/source_4/"

	var calls int32
	fetcher := funcFetcher(func(context.Context, Record) (io.ReadCloser, error) {
		atomic.AddInt32(&calls, 1)
		return body("ok"), nil
	})

	report, err := Download(context.Background(), ResultSet{testRecord("p", "good.tif"), bad}, "/out", fastSettings(fs, fetcher, 2), nil)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, ErrUnexpectedPath)
	assert.Equal(t, 0, report.Failed[0].Attempts)
	assert.Len(t, report.Succeeded, 1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDownload_UnsafeFilename(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := funcFetcher(func(context.Context, Record) (io.ReadCloser, error) {
		return body("ok"), nil
	})
	report, err := Download(context.Background(), ResultSet{testRecord("p", "../escape.tif")}, "/out", fastSettings(fs, fetcher, 1), nil)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, ErrUnsafeFilename)
}

func TestDownload_PartialBodyLeavesNoFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := funcFetcher(func(context.Context, Record) (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(bytes.NewReader([]byte("half")), errReader{})), nil
	})

	report, err := Download(context.Background(), ResultSet{testRecord("p", "a.tif")}, "/out", fastSettings(fs, fetcher, 1), nil)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	assert.Empty(t, entries, "no final or temporary file may remain")
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestDownload_AttemptTimeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := funcFetcher(func(ctx context.Context, _ Record) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := fastSettings(fs, fetcher, 1)
	cfg.Timeout = 10 * time.Millisecond
	cfg.Retry.MaxAttempts = 2

	report, err := Download(context.Background(), ResultSet{testRecord("p", "a.tif")}, "/out", cfg, nil)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 2, report.Failed[0].Attempts)
}

func TestDownload_Canceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	fetcher := funcFetcher(func(ctx context.Context, _ Record) (io.ReadCloser, error) {
		once.Do(cancel)
		return nil, ctx.Err()
	})

	var rs ResultSet
	for i := 0; i < 5; i++ {
		rs = append(rs, testRecord("p", fmt.Sprintf("img_%d.tif", i)))
	}
	report, err := Download(ctx, rs, "/out", fastSettings(fs, fetcher, 1), nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Succeeded)
}

func TestDownload_EndToEndPlate(t *testing.T) {
	tableFS := afero.NewMemMapFs()
	store := NewStore(tableFS, "/cache", &countingTableFetcher{
		fs:   tableFS,
		data: gzipBytes(t, csvTable(t, testRecord("110000296354", "a.tif"), testRecord("X", "b.tif"))),
	})

	rs, err := store.Query(context.Background(), Criteria{Plate: Value("110000296354")})
	require.NoError(t, err)
	require.Equal(t, []string{"a.tif"}, rs.Filenames())

	outFS := afero.NewMemMapFs()
	var requested []string
	var mu sync.Mutex
	fetcher := funcFetcher(func(_ context.Context, r Record) (io.ReadCloser, error) {
		key, err := ObjectKey(r)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		requested = append(requested, key)
		mu.Unlock()
		return body("tiff"), nil
	})

	report, err := Download(context.Background(), rs, "/out", fastSettings(outFS, fetcher, 2), nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	entries, err := afero.ReadDir(outFS, "/out")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.tif", entries[0].Name())
	assert.Equal(t, []string{"cpg0016-jump/source_4/images/2021_04_26_Batch1/images/BR00117035__2021-05-02T16_02_51-Measurement1/Images/a.tif"}, requested)
}

func TestDownload_EmptyResultSet(t *testing.T) {
	fs := afero.NewMemMapFs()
	report, err := Download(context.Background(), nil, "/out", fastSettings(fs, funcFetcher(nil), 1), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.NoError(t, report.Err())

	info, err := fs.Stat("/out")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// slowReader yields data in small chunks with a pause between them.
type slowReader struct {
	data  []byte
	chunk int
	pause time.Duration
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	time.Sleep(r.pause)
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestDownload_SharedFilenameStaysIntact(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()

	first := testRecord("plate_1", "r01c01f01p01-ch1.tiff")
	second := testRecord("plate_2", "r01c01f01p01-ch1.tiff")
	contents := map[string][]byte{
		"plate_1": bytes.Repeat([]byte("A"), 50000),
		"plate_2": bytes.Repeat([]byte("B"), 30000),
	}
	fetcher := funcFetcher(func(_ context.Context, r Record) (io.ReadCloser, error) {
		return io.NopCloser(&slowReader{data: contents[r.Plate], chunk: 4096, pause: time.Millisecond}), nil
	})

	report, err := Download(context.Background(), ResultSet{first, second}, dir, fastSettings(fs, fetcher, 2), nil)
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 2)
	assert.Empty(t, report.Failed)

	got, err := os.ReadFile(filepath.Join(dir, "r01c01f01p01-ch1.tiff"))
	require.NoError(t, err)
	intact := bytes.Equal(got, contents["plate_1"]) || bytes.Equal(got, contents["plate_2"])
	assert.True(t, intact, "final file must be one complete body, got %d bytes", len(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files may remain")
	assert.Equal(t, "r01c01f01p01-ch1.tiff", entries[0].Name())
}
