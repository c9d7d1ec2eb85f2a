// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package gdrive downloads publicly shared Google Drive files, following the
// confirmation page Drive interposes for files too large to virus-scan.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"
)

// DefaultEndpoint is the Google Drive host serving direct downloads.
const DefaultEndpoint = "https://drive.google.com"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// maxRedirects matches what browsers tolerate for Drive's download hops.
const maxRedirects = 10

// ProgressFunc receives the cumulative number of bytes written and the
// announced total. It is called once with written == 0 when the transfer
// starts, then at most every 200ms, and once more at the end.
type ProgressFunc func(written, total int64)

// Options configures a Fetcher. The zero value is usable.
type Options struct {
	// Endpoint replaces DefaultEndpoint.
	Endpoint string

	// Retries enables transport-level retries of failed requests.
	// The default of 0 performs every request exactly once.
	Retries int

	// Client replaces the default client (cookie jar, 10 redirects).
	Client *http.Client

	// Resolver replaces the default ConfirmationResolver.
	Resolver URLResolver

	// Fs is the filesystem written to. If nil, the OS filesystem is used.
	Fs afero.Fs

	// Progress receives byte counts of the streaming download.
	Progress ProgressFunc
}

// Fetcher downloads Google Drive files by id.
type Fetcher struct {
	endpoint string
	client   *http.Client
	resolver URLResolver
	fs       afero.Fs
	progress ProgressFunc
}

// NewFetcher returns a Fetcher. opts may be nil.
func NewFetcher(opts *Options) *Fetcher {
	if opts == nil {
		opts = &Options{}
	}
	f := &Fetcher{
		endpoint: strings.TrimSuffix(opts.Endpoint, "/"),
		client:   opts.Client,
		resolver: opts.Resolver,
		fs:       opts.Fs,
		progress: opts.Progress,
	}
	if f.endpoint == "" {
		f.endpoint = DefaultEndpoint
	}
	if f.client == nil {
		f.client = buildHTTPClient(opts.Retries)
	}
	if f.resolver == nil {
		f.resolver = &ConfirmationResolver{Client: f.client}
	}
	if f.fs == nil {
		f.fs = afero.NewOsFs()
	}
	return f
}

// DownloadURL returns the direct-download URL of a file id.
func (f *Fetcher) DownloadURL(fileID string) string {
	return fmt.Sprintf("%s/uc?id=%s&export=download", f.endpoint, url.QueryEscape(fileID))
}

// Download resolves the file behind fileID and streams it to dst. The data
// lands in dst only once the transfer completes.
func (f *Fetcher) Download(ctx context.Context, fileID, dst string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := f.resolver.ResolveURL(ctx, f.DownloadURL(fileID))
	if err != nil {
		return err
	}
	return f.stream(ctx, u, dst)
}

func (f *Fetcher) stream(ctx context.Context, rawURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}
	if resp.ContentLength <= 0 {
		return ErrEmptyDownload
	}

	if err := f.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp := dst + ".part"
	out, err := f.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	pr := newProgressReader(resp.Body, resp.ContentLength, f.progress)
	if _, err := io.Copy(out, pr); err != nil {
		out.Close()
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		_ = f.fs.Remove(tmp)
		return err
	}
	return f.fs.Rename(tmp, dst)
}

// progressReader wraps an io.Reader and reports cumulative bytes during reads.
type progressReader struct {
	reader   io.Reader
	total    int64
	read     int64
	report   ProgressFunc
	lastEmit time.Time
	interval time.Duration
}

func newProgressReader(r io.Reader, total int64, report ProgressFunc) *progressReader {
	if report != nil {
		report(0, total)
	}
	return &progressReader{
		reader:   r,
		total:    total,
		report:   report,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond,
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	pr.read += int64(n)
	if pr.report != nil && (time.Since(pr.lastEmit) >= pr.interval || errors.Is(err, io.EOF)) {
		pr.report(pr.read, pr.total)
		pr.lastEmit = time.Now()
	}
	return n, err
}

// buildHTTPClient creates the client used against Drive: cookies are kept
// across the confirmation hop and redirects are capped. retries > 0 wraps it
// with retryablehttp.
func buildHTTPClient(retries int) *http.Client {
	jar, _ := cookiejar.New(nil)
	base := &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   10 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	if retries <= 0 {
		return base
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.RetryMax = retries
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = nil
	return rc.StandardClient()
}
