// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/tomouellette/pineapple/pkg/cpg0016"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	magenta = color.New(color.FgHiMagenta, color.Bold).SprintFunc()
)

// banner prefixes desc with "[ date | time | pineapple ]".
func banner(desc string) string {
	now := time.Now()
	stamp := now.Format("2006-01-02") + " | " + now.Format("15:04:05")
	return fmt.Sprintf("%s %s %s %s %s %s", bold("["), stamp, bold("|"), magenta("pineapple"), bold("]"), desc)
}

// reporter turns table and download progress into log lines and, on an
// interactive terminal, progress bars.
type reporter struct {
	log  zerolog.Logger
	bars bool
	json func(cpg0016.ProgressEvent)

	mu       sync.Mutex
	tableBar *pb.ProgressBar
	batchBar *pb.ProgressBar
}

func newReporter(ro *RootOpts, log zerolog.Logger) *reporter {
	r := &reporter{
		log:  log,
		bars: !ro.Quiet && !ro.JSONOut && term.IsTerminal(int(os.Stderr.Fd())),
	}
	if ro.JSONOut {
		r.json = jsonProgress(os.Stdout)
	}
	return r
}

// Table receives byte counts of the lookup table download.
func (r *reporter) Table(written, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if written == 0 {
		r.log.Info().
			Int64("bytes", total).
			Msgf("Data table %s not detected. Downloading to cache (%.2f GB)", cpg0016.TableFilename, float64(total)/1e9)
		if r.bars {
			r.tableBar = newBar(total, banner("Downloading "+cpg0016.TableFilename), true)
		}
		return
	}
	if r.tableBar != nil {
		r.tableBar.SetCurrent(written)
		if written >= total {
			r.tableBar.Finish()
			r.tableBar = nil
		}
	}
	if written >= total {
		r.log.Info().Msg("Data table cached. Proceeding to download data.")
	}
}

// StartBatch opens the record counter bar.
func (r *reporter) StartBatch(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bars && n > 0 {
		r.batchBar = newBar(int64(n), banner("Downloading jump-cpg0016 images"), false)
	}
}

// Close finishes any open bar.
func (r *reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range []*pb.ProgressBar{r.tableBar, r.batchBar} {
		if b != nil {
			b.Finish()
		}
	}
	r.tableBar, r.batchBar = nil, nil
}

// Event handles table store and downloader events. Safe for concurrent use.
func (r *reporter) Event(ev cpg0016.ProgressEvent) {
	if r.json != nil {
		r.json(ev)
	}

	switch ev.Event {
	case "table_cached":
		r.log.Debug().Str("path", ev.Path).Msg("lookup table cached")
	case "table_fetch":
		r.log.Debug().Str("path", ev.Path).Msg(ev.Message)
	case "row_skipped":
		r.log.Warn().Msg(ev.Message)
	case "file_start":
		r.log.Debug().Str("file", ev.Path).Str("url", ev.URL).Msg("downloading")
	case "retry":
		r.log.Warn().Str("file", ev.Path).Int("attempt", ev.Attempt).Msg(ev.Message)
	case "file_done":
		r.log.Debug().Str("file", ev.Path).Int("attempts", ev.Attempt).Msg("done")
		r.increment()
	case "file_error":
		r.log.Error().Str("file", ev.Path).Int("attempts", ev.Attempt).Msgf("Could not download file: %s", ev.Message)
		r.increment()
	case "done":
		r.log.Info().Int64("total", ev.Total).Msg(ev.Message)
	}
}

func (r *reporter) increment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchBar != nil {
		r.batchBar.Increment()
	}
}

func newBar(total int64, prefix string, bytes bool) *pb.ProgressBar {
	bar := pb.New64(total)
	bar.SetTemplate(pb.Full)
	bar.SetWriter(os.Stderr)
	bar.Set(pb.Bytes, bytes)
	bar.Set("prefix", prefix+" ")
	return bar.Start()
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) func(cpg0016.ProgressEvent) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev cpg0016.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
