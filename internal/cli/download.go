// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomouellette/pineapple/internal/cache"
	"github.com/tomouellette/pineapple/pkg/cpg0016"
	"github.com/tomouellette/pineapple/pkg/gdrive"
)

// jumpOpts holds the flags of "download jump-cpg0016".
type jumpOpts struct {
	output  string
	threads int
	all     bool

	// threadsSet records that the config file supplied threads.
	threadsSet bool

	dryRun  bool
	planFmt string

	transport  string
	attempts   int
	retryDelay string
	backoff    string
	backoffMax string
	timeout    string

	cacheDir      string
	refresh       bool
	tableRetries  int
	skipMalformed bool

	driveEndpoint string
	bucketURL     string
}

// filterFlags are the optional equality filters, in table column order.
var filterFlags = []struct {
	name  string
	usage string
}{
	{"source", "Data generating center identifier"},
	{"batch", "Batch identifier for the plate"},
	{"plate", "Plate identifier"},
	{"site", "Number of sites per well"},
	{"well", "Well identifier"},
	{"compound", "Compound denoted by hashed InChIKey identifier"},
}

func newDownloadCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download bio-images from the command-line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newJumpCmd(ro))
	return cmd
}

func newJumpCmd(ro *RootOpts) *cobra.Command {
	o := &jumpOpts{}
	filters := make(map[string]*string, len(filterFlags))

	cmd := &cobra.Command{
		Use:   "jump-cpg0016",
		Short: "Download images from the jump-cpg0016 dataset",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, o)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			crit := cpg0016.Criteria{All: o.all}
			for _, f := range filterFlags {
				if cmd.Flags().Changed(f.name) {
					setCriterion(&crit, f.name, *filters[f.name])
				}
			}
			return runJump(cmd.Context(), cmd, ro, o, crit)
		},
	}

	for _, f := range filterFlags {
		filters[f.name] = cmd.Flags().String(f.name, "", f.usage)
	}
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Path to save downloaded images")
	cmd.Flags().IntVarP(&o.threads, "threads", "t", 0, "Number of concurrent downloads (default: number of CPUs)")
	cmd.Flags().BoolVarP(&o.all, "all", "a", false, "Download all images")

	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Plan only: print the matching images and exit")
	cmd.Flags().StringVar(&o.planFmt, "plan-format", "table", "Plan output format for --dry-run: table|json")

	cmd.Flags().StringVar(&o.transport, "transport", "http", "Image transport: http|s3")
	cmd.Flags().IntVar(&o.attempts, "attempts", cpg0016.DefaultMaxAttempts, "Attempts per image, first try included")
	cmd.Flags().StringVar(&o.retryDelay, "retry-delay", cpg0016.DefaultRetryDelay.String(), "Delay between attempts (initial delay for exponential backoff)")
	cmd.Flags().StringVar(&o.backoff, "backoff", "fixed", "Retry delay policy: fixed|exponential")
	cmd.Flags().StringVar(&o.backoffMax, "backoff-max", "30s", "Maximum delay for exponential backoff")
	cmd.Flags().StringVar(&o.timeout, "timeout", cpg0016.DefaultTimeout.String(), "Timeout of a single download attempt")

	cmd.Flags().StringVar(&o.cacheDir, "cache-dir", "", "Lookup table cache directory (default: $"+cache.EnvVar+" or ~/.pineapple_cache)")
	cmd.Flags().BoolVar(&o.refresh, "refresh", false, "Fetch the lookup table again even if it is cached")
	cmd.Flags().IntVar(&o.tableRetries, "table-retries", 0, "Transport retries for the lookup table fetch")
	cmd.Flags().BoolVar(&o.skipMalformed, "skip-malformed", false, "Skip malformed lookup table rows instead of aborting")

	cmd.Flags().StringVar(&o.driveEndpoint, "drive-endpoint", gdrive.DefaultEndpoint, "Google Drive endpoint")
	cmd.Flags().StringVar(&o.bucketURL, "bucket-url", cpg0016.DefaultBaseURL, "HTTPS endpoint of the image bucket")
	_ = cmd.Flags().MarkHidden("drive-endpoint")
	_ = cmd.Flags().MarkHidden("bucket-url")

	return cmd
}

func setCriterion(c *cpg0016.Criteria, name, value string) {
	v := cpg0016.Value(value)
	switch name {
	case "source":
		c.Source = v
	case "batch":
		c.Batch = v
	case "plate":
		c.Plate = v
	case "site":
		c.Site = v
	case "well":
		c.Well = v
	case "compound":
		c.Compound = v
	}
}

// validateJump rejects invalid invocations before any I/O.
func validateJump(cmd *cobra.Command, o *jumpOpts, crit cpg0016.Criteria) error {
	if strings.TrimSpace(o.output) == "" {
		return errors.New("output directory not provided (--output)")
	}
	if err := crit.Validate(); err != nil {
		return errors.New("no query parameters provided. To download all images, use the --all flag")
	}
	if (cmd.Flags().Changed("threads") || o.threadsSet || o.threads != 0) && o.threads <= 0 {
		return fmt.Errorf("--threads must be a positive integer (got %d)", o.threads)
	}
	if o.attempts <= 0 {
		return fmt.Errorf("--attempts must be a positive integer (got %d)", o.attempts)
	}
	if o.tableRetries < 0 {
		return fmt.Errorf("--table-retries must not be negative (got %d)", o.tableRetries)
	}
	switch o.transport {
	case "http", "s3":
	default:
		return fmt.Errorf("invalid --transport %q (want http or s3)", o.transport)
	}
	switch o.planFmt {
	case "table", "json":
	default:
		return fmt.Errorf("invalid --plan-format %q (want table or json)", o.planFmt)
	}
	return nil
}

// settings builds downloader settings from the flags.
func (o *jumpOpts) settings(ctx context.Context) (cpg0016.Settings, error) {
	cfg := cpg0016.DefaultSettings()
	if o.threads > 0 {
		cfg.Concurrency = o.threads
	}

	timeout, err := time.ParseDuration(o.timeout)
	if err != nil {
		return cfg, fmt.Errorf("invalid --timeout: %w", err)
	}
	cfg.Timeout = timeout

	delay, err := time.ParseDuration(o.retryDelay)
	if err != nil {
		return cfg, fmt.Errorf("invalid --retry-delay: %w", err)
	}
	cfg.Retry.MaxAttempts = o.attempts
	switch o.backoff {
	case "fixed":
		cfg.Retry.Backoff = cpg0016.FixedBackoff(delay)
	case "exponential":
		ceiling, err := time.ParseDuration(o.backoffMax)
		if err != nil {
			return cfg, fmt.Errorf("invalid --backoff-max: %w", err)
		}
		cfg.Retry.Backoff = cpg0016.ExponentialBackoff{Initial: delay, Max: ceiling, Multiplier: 2}
	default:
		return cfg, fmt.Errorf("invalid --backoff %q (want fixed or exponential)", o.backoff)
	}

	switch o.transport {
	case "s3":
		f, err := cpg0016.NewS3Fetcher(ctx, "", "")
		if err != nil {
			return cfg, err
		}
		cfg.Fetcher = f
	default:
		cfg.Fetcher = cpg0016.NewHTTPFetcher(o.bucketURL)
	}
	return cfg, nil
}

func (o *jumpOpts) resolvedCacheDir() string {
	if o.cacheDir != "" {
		return o.cacheDir
	}
	return cache.Dir()
}

func runJump(ctx context.Context, cmd *cobra.Command, ro *RootOpts, o *jumpOpts, crit cpg0016.Criteria) error {
	if err := validateJump(cmd, o, crit); err != nil {
		return err
	}
	cfg, err := o.settings(ctx)
	if err != nil {
		return err
	}

	log, closer, err := ro.newLogger()
	if err != nil {
		return err
	}
	defer closer.Close()

	rep := newReporter(ro, log)
	defer rep.Close()

	log.Info().Msg(banner("Initializing jump-cpg0016 image download."))

	store := cpg0016.NewStore(nil, o.resolvedCacheDir(), gdrive.NewFetcher(&gdrive.Options{
		Endpoint: o.driveEndpoint,
		Retries:  o.tableRetries,
		Progress: rep.Table,
	}))
	store.SkipMalformed = o.skipMalformed
	store.Progress = rep.Event

	if o.refresh {
		if _, err := store.Refresh(ctx); err != nil {
			return err
		}
	}

	rs, err := store.Query(ctx, crit)
	if err != nil {
		return err
	}
	log.Info().Int("samples", len(rs)).Msgf("Detected %d samples for downloading.", len(rs))

	if o.dryRun {
		return printPlan(cmd, o, rs)
	}

	rep.StartBatch(len(rs))
	report, err := cpg0016.Download(ctx, rs, o.output, cfg, rep.Event)
	if err != nil {
		return err
	}
	if ferr := report.Err(); ferr != nil {
		log.Warn().
			Int("downloaded", len(report.Succeeded)).
			Int("failed", len(report.Failed)).
			Msg("some images could not be downloaded")
	}
	return nil
}

func printPlan(cmd *cobra.Command, o *jumpOpts, rs cpg0016.ResultSet) error {
	out := cmd.OutOrStdout()
	if o.planFmt == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	}
	fmt.Fprintf(out, "Plan for jump-cpg0016 (%d images):\n", len(rs))
	for _, r := range rs {
		u, err := cpg0016.ObjectURL(r)
		if err != nil {
			u = "(" + err.Error() + ")"
		}
		fmt.Fprintf(out, "  %s  %s\n", r.Filename, u)
	}
	return nil
}
