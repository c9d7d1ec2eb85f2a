// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomouellette/pineapple/internal/cache"
	"github.com/tomouellette/pineapple/pkg/cpg0016"
	"github.com/tomouellette/pineapple/pkg/gdrive"
)

type cacheOpts struct {
	dir           string
	driveEndpoint string
	retries       int
}

func (o *cacheOpts) tablePath() string {
	return cpg0016.NewStore(nil, o.resolvedDir(), nil).TablePath()
}

func (o *cacheOpts) resolvedDir() string {
	if o.dir != "" {
		return o.dir
	}
	return cache.Dir()
}

// applyConfig reads cache-dir and table-retries from the config file unless
// the matching flag was given.
func (o *cacheOpts) applyConfig(cmd *cobra.Command, ro *RootOpts) error {
	_, cfg, err := activeConfig(ro)
	if err != nil || cfg == nil {
		return err
	}
	c := &configValues{
		changed: func(key string) bool {
			if key == "table-retries" {
				key = "retries"
			}
			return cmd.Flags().Changed(key)
		},
		cfg: cfg,
	}
	c.setString("cache-dir", &o.dir)
	c.setInt("table-retries", &o.retries)
	return c.err
}

func newCacheCmd(ro *RootOpts) *cobra.Command {
	o := &cacheOpts{}
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the cached lookup table",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.applyConfig(cmd, ro)
		},
	}
	cmd.PersistentFlags().StringVar(&o.dir, "cache-dir", "", "Lookup table cache directory (default: $"+cache.EnvVar+" or ~/.pineapple_cache)")

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the lookup table path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), o.tablePath())
		},
	})

	var refresh bool
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Download the lookup table into the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closer, err := ro.newLogger()
			if err != nil {
				return err
			}
			defer closer.Close()

			rep := newReporter(ro, log)
			defer rep.Close()

			store := cpg0016.NewStore(nil, o.resolvedDir(), gdrive.NewFetcher(&gdrive.Options{
				Endpoint: o.driveEndpoint,
				Retries:  o.retries,
				Progress: rep.Table,
			}))
			store.Progress = rep.Event

			var path string
			if refresh {
				path, err = store.Refresh(cmd.Context())
			} else {
				path, err = store.EnsureCached(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	fetch.Flags().BoolVar(&refresh, "refresh", false, "Fetch again even if the table is cached")
	fetch.Flags().IntVar(&o.retries, "retries", 0, "Transport retries for the fetch")
	fetch.Flags().StringVar(&o.driveEndpoint, "drive-endpoint", gdrive.DefaultEndpoint, "Google Drive endpoint")
	_ = fetch.Flags().MarkHidden("drive-endpoint")
	cmd.AddCommand(fetch)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the cached lookup table and any interrupted download of it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.tablePath()
			removed := 0
			for _, p := range []string{path, path + ".part"} {
				if err := os.Remove(p); err != nil {
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p)
				removed++
			}
			if removed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to clear.")
			}
			return nil
		},
	})

	return cmd
}
