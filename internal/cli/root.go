// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tomouellette/pineapple/internal/logging"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string

	// stderr replaces os.Stderr for log output; tests set it.
	stderr io.Writer
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := newRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRootCmd(version string) *cobra.Command {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:           "pineapple",
		Short:         "Download bio-images from the command-line",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events and JSON logs")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (warnings and errors only, no progress bars)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(newDownloadCmd(ro))
	root.AddCommand(newCacheCmd(ro))
	root.AddCommand(newConfigCmd(ro))
	root.AddCommand(newVersionCmd(ro, version))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

// newLogger builds the logger selected by the global flags.
func (ro *RootOpts) newLogger() (zerolog.Logger, io.Closer, error) {
	level := ro.LogLevel
	switch {
	case ro.Verbose:
		level = "debug"
	case ro.Quiet:
		level = "warn"
	}
	return logging.New(logging.Options{
		Level: level,
		JSON:  ro.JSONOut,
		File:  ro.LogFile,
		Out:   ro.stderr,
	})
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
