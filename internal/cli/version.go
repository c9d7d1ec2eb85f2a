// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/tomouellette/pineapple/pkg/cpg0016"
)

// BuildInfo describes the binary and the dataset endpoints it was built against.
type BuildInfo struct {
	Version  string `json:"version"`
	Module   string `json:"module,omitempty"`
	Revision string `json:"revision,omitempty"`
	Modified bool   `json:"modified,omitempty"`
	Go       string `json:"go"`
	Platform string `json:"platform"`

	Table   string `json:"table"`
	TableID string `json:"table_id"`
	Bucket  string `json:"bucket"`
}

// GetBuildInfo collects BuildInfo; vcs fields are empty outside a VCS build.
func GetBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:  version,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Table:    cpg0016.TableFilename,
		TableID:  cpg0016.TableFileID,
		Bucket:   cpg0016.DefaultBaseURL,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.Module = bi.Main.Path
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func (b BuildInfo) revision() string {
	if b.Revision == "" {
		return "none"
	}
	rev := b.Revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if b.Modified {
		rev += "+dirty"
	}
	return rev
}

func newVersionCmd(ro *RootOpts, version string) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version and the dataset endpoints in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			info := GetBuildInfo(version)
			switch {
			case short:
				_, err := fmt.Fprintln(out, info.Version)
				return err
			case ro.JSONOut:
				return json.NewEncoder(out).Encode(info)
			}
			fmt.Fprintf(out, "pineapple %s (%s, %s, rev %s)\n", info.Version, info.Go, info.Platform, info.revision())
			fmt.Fprintf(out, "table  %s  drive:%s\n", info.Table, info.TableID)
			fmt.Fprintf(out, "bucket %s\n", info.Bucket)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version string")
	return cmd
}
