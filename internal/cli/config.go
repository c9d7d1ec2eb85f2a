// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomouellette/pineapple/pkg/cpg0016"
)

const configName = "pineapple"

// userHomeDir is replaced in tests.
var userHomeDir = os.UserHomeDir

// DefaultConfig returns the default configuration.
func DefaultConfig() map[string]any {
	return map[string]any{
		"output":         "",
		"threads":        cpg0016.DefaultConcurrency(),
		"transport":      "http",
		"attempts":       cpg0016.DefaultMaxAttempts,
		"retry-delay":    cpg0016.DefaultRetryDelay.String(),
		"backoff":        "fixed",
		"backoff-max":    "30s",
		"timeout":        cpg0016.DefaultTimeout.String(),
		"cache-dir":      "",
		"table-retries":  0,
		"skip-malformed": false,
	}
}

// configPaths lists the default config locations in lookup order.
func configPaths() []string {
	home, _ := userHomeDir()
	dir := filepath.Join(home, ".config")
	return []string{
		filepath.Join(dir, configName+".json"),
		filepath.Join(dir, configName+".yaml"),
		filepath.Join(dir, configName+".yml"),
	}
}

// findConfig returns the first existing default config file, or "".
func findConfig() string {
	for _, p := range configPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadConfig(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}
	return cfg, nil
}

// activeConfig returns the config file selected by --config or, failing that,
// the first default location that exists. path is "" when there is none.
func activeConfig(ro *RootOpts) (path string, cfg map[string]any, err error) {
	path = ro.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return "", nil, nil
	}
	cfg, err = loadConfig(path)
	if err != nil {
		return path, nil, err
	}
	return path, cfg, nil
}

// configValues applies config entries to flags left at their defaults.
type configValues struct {
	changed func(string) bool
	cfg     map[string]any
	err     error
}

func (c *configValues) lookup(key string) (string, bool) {
	if c.err != nil || c.changed(key) {
		return "", false
	}
	v, ok := c.cfg[key]
	if !ok || v == nil {
		return "", false
	}
	return strings.TrimSpace(fmt.Sprint(v)), true
}

func (c *configValues) setString(key string, dst *string) {
	if v, ok := c.lookup(key); ok {
		*dst = v
	}
}

func (c *configValues) setInt(key string, dst *int) bool {
	v, ok := c.lookup(key)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.err = fmt.Errorf("invalid config value for %q: %q is not an integer", key, v)
		return false
	}
	*dst = n
	return true
}

func (c *configValues) setBool(key string, dst *bool) {
	v, ok := c.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.err = fmt.Errorf("invalid config value for %q: %q is not a boolean", key, v)
		return
	}
	*dst = b
}

// applySettingsDefaults fills flags the user did not set from the config file.
func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, dst *jumpOpts) error {
	_, cfg, err := activeConfig(ro)
	if err != nil || cfg == nil {
		return err
	}

	c := &configValues{changed: cmd.Flags().Changed, cfg: cfg}
	c.setString("output", &dst.output)
	dst.threadsSet = c.setInt("threads", &dst.threads)
	c.setString("transport", &dst.transport)
	c.setInt("attempts", &dst.attempts)
	c.setString("retry-delay", &dst.retryDelay)
	c.setString("backoff", &dst.backoff)
	c.setString("backoff-max", &dst.backoffMax)
	c.setString("timeout", &dst.timeout)
	c.setString("cache-dir", &dst.cacheDir)
	c.setInt("table-retries", &dst.tableRetries)
	c.setBool("skip-malformed", &dst.skipMalformed)
	return c.err
}

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the defaults file",
		Long: `Flags of "download jump-cpg0016" and "cache" that are not given on the
command line are read from a JSON or YAML file. The file is the one named by
--config, else the first of:

  ~/.config/pineapple.json
  ~/.config/pineapple.yaml
  ~/.config/pineapple.yml`,
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(ro), newConfigPathCmd(ro))
	return cmd
}

// encodeConfig renders cfg in the format implied by the file extension.
func encodeConfig(path string, cfg map[string]any) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		b, err := json.MarshalIndent(cfg, "", "  ")
		return append(b, '\n'), err
	}
}

func newConfigInitCmd() *cobra.Command {
	var (
		force  bool
		asYAML bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a file holding the built-in defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPaths()[0]
			if asYAML {
				path = configPaths()[1]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
				}
			}

			data, err := encodeConfig(path, DefaultConfig())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote defaults to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing file")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Write pineapple.yaml instead of pineapple.json")
	return cmd
}

// newConfigShowCmd prints the built-in defaults overlaid with the active file,
// i.e. the values a download would start from before flags apply.
func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cfg, err := activeConfig(ro)
			if err != nil {
				return err
			}

			merged := DefaultConfig()
			var unknown []string
			for k, v := range cfg {
				if _, ok := merged[k]; !ok {
					unknown = append(unknown, k)
					continue
				}
				merged[k] = v
			}

			sort.Strings(unknown)

			out := cmd.OutOrStdout()
			if ro.JSONOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"file": path, "settings": merged, "unknown": unknown})
			}

			if path == "" {
				fmt.Fprintln(out, "# no config file; built-in defaults")
			} else {
				fmt.Fprintf(out, "# %s\n", path)
			}
			for _, k := range unknown {
				fmt.Fprintf(out, "# ignored unknown key %q\n", k)
			}
			data, err := yaml.Marshal(merged)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigPathCmd(ro *RootOpts) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use (or where init would write it)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if all {
				for _, p := range configPaths() {
					mark := " "
					if _, err := os.Stat(p); err == nil {
						mark = "*"
					}
					fmt.Fprintf(out, "%s %s\n", mark, p)
				}
				return
			}
			p := ro.Config
			if p == "" {
				p = findConfig()
			}
			if p == "" {
				p = configPaths()[0]
			}
			fmt.Fprintln(out, p)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List every default location in lookup order; * marks existing files")
	return cmd
}
