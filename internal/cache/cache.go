// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cache resolves the directory pineapple caches lookup tables in.
package cache

import (
	"os"
	"path/filepath"
)

// EnvVar overrides the cache directory when set to a non-empty value.
const EnvVar = "PINEAPPLE_CACHE"

const dirName = ".pineapple_cache"

// Dir returns $PINEAPPLE_CACHE, else ~/.pineapple_cache, else /.pineapple_cache.
func Dir() string {
	return resolve(os.Getenv, os.UserHomeDir)
}

func resolve(getenv func(string) string, home func() (string, error)) string {
	if v := getenv(EnvVar); v != "" {
		return v
	}
	if h, err := home(); err == nil && h != "" {
		return filepath.Join(h, dirName)
	}
	return filepath.Join(string(filepath.Separator), dirName)
}
