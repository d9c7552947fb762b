// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is dragonstash's top-level, viper-bound configuration: struct
// tags for YAML, with BindFlags pairing each flagSet.*P with a matching
// viper.BindPFlag per field.
type Config struct {
	CacheDir string `yaml:"cache-dir" mapstructure:"cache-dir"`

	Backend BackendConfig `yaml:"backend"`
	Log     LogConfig     `yaml:"log"`
	Cache   CacheConfig   `yaml:"cache"`

	Foreground bool `yaml:"foreground"`
}

// BackendConfig names the backend driver to construct and how long its
// connectivity probe result is trusted before being re-checked.
type BackendConfig struct {
	Kind          string        `yaml:"kind"`
	Address       string        `yaml:"address"`
	ProbeCacheFor time.Duration `yaml:"probe-cache-for" mapstructure:"probe-cache-for"`
}

// LogConfig configures the debug-flag-gated logger, plus the lumberjack
// rotation knobs for its optional file output.
type LogConfig struct {
	File       string `yaml:"file"`
	Verbose    bool   `yaml:"verbose"`
	MaxSizeMB  int    `yaml:"max-size-mb" mapstructure:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups" mapstructure:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days" mapstructure:"max-age-days"`
}

// CacheConfig controls the coordinator's reply timeouts and the
// optional negative-lookup cache (SPEC_FULL.md section 4's "Negative-
// entry short-circuit", off by default).
type CacheConfig struct {
	EntryTimeout time.Duration `yaml:"entry-timeout" mapstructure:"entry-timeout"`
	AttrTimeout  time.Duration `yaml:"attr-timeout" mapstructure:"attr-timeout"`
	NegativeTTL  time.Duration `yaml:"negative-ttl" mapstructure:"negative-ttl"`
}

// BindFlags registers every Config field as a pflag and binds it into
// viper, pairing each StringP/BoolP registration with a viper.BindPFlag
// call for the same key.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("cache-dir", "", "", "Directory holding the persistent inode store.")
	if err = viper.BindPFlag("cache-dir", flagSet.Lookup("cache-dir")); err != nil {
		return err
	}

	flagSet.StringP("backend-kind", "", "", "Backend driver kind to construct.")
	if err = viper.BindPFlag("backend.kind", flagSet.Lookup("backend-kind")); err != nil {
		return err
	}

	flagSet.StringP("backend-address", "", "", "Backend driver address (interpretation is driver-specific).")
	if err = viper.BindPFlag("backend.address", flagSet.Lookup("backend-address")); err != nil {
		return err
	}

	flagSet.DurationP("probe-cache-for", "", time.Second, "How long a connectivity probe result is trusted before re-probing.")
	if err = viper.BindPFlag("backend.probe-cache-for", flagSet.Lookup("probe-cache-for")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Write logs to this rotating file instead of stderr.")
	if err = viper.BindPFlag("log.file", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.BoolP("verbose", "v", false, "Enable debug-level logging.")
	if err = viper.BindPFlag("log.verbose", flagSet.Lookup("verbose")); err != nil {
		return err
	}

	flagSet.DurationP("entry-timeout", "", time.Second, "Kernel dentry cache validity handed back on lookup.")
	if err = viper.BindPFlag("cache.entry-timeout", flagSet.Lookup("entry-timeout")); err != nil {
		return err
	}

	flagSet.DurationP("attr-timeout", "", time.Second, "Kernel attribute cache validity handed back on getattr.")
	if err = viper.BindPFlag("cache.attr-timeout", flagSet.Lookup("attr-timeout")); err != nil {
		return err
	}

	flagSet.DurationP("negative-ttl", "", 0, "How long a failed lookup is remembered in memory before retrying the backend. 0 disables.")
	if err = viper.BindPFlag("cache.negative-ttl", flagSet.Lookup("negative-ttl")); err != nil {
		return err
	}

	flagSet.BoolP("foreground", "f", false, "Do not daemonize; run the mount loop in the foreground.")
	if err = viper.BindPFlag("foreground", flagSet.Lookup("foreground")); err != nil {
		return err
	}

	return nil
}
