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

// Package cmd is dragonstash's mount bootstrap: the CLI, mount.go's
// fuse.Mount call, and Config wiring the spec names as an external
// collaborator out of the core's scope (spec.md section 1), carried
// anyway per the ambient-stack rule (SPEC_FULL.md section 1.3).
//
// A single cobra.Command with one RunE, cfg.BindFlags registered in
// init, and a cobra.OnInitialize hook that unmarshals viper into the
// bound Config, optionally from a --config-file.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/horazont/dragonstash/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// MountConfig is populated by initConfig once flags and any
	// --config-file have been parsed.
	MountConfig = cfg.Default()
)

var rootCmd = &cobra.Command{
	Use:   "dragonstash [flags] backend-address mount-point",
	Short: "Mount a caching overlay filesystem over a backend address",
	Long: `dragonstash projects a possibly-disconnected backend as a local
mount, caching metadata so previously observed paths remain browsable
while the backend is unreachable.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}

		backendAddress, mountPoint, err := populateArgs(args)
		if err != nil {
			return err
		}
		MountConfig.Backend.Address = backendAddress

		return mount(cmd.Context(), &MountConfig, mountPoint)
	},
}

func populateArgs(args []string) (backendAddress, mountPoint string, err error) {
	backendAddress = args[0]
	mountPoint, err = resolvePath(args[1])
	if err != nil {
		err = fmt.Errorf("canonicalizing mount point: %w", err)
	}
	return
}

// resolvePath makes path absolute without requiring it to exist yet
// (filepath.Abs, unlike os.Stat-based resolution, tolerates a mount
// point the fuse call itself will create entries under).
func resolvePath(path string) (string, error) {
	return filepath.Abs(path)
}

// Execute runs the root command; it is the single package-level entry
// point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	MountConfig = cfg.Default()

	if cfgFile != "" {
		resolved, err := resolvePath(cfgFile)
		if err != nil {
			configFileErr = fmt.Errorf("resolving config file path: %w", err)
			return
		}
		viper.SetConfigFile(resolved)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}

	unmarshalErr = viper.Unmarshal(&MountConfig)
}
