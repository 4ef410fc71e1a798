// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gotmc/ldsweep/lib/cmdlog"
	"github.com/gotmc/ldsweep/lib/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = config.New()

	// set by loadConfig before any subcommand runs
	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ldsweep",
	Short: "Laser diode current sweeps with optical spectrum capture",
	Long: `ldsweep drives a laser diode controller through a current sweep and, at
each set point, triggers an optical spectrum analyzer and records the peak
wavelength, peak power and optionally the full trace.

Settings come from a YAML file (--config), LDSWEEP_* environment variables
(e.g. LDSWEEP_SWEEP_STOP_MA=50) and flags, in increasing priority.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().Bool("debug", false, "log every instrument command and response")
	bindFlags(v, rootCmd.PersistentFlags(), map[string]string{"debug": "debug"})
}

// bindFlags binds each flag to its viper key, keyed by flag name.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %s", flag, err))
		}
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file failed (%s): %w", cfgFile, err)
		}
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = c
	logger = cmdlog.New(os.Stderr, cfg.Debug)
	log.SetDefault(logger)
	return nil
}
