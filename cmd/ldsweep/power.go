// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/ldsweep/lib/cmdlog"
	"github.com/gotmc/ldsweep/lib/config"
	"github.com/gotmc/ldsweep/lib/mpm210h"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	powerCount    int
	powerInterval time.Duration
)

var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "Read optical power from an MPM-210H",
	Long: `Configure a Santec MPM-210H power meter and take one or more readings.

Examples:
  ldsweep power --address 192.168.1.161:5000
  ldsweep power --address 192.168.1.161:5000 --port 2 --wavelength 1310 --count 10 --interval 500ms
  ldsweep power --zero                           # zero calibrate before reading`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPower(cfg, logger, cmd.OutOrStdout(), powerCount, powerInterval, time.Sleep)
	},
}

func init() {
	rootCmd.AddCommand(powerCmd)

	f := powerCmd.Flags()
	f.IntVar(&powerCount, "count", 1, "number of readings")
	f.DurationVar(&powerInterval, "interval", time.Second, "time between readings")
	f.String("address", "", "power meter host:port")
	f.Int("module", 0, "module (0-4)")
	f.Int("port", 1, "port (1-4)")
	f.Float64("wavelength", 1550, "calibration wavelength (nm)")
	f.String("mode", string(mpm210h.Const1), "measurement mode")
	f.Float64("averaging", 100, "averaging time (ms)")
	f.String("unit", mpm210h.DBm.String(), "power unit: dBm or mW")
	f.Bool("zero", false, "zero calibrate before reading")
	bindFlags(v, f, map[string]string{
		"address":    "powermeter.address",
		"module":     "powermeter.module",
		"port":       "powermeter.port",
		"wavelength": "powermeter.wavelength_nm",
		"mode":       "powermeter.mode",
		"averaging":  "powermeter.averaging_ms",
		"unit":       "powermeter.unit",
		"zero":       "powermeter.zero",
	})
}

// runPower configures the power meter and prints count readings, pausing
// interval between them. opts are passed on to the driver.
func runPower(cfg *config.Config, logger *log.Logger, stdout io.Writer, count int, interval time.Duration, sleep func(time.Duration), opts ...mpm210h.Option) (err error) {
	pm := cfg.PowerMeter
	if pm.Address == "" {
		return errors.New("powermeter.address is required")
	}
	if count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", count)
	}
	unit, err := mpm210h.ParsePowerUnit(pm.Unit)
	if err != nil {
		return err
	}
	mode, err := mpm210h.ParseMode(pm.Mode)
	if err != nil {
		return err
	}

	opts = append([]mpm210h.Option{mpm210h.WithTimeout(pm.Timeout), mpm210h.WithLogger(logger)}, opts...)
	d, err := mpm210h.Connect(pm.Address, opts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, d.Close()) }()

	steps := []func() error{
		func() error { return d.SetModule(pm.Module) },
		func() error { return d.SetPort(pm.Port) },
		func() error { return d.SetWavelength(pm.WavelengthNM) },
		func() error { return d.SetMeasurementMode(mode) },
		func() error { return d.SetAveragingTime(pm.AveragingMS) },
		func() error { return d.SetPowerUnit(unit) },
	}
	if pm.Zero {
		steps = append(steps, d.Zero)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	for i := 0; i < count; i++ {
		if i > 0 {
			sleep(interval)
		}
		p, err := d.ReadPower()
		if err != nil {
			return err
		}
		logger.Debug("power reading", "module", d.Module(), "port", d.Port(), "value", p, "unit", unit)
		fmt.Fprintf(stdout, "%s %.3f %s\n", cmdlog.R1Style.Render(time.Now().Format(cmdlog.TimeFormat)), p, unit)
	}

	errs, err := d.CheckErrors()
	if err != nil {
		return err
	}
	logger.Info("power meter error queue", "errors", errs)
	return nil
}
