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
	"github.com/gotmc/ldsweep"
	"github.com/gotmc/ldsweep/lib/cmdlog"
	"github.com/gotmc/ldsweep/lib/config"
	"github.com/gotmc/ldsweep/lib/connutil"
	"github.com/gotmc/ldsweep/lib/record"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a current sweep",
	Long: `Run a current sweep from --start to --stop in --step increments.

Examples:
  ldsweep sweep                                  # 0-100 mA in 0.1 mA steps, peak capture
  ldsweep sweep --stop 50 --step 1 --trace       # also save each spectrum
  ldsweep sweep --analyzer-kind none             # drive the source only
  ldsweep sweep --config rig.yaml --output-dir runs/today`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cfg, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	f := sweepCmd.Flags()
	f.Float64("start", 0, "first set current (mA)")
	f.Float64("stop", 100, "last set current (mA)")
	f.Float64("step", 0.1, "current increment (mA)")
	f.Duration("dwell", 50*time.Millisecond, "stabilization delay after each set point")
	f.Bool("trace", false, "save the full spectrum at every point")
	f.Float64("limit", ldsweep.DefaultCurrentLimitMA, "source current limit (mA)")
	f.String("source", "", "source address")
	f.String("analyzer", "", `analyzer address ("auto" finds the Prologix controller)`)
	f.String("analyzer-kind", "", "analyzer connection: prologix, usbtmc, tcp or none")
	f.String("output-dir", "", "directory for result files")
	bindFlags(v, f, map[string]string{
		"start":         "sweep.start_ma",
		"stop":          "sweep.stop_ma",
		"step":          "sweep.step_ma",
		"dwell":         "sweep.dwell",
		"trace":         "sweep.capture_trace",
		"limit":         "sweep.limit_ma",
		"source":        "source.address",
		"analyzer":      "analyzer.address",
		"analyzer-kind": "analyzer.kind",
		"output-dir":    "output.dir",
	})
}

// runSweep connects the instruments, prepares them, runs the sweep and
// writes the run manifest next to the summary file.
func runSweep(cfg *config.Config, logger *log.Logger, stdout io.Writer) (err error) {
	plan := cfg.Plan()
	variant := cfg.Variant()

	srcT, srcClose, err := connutil.Open(ldsweep.SourceName, cfg.Source, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, srcClose()) }()
	info, err := ldsweep.PrepareSource(ldsweep.NewInstrument(ldsweep.SourceName, srcT), cfg.Sweep.LimitMA)
	if err != nil {
		return fmt.Errorf("preparing source: %w", err)
	}
	logger.Info("source ready", "idn", info.Identity, "errors", info.Errors, "limit_mA", cfg.Sweep.LimitMA)

	var osaT ldsweep.Transport
	if variant != ldsweep.SourceOnly {
		var osaClose func() error
		osaT, osaClose, err = connutil.Open(ldsweep.AnalyzerName, cfg.Analyzer, logger)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, osaClose()) }()
		var id string
		id, err = ldsweep.PrepareAnalyzer(ldsweep.NewInstrument(ldsweep.AnalyzerName, osaT))
		if err != nil {
			return fmt.Errorf("preparing analyzer: %w", err)
		}
		logger.Info("analyzer ready", "id", id)
	}

	recOpts := []record.Option{record.WithLogger(logger)}
	if dir := cfg.TraceDir(); dir != "" {
		recOpts = append(recOpts, record.WithTraceDir(dir))
	}
	rec, err := record.Open(cfg.SummaryPath(), variant, recOpts...)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rec.Close()) }()

	sw, err := ldsweep.NewSweeper(srcT, osaT, rec, append(cfg.SweepOptions(), ldsweep.WithLogger(logger))...)
	if err != nil {
		return err
	}
	out, runErr := sw.Run(plan)

	m := record.NewManifest(rec, plan, out, runErr)
	if err := record.WriteManifest(cfg.ManifestPath(), m); err != nil {
		logger.Error("writing manifest", "path", cfg.ManifestPath(), "err", err)
	}
	report(stdout, m)

	var ae *ldsweep.AbortError
	if errors.As(runErr, &ae) && ae.Point >= 0 {
		logger.Error("sweep stopped early", "point", ae.Point, "current_mA", fmt.Sprintf("%.2f", ae.CurrentMA),
			"output_off_attempted", ae.ShutdownAttempted)
	}
	return runErr
}

func report(w io.Writer, m record.Manifest) {
	fmt.Fprintf(w, "%s %s\n", cmdlog.R1Style.Render("run"), m.RunID)
	fmt.Fprintf(w, "%s %d of %d points (%s)\n", cmdlog.R1Style.Render("recorded"), m.Recorded, m.Planned, m.Variant)
	if m.Unconfirmed > 0 {
		fmt.Fprintf(w, "%s %d points\n", cmdlog.R1Style.Render("unconfirmed"), m.Unconfirmed)
	}
	fmt.Fprintf(w, "%s %s\n", cmdlog.R1Style.Render("results"), m.Summary)
	if m.TraceDir != "" {
		fmt.Fprintf(w, "%s %s\n", cmdlog.R1Style.Render("traces"), m.TraceDir)
	}
	if m.SourceErrors != "" {
		fmt.Fprintf(w, "%s %s\n", cmdlog.R1Style.Render("source errors"), cmdlog.R2Style.Render(m.SourceErrors))
	}
	if m.AnalyzerErrors != "" {
		fmt.Fprintf(w, "%s %s\n", cmdlog.R1Style.Render("analyzer errors"), cmdlog.R2Style.Render(m.AnalyzerErrors))
	}
}
