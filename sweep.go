// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/query"
	"go.uber.org/multierr"
)

// Default analyzer window and source settle time.
const (
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultCenterNM    = 980.0
	DefaultSpanNM      = 20.0
)

// Instrument names used in logs and errors.
const (
	SourceName   = "source"
	AnalyzerName = "analyzer"
)

// Sweeper runs a current sweep on a laser diode source and, when an analyzer
// is attached, captures the spectral peak (and optionally the full trace) at
// every point.
type Sweeper struct {
	source          *Instrument
	analyzer        *Instrument
	rec             Recorder
	logger          *log.Logger
	sleep           func(time.Duration)
	settle          time.Duration
	captureTrace    bool
	centerNM        float64
	spanNM          float64
	shutdownOnAbort bool
}

// SweepOption applies an option to the sweeper.
type SweepOption func(*Sweeper)

// WithTraceCapture enables full-trace capture at every point. It requires an
// analyzer.
func WithTraceCapture() SweepOption { return func(s *Sweeper) { s.captureTrace = true } }

// WithTraceWindow sets the analyzer centre wavelength and span used for trace
// capture.
func WithTraceWindow(centerNM, spanNM float64) SweepOption {
	return func(s *Sweeper) {
		s.centerNM = centerNM
		s.spanNM = spanNM
	}
}

// WithSettleDelay sets the wait after each source output state change.
func WithSettleDelay(d time.Duration) SweepOption { return func(s *Sweeper) { s.settle = d } }

// WithShutdownOnAbort makes the sweeper send one best-effort source output
// off command when the sweep aborts before its final shutdown.
func WithShutdownOnAbort() SweepOption { return func(s *Sweeper) { s.shutdownOnAbort = true } }

// WithLogger sets the progress logger.
func WithLogger(l *log.Logger) SweepOption { return func(s *Sweeper) { s.logger = l } }

// WithSleeper replaces time.Sleep for settle and dwell waits.
func WithSleeper(f func(time.Duration)) SweepOption { return func(s *Sweeper) { s.sleep = f } }

// NewSweeper creates a sweeper. analyzer may be nil for a source-only sweep.
// The transports are borrowed; the sweeper never closes them.
func NewSweeper(source, analyzer Transport, rec Recorder, opts ...SweepOption) (*Sweeper, error) {
	if source == nil {
		return nil, errors.New("source transport is required")
	}
	if rec == nil {
		return nil, errors.New("recorder is required")
	}
	s := &Sweeper{
		source:   NewInstrument(SourceName, source),
		rec:      rec,
		logger:   log.Default(),
		sleep:    time.Sleep,
		settle:   DefaultSettleDelay,
		centerNM: DefaultCenterNM,
		spanNM:   DefaultSpanNM,
	}
	if analyzer != nil {
		s.analyzer = NewInstrument(AnalyzerName, analyzer)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.captureTrace && s.analyzer == nil {
		return nil, errors.New("trace capture requires an analyzer")
	}
	if s.spanNM <= 0 {
		return nil, fmt.Errorf("invalid analyzer span %g nm", s.spanNM)
	}
	return s, nil
}

// Variant reports which measurements the sweeper captures.
func (s *Sweeper) Variant() Variant {
	switch {
	case s.analyzer == nil:
		return SourceOnly
	case s.captureTrace:
		return TraceCapture
	default:
		return PeakCapture
	}
}

// Run executes plan. Points are handed to the recorder as they are acquired.
// On a transport or recorder failure before the final shutdown, Run returns
// the partial outcome and an *AbortError.
func (s *Sweeper) Run(plan Plan) (*Outcome, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	n := plan.Points()
	out := &Outcome{Variant: s.Variant(), Planned: n, Started: time.Now()}
	s.logger.Info("starting current sweep", "points", n, "variant", out.Variant)

	axis, err := s.configureAnalyzer()
	if err != nil {
		return out, &AbortError{Point: -1, Err: err}
	}

	// Once the output has been commanded on, an abort may leave the laser
	// running.
	armed := false
	abort := func(i int, cause error) error {
		ae := &AbortError{Point: i, Err: cause}
		if i >= 0 {
			ae.CurrentMA = plan.CurrentMA(i)
		}
		if armed && s.shutdownOnAbort {
			ae.ShutdownAttempted = true
			ae.Err = multierr.Append(cause, s.source.Command("OUTPut:STATe 0"))
		}
		s.logger.Error("sweep aborted", "err", ae)
		return ae
	}

	if err := s.output(false); err != nil {
		return out, abort(-1, err)
	}
	armed = true
	if err := s.output(true); err != nil {
		return out, abort(-1, err)
	}

	for i := 0; i < n; i++ {
		p, err := s.acquire(plan, i, axis)
		if err != nil {
			return out, abort(i, err)
		}
		if !p.Confirmed && s.analyzer != nil {
			out.Unconfirmed++
		}
		if err := s.rec.RecordPoint(p); err != nil {
			return out, abort(i, fmt.Errorf("recording point %d: %w", i, err))
		}
		out.Recorded++
	}

	if err := s.finish(out); err != nil {
		return out, err
	}
	out.Finished = time.Now()
	s.logger.Info("current sweep completed", "points", out.Recorded, "unconfirmed", out.Unconfirmed)
	return out, nil
}

// configureAnalyzer presets the analyzer and, for trace capture, sets the
// window and reads the trace length once.
func (s *Sweeper) configureAnalyzer() (Axis, error) {
	axis := WindowAxis(s.centerNM, s.spanNM, DefaultTracePoints)
	if s.analyzer == nil {
		return axis, nil
	}
	if err := s.analyzer.Command("IP;"); err != nil {
		return axis, err
	}
	if err := s.analyzer.Command("SNGLS;"); err != nil {
		return axis, err
	}
	if !s.captureTrace {
		return axis, nil
	}
	if err := s.analyzer.Command("CENTERWL %gNM;SPANWL %gNM;", s.centerNM, s.spanNM); err != nil {
		return axis, err
	}
	n, err := readTracePoints(s.analyzer, "MDS?;")
	if err != nil {
		return axis, err
	}
	axis.Points = n
	s.logger.Info("trace axis", "start_nm", axis.StartNM, "stop_nm", axis.StopNM, "points", axis.Points)
	return axis, nil
}

func (s *Sweeper) output(on bool) error {
	state, desc := 0, "OFF"
	if on {
		state, desc = 1, "ON"
	}
	if err := s.source.Command("OUTPut:STATe %d", state); err != nil {
		return err
	}
	s.logger.Info("laser turned " + desc)
	s.sleep(s.settle)
	return nil
}

// acquire sets point i and, with an analyzer attached, reads its
// measurements.
func (s *Sweeper) acquire(plan Plan, i int, axis Axis) (*Point, error) {
	p := &Point{Index: i, CurrentMA: plan.CurrentMA(i)}
	if err := s.source.Command("SOURce:CURRent:LEVel:IMMediate:AMPLitude %.6f", p.CurrentA()); err != nil {
		return nil, err
	}
	s.logger.Info("set current", "mA", fmt.Sprintf("%.2f", p.CurrentMA))
	s.sleep(plan.Dwell)
	if s.analyzer == nil {
		return p, nil
	}

	done, err := query.String(s.analyzer, "TS;DONE?;")
	if err != nil {
		return nil, err
	}
	done = strings.TrimSpace(done)
	p.Confirmed = done == "1"
	if !p.Confirmed {
		s.logger.Warn("sweep not confirmed complete", "point", i, "response", done)
	}

	if err := s.analyzer.Command("MKPK HI;"); err != nil {
		return nil, err
	}
	if p.PeakWavelengthNM, err = readScalar(s.analyzer, "MKWL?;", FallbackWavelengthNM, MetersToNM); err != nil {
		return nil, err
	}
	if p.PeakPowerDBM, err = readScalar(s.analyzer, "MKA?;", FallbackPowerDBM, 1); err != nil {
		return nil, err
	}
	s.logger.Info("peak",
		"wavelength_nm", fmt.Sprintf("%.3f", p.PeakWavelengthNM),
		"power_dbm", fmt.Sprintf("%.2f", p.PeakPowerDBM))

	if s.captureTrace {
		tr, err := query.String(s.analyzer, "TRA?;")
		if err != nil {
			return nil, err
		}
		raw := ParseTrace(tr)
		p.Trace = axis.Map(raw)
		if len(raw) != axis.Points {
			s.logger.Warn("trace length mismatch", "point", i, "got", len(raw), "want", axis.Points)
		}
	}
	return p, nil
}

// finish turns the source off, stops the analyzer and collects both error
// queues.
func (s *Sweeper) finish(out *Outcome) error {
	if err := s.source.Command("OUTPut:STATe 0"); err != nil {
		return err
	}
	s.logger.Info("laser turned OFF")
	if s.analyzer != nil {
		if err := s.analyzer.Command("SWEEP OFF;"); err != nil {
			return err
		}
	}

	resp, err := query.String(s.source, "SYST:ERR?")
	if err != nil {
		return err
	}
	out.SourceErrors = strings.TrimSpace(resp)
	s.logger.Info("final error check", "instrument", SourceName, "errors", out.SourceErrors)

	if s.analyzer != nil {
		resp, err := query.String(s.analyzer, "XERR?;")
		if err != nil {
			return err
		}
		out.AnalyzerErrors = strings.TrimSpace(resp)
		s.logger.Info("final error check", "instrument", AnalyzerName, "errors", out.AnalyzerErrors)
	}
	return nil
}
