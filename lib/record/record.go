// Package record persists sweep results: one summary CSV per run and, for
// trace sweeps, one CSV per sweep point.
package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/gotmc/ldsweep"
	"go.uber.org/multierr"
)

// File names used next to the summary file.
const (
	DefaultTraceDir = "traces"
	OverflowFile    = "trace_overflow.csv"
)

var (
	currentHeader = []string{"Current (mA)"}
	peakHeader    = []string{"Current (mA)", "Peak Wavelength (nm)", "Peak Power (dBm)"}
	traceHeader   = []string{"Wavelength (nm)", "Power (dBm)"}
)

// Recorder writes sweep points as they arrive. Every row is flushed before
// AppendRow returns, so an interrupted run keeps all earlier points.
type Recorder struct {
	variant  ldsweep.Variant
	path     string
	traceDir string
	summary  *os.File
	w        *csv.Writer
	overflow *os.File
	ow       *csv.Writer
	logger   *log.Logger
}

// Option applies an option to a Recorder.
type Option func(*Recorder)

// WithTraceDir overrides the directory for per-point trace files.
func WithTraceDir(dir string) Option { return func(r *Recorder) { r.traceDir = dir } }

// WithLogger sets the logger used to report trace fallbacks.
func WithLogger(l *log.Logger) Option { return func(r *Recorder) { r.logger = l } }

// Open creates (truncating) the summary file at path and writes the header
// for variant.
func Open(path string, variant ldsweep.Variant, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		variant:  variant,
		path:     path,
		traceDir: filepath.Join(filepath.Dir(path), DefaultTraceDir),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating summary directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating summary file: %w", err)
	}
	r.summary = f
	r.w = csv.NewWriter(f)
	header := peakHeader
	if variant == ldsweep.SourceOnly {
		header = currentHeader
	}
	if err := writeRow(r.w, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing summary header: %w", err)
	}
	return r, nil
}

// Path returns the summary file path.
func (r *Recorder) Path() string { return r.path }

// TraceDir returns the directory holding per-point trace files.
func (r *Recorder) TraceDir() string { return r.traceDir }

// RecordPoint appends p to the summary and, for trace sweeps, writes its
// trace file.
func (r *Recorder) RecordPoint(p *ldsweep.Point) error {
	if err := r.AppendRow(p); err != nil {
		return err
	}
	if r.variant != ldsweep.TraceCapture {
		return nil
	}
	return r.WriteTrace(p.CurrentMA, p.Trace)
}

// AppendRow writes one summary line for p.
func (r *Recorder) AppendRow(p *ldsweep.Point) error {
	row := []string{fmt.Sprintf("%.2f", p.CurrentMA)}
	if r.variant != ldsweep.SourceOnly {
		row = append(row,
			fmt.Sprintf("%.4f", p.PeakWavelengthNM),
			fmt.Sprintf("%.2f", p.PeakPowerDBM),
		)
	}
	if err := writeRow(r.w, row); err != nil {
		return fmt.Errorf("writing summary row: %w", err)
	}
	return nil
}

// TraceName returns the file name of the trace taken at currentMA.
func TraceName(currentMA float64) string {
	return fmt.Sprintf("trace_%.2fmA.csv", currentMA)
}

// OpenTrace creates the trace file for currentMA and writes its header. If
// the trace directory or file cannot be created, the shared overflow file is
// returned instead; the returned closer is then a no-op. Only a failure to
// open the overflow file is an error.
func (r *Recorder) OpenTrace(currentMA float64) (*csv.Writer, io.Closer, error) {
	f, err := r.createTrace(currentMA)
	if err == nil {
		w := csv.NewWriter(f)
		if err := writeRow(w, traceHeader); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("writing trace header: %w", err)
		}
		return w, f, nil
	}
	r.logger.Warn("trace file unavailable, using overflow file", "current_mA", fmt.Sprintf("%.2f", currentMA), "err", err)
	w, err := r.overflowWriter()
	if err != nil {
		return nil, nil, err
	}
	return w, nopCloser{}, nil
}

// WriteTrace writes the trace taken at currentMA.
func (r *Recorder) WriteTrace(currentMA float64, trace []ldsweep.TracePoint) error {
	w, c, err := r.OpenTrace(currentMA)
	if err != nil {
		return err
	}
	for _, tp := range trace {
		if err := w.Write([]string{
			fmt.Sprintf("%.4f", tp.WavelengthNM),
			fmt.Sprintf("%.2f", tp.PowerDBM),
		}); err != nil {
			c.Close()
			return fmt.Errorf("writing trace: %w", err)
		}
	}
	w.Flush()
	return multierr.Append(w.Error(), c.Close())
}

func (r *Recorder) createTrace(currentMA float64) (*os.File, error) {
	if err := os.MkdirAll(r.traceDir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(r.traceDir, TraceName(currentMA)))
}

// overflowWriter opens the overflow file on first use. It is shared by every
// point that could not get its own file.
func (r *Recorder) overflowWriter() (*csv.Writer, error) {
	if r.ow != nil {
		return r.ow, nil
	}
	f, err := os.Create(filepath.Join(filepath.Dir(r.path), OverflowFile))
	if err != nil {
		return nil, fmt.Errorf("creating trace overflow file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := writeRow(w, traceHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing trace overflow header: %w", err)
	}
	r.overflow, r.ow = f, w
	return w, nil
}

// Close flushes and closes the summary and overflow files.
func (r *Recorder) Close() error {
	var err error
	r.w.Flush()
	err = multierr.Append(err, r.w.Error())
	err = multierr.Append(err, r.summary.Close())
	if r.overflow != nil {
		r.ow.Flush()
		err = multierr.Append(err, r.ow.Error())
		err = multierr.Append(err, r.overflow.Close())
	}
	return err
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
