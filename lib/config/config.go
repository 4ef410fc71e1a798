// Package config loads ldsweep settings from a YAML file, command-line flags
// and LDSWEEP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotmc/ldsweep"
	"github.com/gotmc/ldsweep/lib/mpm210h"
	"github.com/gotmc/ldsweep/lib/record"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// EnvPrefix prefixes environment overrides, e.g. LDSWEEP_SWEEP_STOP_MA.
const EnvPrefix = "LDSWEEP"

// Instrument connection kinds.
const (
	KindNone     = "none"
	KindPrologix = "prologix"
	KindUSBTMC   = "usbtmc"
	KindTCP      = "tcp"
)

// AutoAddress asks for the Prologix serial port to be discovered.
const AutoAddress = "auto"

// NoSecondaryAddress disables GPIB secondary addressing.
const NoSecondaryAddress = -1

// DefaultSummary is the summary file name.
const DefaultSummary = "current_sweep_results.csv"

type Config struct {
	Source     InstrumentConfig `mapstructure:"source"`
	Analyzer   InstrumentConfig `mapstructure:"analyzer"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Output     OutputConfig     `mapstructure:"output"`
	PowerMeter PowerMeterConfig `mapstructure:"powermeter"`
	Debug      bool             `mapstructure:"debug"`
}

// InstrumentConfig says how to reach one instrument.
type InstrumentConfig struct {
	Kind    string `mapstructure:"kind"`
	Address string `mapstructure:"address"`
	// Timeout bounds dialing a tcp instrument and each serial read.
	Timeout time.Duration `mapstructure:"timeout"`

	// Prologix only.
	GPIBAddr    int           `mapstructure:"gpib_addr"`
	GPIBSAD     int           `mapstructure:"gpib_sad"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	WriteDelay  time.Duration `mapstructure:"write_delay"`
	AR488       bool          `mapstructure:"ar488"`
	Clear       bool          `mapstructure:"clear"`
	// EOT appends an LF to replies that end with EOI and no LF.
	EOT bool `mapstructure:"eot_enable"`
}

type SweepConfig struct {
	StartMA         float64       `mapstructure:"start_ma"`
	StopMA          float64       `mapstructure:"stop_ma"`
	StepMA          float64       `mapstructure:"step_ma"`
	Dwell           time.Duration `mapstructure:"dwell"`
	Settle          time.Duration `mapstructure:"settle"`
	CaptureTrace    bool          `mapstructure:"capture_trace"`
	ShutdownOnAbort bool          `mapstructure:"shutdown_on_abort"`
	CenterWLNM      float64       `mapstructure:"center_wl_nm"`
	SpanWLNM        float64       `mapstructure:"span_wl_nm"`
	LimitMA         float64       `mapstructure:"limit_ma"`
}

type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	Summary  string `mapstructure:"summary"`
	TraceDir string `mapstructure:"trace_dir"`
}

type PowerMeterConfig struct {
	Address      string        `mapstructure:"address"`
	Module       int           `mapstructure:"module"`
	Port         int           `mapstructure:"port"`
	WavelengthNM float64       `mapstructure:"wavelength_nm"`
	Mode         string        `mapstructure:"mode"`
	AveragingMS  float64       `mapstructure:"averaging_ms"`
	Unit         string        `mapstructure:"unit"`
	Zero         bool          `mapstructure:"zero"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every key with its default, which also makes each
// key visible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("source.kind", KindUSBTMC)
	v.SetDefault("source.address", "/dev/usbtmc0")
	v.SetDefault("source.timeout", 5*time.Second)
	instrumentDefaults(v, "source", 0)

	v.SetDefault("analyzer.kind", KindPrologix)
	v.SetDefault("analyzer.address", AutoAddress)
	v.SetDefault("analyzer.timeout", 30*time.Second)
	instrumentDefaults(v, "analyzer", 23)

	v.SetDefault("sweep.start_ma", 0.0)
	v.SetDefault("sweep.stop_ma", 100.0)
	v.SetDefault("sweep.step_ma", 0.1)
	v.SetDefault("sweep.dwell", 50*time.Millisecond)
	v.SetDefault("sweep.settle", ldsweep.DefaultSettleDelay)
	v.SetDefault("sweep.capture_trace", false)
	v.SetDefault("sweep.shutdown_on_abort", true)
	v.SetDefault("sweep.center_wl_nm", ldsweep.DefaultCenterNM)
	v.SetDefault("sweep.span_wl_nm", ldsweep.DefaultSpanNM)
	v.SetDefault("sweep.limit_ma", ldsweep.DefaultCurrentLimitMA)

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.summary", DefaultSummary)
	v.SetDefault("output.trace_dir", "")

	v.SetDefault("powermeter.address", "")
	v.SetDefault("powermeter.module", 0)
	v.SetDefault("powermeter.port", 1)
	v.SetDefault("powermeter.wavelength_nm", 1550.0)
	v.SetDefault("powermeter.mode", string(mpm210h.Const1))
	v.SetDefault("powermeter.averaging_ms", 100.0)
	v.SetDefault("powermeter.unit", mpm210h.DBm.String())
	v.SetDefault("powermeter.zero", false)
	v.SetDefault("powermeter.timeout", mpm210h.DefaultTimeout)
}

func instrumentDefaults(v *viper.Viper, name string, gpibAddr int) {
	v.SetDefault(name+".gpib_addr", gpibAddr)
	v.SetDefault(name+".gpib_sad", NoSecondaryAddress)
	v.SetDefault(name+".baud", 115200)
	v.SetDefault(name+".read_timeout", time.Duration(ldsweep.DefaultReadTimeoutMS)*time.Millisecond)
	v.SetDefault(name+".write_delay", time.Duration(0))
	v.SetDefault(name+".ar488", false)
	v.SetDefault(name+".clear", false)
	v.SetDefault(name+".eot_enable", false)
}

// New returns a viper instance with defaults and environment overrides set
// up. Flags may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFile reads path (if not empty) on top of the defaults and environment.
func LoadFile(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}
	return Load(v)
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	c.Analyzer.Kind = strings.ToLower(strings.TrimSpace(c.Analyzer.Kind))
	if c.Analyzer.Kind == "" {
		c.Analyzer.Kind = KindNone
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Source.validate("source", false); err != nil {
		errs = append(errs, err)
	}
	if err := c.Analyzer.validate("analyzer", true); err != nil {
		errs = append(errs, err)
	}
	if err := c.Plan().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sweep: %w", err))
	}
	if c.Sweep.CaptureTrace && c.Analyzer.Kind == KindNone {
		errs = append(errs, errors.New("sweep.capture_trace requires an analyzer"))
	}
	if c.Sweep.Settle < 0 {
		errs = append(errs, errors.New("sweep.settle must not be negative"))
	}
	if !(c.Sweep.SpanWLNM > 0) {
		errs = append(errs, errors.New("sweep.span_wl_nm must be positive"))
	}
	if !(c.Sweep.LimitMA > 0) {
		errs = append(errs, errors.New("sweep.limit_ma must be positive"))
	}
	if c.Output.Summary == "" {
		errs = append(errs, errors.New("output.summary must not be empty"))
	}
	if _, err := mpm210h.ParsePowerUnit(c.PowerMeter.Unit); err != nil {
		errs = append(errs, fmt.Errorf("powermeter.unit: %w", err))
	}
	if _, err := mpm210h.ParseMode(c.PowerMeter.Mode); err != nil {
		errs = append(errs, fmt.Errorf("powermeter.mode: %w", err))
	}
	return multierr.Combine(errs...)
}

func (ic *InstrumentConfig) validate(name string, optional bool) error {
	switch ic.Kind {
	case KindNone:
		if optional {
			return nil
		}
		return fmt.Errorf("%s.kind: %s instrument is required", name, name)
	case KindPrologix:
		if ic.GPIBAddr < 0 || ic.GPIBAddr > 30 {
			return fmt.Errorf("%s.gpib_addr: %d out of range 0-30", name, ic.GPIBAddr)
		}
		if ic.GPIBSAD != NoSecondaryAddress && (ic.GPIBSAD < 96 || ic.GPIBSAD > 126) {
			return fmt.Errorf("%s.gpib_sad: %d out of range 96-126", name, ic.GPIBSAD)
		}
		if ic.Baud <= 0 {
			return fmt.Errorf("%s.baud must be positive", name)
		}
	case KindUSBTMC, KindTCP:
	default:
		return fmt.Errorf("%s.kind: unknown kind %q", name, ic.Kind)
	}
	if ic.Address == "" {
		return fmt.Errorf("%s.address must not be empty", name)
	}
	if ic.Address == AutoAddress && ic.Kind != KindPrologix {
		return fmt.Errorf("%s.address: %q is only valid for %s", name, AutoAddress, KindPrologix)
	}
	return nil
}

// Plan returns the configured current sweep.
func (c *Config) Plan() ldsweep.Plan {
	return ldsweep.Plan{
		StartMA: c.Sweep.StartMA,
		StopMA:  c.Sweep.StopMA,
		StepMA:  c.Sweep.StepMA,
		Dwell:   c.Sweep.Dwell,
	}
}

// Variant returns what the sweep captures at each point.
func (c *Config) Variant() ldsweep.Variant {
	switch {
	case c.Analyzer.Kind == KindNone:
		return ldsweep.SourceOnly
	case c.Sweep.CaptureTrace:
		return ldsweep.TraceCapture
	default:
		return ldsweep.PeakCapture
	}
}

// SweepOptions translates the sweep settings into Sweeper options.
func (c *Config) SweepOptions() []ldsweep.SweepOption {
	opts := []ldsweep.SweepOption{
		ldsweep.WithSettleDelay(c.Sweep.Settle),
		ldsweep.WithTraceWindow(c.Sweep.CenterWLNM, c.Sweep.SpanWLNM),
	}
	if c.Variant() == ldsweep.TraceCapture {
		opts = append(opts, ldsweep.WithTraceCapture())
	}
	if c.Sweep.ShutdownOnAbort {
		opts = append(opts, ldsweep.WithShutdownOnAbort())
	}
	return opts
}

// SummaryPath is where the summary CSV is written.
func (c *Config) SummaryPath() string {
	return filepath.Join(c.Output.Dir, c.Output.Summary)
}

// TraceDir is where per-point traces are written. Relative paths are taken
// from the output directory; empty selects the recorder's default.
func (c *Config) TraceDir() string {
	if c.Output.TraceDir == "" || filepath.IsAbs(c.Output.TraceDir) {
		return c.Output.TraceDir
	}
	return filepath.Join(c.Output.Dir, c.Output.TraceDir)
}

// ManifestPath is where the run manifest is written.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Output.Dir, record.ManifestFile)
}
