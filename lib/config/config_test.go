package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gotmc/ldsweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ldsweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, KindUSBTMC, cfg.Source.Kind)
	assert.Equal(t, KindPrologix, cfg.Analyzer.Kind)
	assert.Equal(t, AutoAddress, cfg.Analyzer.Address)
	assert.Equal(t, 23, cfg.Analyzer.GPIBAddr)
	assert.Equal(t, NoSecondaryAddress, cfg.Analyzer.GPIBSAD)
	assert.Equal(t, 500*time.Millisecond, cfg.Analyzer.ReadTimeout)
	assert.False(t, cfg.Analyzer.EOT)

	assert.Equal(t, ldsweep.Plan{StartMA: 0, StopMA: 100, StepMA: 0.1, Dwell: 50 * time.Millisecond}, cfg.Plan())
	assert.Equal(t, 1001, cfg.Plan().Points())
	assert.Equal(t, ldsweep.DefaultSettleDelay, cfg.Sweep.Settle)
	assert.True(t, cfg.Sweep.ShutdownOnAbort)
	assert.Equal(t, ldsweep.PeakCapture, cfg.Variant())
	assert.Len(t, cfg.SweepOptions(), 3)

	assert.Equal(t, DefaultSummary, cfg.SummaryPath())
	assert.Equal(t, "", cfg.TraceDir())
	assert.Equal(t, "sweep.yaml", cfg.ManifestPath())

	assert.Equal(t, 1, cfg.PowerMeter.Port)
	assert.Equal(t, "dBm", cfg.PowerMeter.Unit)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
debug: true
source:
  kind: tcp
  address: 192.168.1.20:5025
  timeout: 2s
analyzer:
  kind: Prologix
  address: /dev/ttyUSB0
  gpib_addr: 18
  gpib_sad: 101
  write_delay: 100ms
  ar488: true
  eot_enable: true
sweep:
  start_ma: 10
  stop_ma: "20"
  step_ma: 2.5
  dwell: 1s
  capture_trace: true
  shutdown_on_abort: false
  center_wl_nm: 1550
  span_wl_nm: 40
output:
  dir: /data/run1
  trace_dir: spectra
powermeter:
  address: 10.0.0.5:5000
  unit: mW
  mode: freerun
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, KindTCP, cfg.Source.Kind)
	assert.Equal(t, 2*time.Second, cfg.Source.Timeout)
	assert.Equal(t, KindPrologix, cfg.Analyzer.Kind)
	assert.Equal(t, 18, cfg.Analyzer.GPIBAddr)
	assert.Equal(t, 101, cfg.Analyzer.GPIBSAD)
	assert.Equal(t, 100*time.Millisecond, cfg.Analyzer.WriteDelay)
	assert.True(t, cfg.Analyzer.AR488)
	assert.True(t, cfg.Analyzer.EOT)
	assert.Equal(t, 115200, cfg.Analyzer.Baud)

	assert.Equal(t, ldsweep.Plan{StartMA: 10, StopMA: 20, StepMA: 2.5, Dwell: time.Second}, cfg.Plan())
	assert.Equal(t, ldsweep.TraceCapture, cfg.Variant())
	assert.Len(t, cfg.SweepOptions(), 3)

	assert.Equal(t, "/data/run1/"+DefaultSummary, cfg.SummaryPath())
	assert.Equal(t, "/data/run1/spectra", cfg.TraceDir())
	assert.Equal(t, "/data/run1/sweep.yaml", cfg.ManifestPath())
	assert.Equal(t, "10.0.0.5:5000", cfg.PowerMeter.Address)
}

func TestSourceOnly(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "analyzer:\n  kind: none\n"))
	require.NoError(t, err)
	assert.Equal(t, ldsweep.SourceOnly, cfg.Variant())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("LDSWEEP_SWEEP_STOP_MA", "42")
	t.Setenv("LDSWEEP_ANALYZER_KIND", "none")
	cfg, err := LoadFile(writeConfig(t, "sweep:\n  stop_ma: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 42.0, cfg.Sweep.StopMA)
	assert.Equal(t, ldsweep.SourceOnly, cfg.Variant())
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero step", "sweep:\n  step_ma: 0\n", "sweep:"},
		{"negative dwell", "sweep:\n  dwell: -1s\n", "sweep:"},
		{"trace without analyzer", "analyzer:\n  kind: none\nsweep:\n  capture_trace: true\n", "capture_trace"},
		{"unknown kind", "source:\n  kind: visa\n", "unknown kind"},
		{"no source", "source:\n  kind: none\n", "source instrument is required"},
		{"auto off prologix", "source:\n  address: auto\n", "only valid"},
		{"gpib address", "analyzer:\n  gpib_addr: 31\n", "gpib_addr"},
		{"secondary address", "analyzer:\n  gpib_sad: 5\n", "gpib_sad"},
		{"span", "sweep:\n  span_wl_nm: 0\n", "span_wl_nm"},
		{"limit", "sweep:\n  limit_ma: -1\n", "limit_ma"},
		{"unit", "powermeter:\n  unit: W\n", "powermeter.unit"},
		{"mode", "powermeter:\n  mode: FAST\n", "powermeter.mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "sweep:\n  step_ma: 0\n  span_wl_nm: 0\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "sweep:")
	assert.ErrorContains(t, err, "span_wl_nm")
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "reading config file failed")
}
