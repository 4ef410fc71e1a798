// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/ldsweep"
	"github.com/gotmc/ldsweep/lib/config"
	"github.com/gotmc/ldsweep/lib/mpm210h"
	"github.com/gotmc/ldsweep/lib/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instrument is a line-oriented TCP instrument that answers the queries in
// replies and records everything it receives.
type instrument struct {
	addr    string
	replies map[string]string

	mu       sync.Mutex
	received []string
}

func newInstrument(t *testing.T, replies map[string]string) *instrument {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	in := &instrument{addr: ln.Addr().String(), replies: replies}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go in.serve(conn)
		}
	}()
	return in
}

func (in *instrument) serve(conn net.Conn) {
	defer conn.Close()
	s := bufio.NewScanner(conn)
	for s.Scan() {
		cmd := s.Text()
		in.mu.Lock()
		in.received = append(in.received, cmd)
		in.mu.Unlock()
		if r, ok := in.replies[cmd]; ok {
			io.WriteString(conn, r+"\n")
		}
	}
}

func (in *instrument) commands() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.received...)
}

func sourceReplies() map[string]string {
	return map[string]string{
		"*IDN?":     "Thorlabs,CLD1015,M00000000,1.2.0",
		"SYST:ERR?": `+0,"No error"`,
	}
}

func analyzerReplies() map[string]string {
	return map[string]string{
		"ID?;":      "HP70952B",
		"TS;DONE?;": "1",
		"MKWL?;":    "9.80125E-07",
		"MKA?;":     "-12.5",
		"MDS?;":     "3",
		"TRA?;":     "-40,-12.5,-41",
		"XERR?;":    "0",
	}
}

func rigFromYAML(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	c, err := config.LoadFile(path)
	require.NoError(t, err)
	return c
}

func rigConfig(src, osa, out string, extra string) string {
	return fmt.Sprintf(`
source:
  kind: tcp
  address: %s
  timeout: 2s
analyzer:
  kind: tcp
  address: %s
  timeout: 2s
sweep:
  start_ma: 0
  stop_ma: 2
  step_ma: 1
  dwell: 1ms
  settle: 1ms
output:
  dir: %s
%s`, src, osa, out, extra)
}

func quiet() *log.Logger { return log.New(io.Discard) }

func count(cmds []string, cmd string) int {
	n := 0
	for _, c := range cmds {
		if c == cmd {
			n++
		}
	}
	return n
}

func TestRunSweepPeak(t *testing.T) {
	src := newInstrument(t, sourceReplies())
	osa := newInstrument(t, analyzerReplies())
	dir := t.TempDir()
	c := rigFromYAML(t, rigConfig(src.addr, osa.addr, dir, ""))

	var stdout bytes.Buffer
	require.NoError(t, runSweep(c, quiet(), &stdout))

	assert.Equal(t, []string{
		"*CLS",
		"*IDN?",
		"SYST:ERR?",
		"SOURce:FUNCtion:MODE CURRent",
		"SOURce:CURRent:LIMit:AMPLitude 100MA",
		"OUTPut:STATe 0",
		"OUTPut:STATe 1",
		"SOURce:CURRent:LEVel:IMMediate:AMPLitude 0.000000",
		"SOURce:CURRent:LEVel:IMMediate:AMPLitude 0.001000",
		"SOURce:CURRent:LEVel:IMMediate:AMPLitude 0.002000",
		"OUTPut:STATe 0",
		"SYST:ERR?",
	}, src.commands())
	osaCmds := osa.commands()
	assert.Equal(t, []string{"CLS;IP;", "ID?;", "IP;", "SNGLS;", "TS;DONE?;"}, osaCmds[:5])
	assert.Equal(t, []string{"SWEEP OFF;", "XERR?;"}, osaCmds[len(osaCmds)-2:])

	b, err := os.ReadFile(filepath.Join(dir, config.DefaultSummary))
	require.NoError(t, err)
	assert.Equal(t,
		"Current (mA),Peak Wavelength (nm),Peak Power (dBm)\n"+
			"0.00,980.1250,-12.50\n"+
			"1.00,980.1250,-12.50\n"+
			"2.00,980.1250,-12.50\n",
		string(b))

	m, err := record.ReadManifest(filepath.Join(dir, record.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, "peak", m.Variant)
	assert.Equal(t, 3, m.Planned)
	assert.Equal(t, 3, m.Recorded)
	assert.Equal(t, `+0,"No error"`, m.SourceErrors)
	assert.Equal(t, "0", m.AnalyzerErrors)
	assert.Empty(t, m.Error)
	assert.False(t, m.Finished.IsZero())

	assert.Contains(t, stdout.String(), "3 of 3 points (peak)")
}

func TestRunSweepTrace(t *testing.T) {
	src := newInstrument(t, sourceReplies())
	osa := newInstrument(t, analyzerReplies())
	dir := t.TempDir()
	c := rigFromYAML(t, rigConfig(src.addr, osa.addr, dir, `
  trace_dir: spectra
`))
	c.Sweep.CaptureTrace = true

	require.NoError(t, runSweep(c, quiet(), io.Discard))
	assert.Contains(t, osa.commands(), "CENTERWL 980NM;SPANWL 20NM;")

	b, err := os.ReadFile(filepath.Join(dir, "spectra", "trace_1.00mA.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"Wavelength (nm),Power (dBm)\n970.0000,-40.00\n980.0000,-12.50\n990.0000,-41.00\n",
		string(b))
}

func TestRunSweepSourceOnly(t *testing.T) {
	src := newInstrument(t, sourceReplies())
	dir := t.TempDir()
	c := rigFromYAML(t, rigConfig(src.addr, "unused:0", dir, ""))
	c.Analyzer.Kind = config.KindNone

	require.NoError(t, runSweep(c, quiet(), io.Discard))
	b, err := os.ReadFile(filepath.Join(dir, config.DefaultSummary))
	require.NoError(t, err)
	assert.Equal(t, "Current (mA)\n0.00\n1.00\n2.00\n", string(b))
}

func TestRunSweepAbort(t *testing.T) {
	src := newInstrument(t, sourceReplies())
	replies := analyzerReplies()
	delete(replies, "MKA?;")
	osa := newInstrument(t, replies)
	dir := t.TempDir()
	c := rigFromYAML(t, rigConfig(src.addr, osa.addr, dir, ""))
	c.Analyzer.Timeout = 100 * time.Millisecond

	err := runSweep(c, quiet(), io.Discard)
	var ae *ldsweep.AbortError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 0, ae.Point)
	assert.True(t, ae.ShutdownAttempted)

	// the best-effort shutdown is not acknowledged, so wait for it to land
	require.Eventually(t, func() bool {
		cmds := src.commands()
		return len(cmds) > 0 && cmds[len(cmds)-1] == "OUTPut:STATe 0" && count(cmds, "OUTPut:STATe 0") == 2
	}, 2*time.Second, 10*time.Millisecond)

	m, err := record.ReadManifest(filepath.Join(dir, record.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Recorded)
	assert.NotEmpty(t, m.Error)
	assert.True(t, m.Finished.IsZero())
}

func TestRunPower(t *testing.T) {
	meter := newInstrument(t, map[string]string{
		"*IDN?":   "santec,MPM-210H,00000000,1.00",
		"READ? 1": "-20,-3.25",
		"ERR?":    "0",
	})
	c := rigFromYAML(t, fmt.Sprintf(`
powermeter:
  address: %s
  module: 1
  port: 2
  wavelength_nm: 1310
  unit: dBm
  zero: true
`, meter.addr))

	var slept []time.Duration
	var stdout bytes.Buffer
	err := runPower(c, quiet(), &stdout, 2, 250*time.Millisecond, func(d time.Duration) { slept = append(slept, d) },
		mpm210h.WithSleeper(func(time.Duration) {}))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{250 * time.Millisecond}, slept)
	assert.Equal(t, 2, bytes.Count(stdout.Bytes(), []byte("-3.250 dBm")))
	assert.Equal(t, []string{
		"*IDN?",
		"DWAV 1,2,1310.000",
		"WMOD CONST1",
		"AVG 100.00",
		"UNIT 0",
		"ZERO",
		"READ? 1",
		"READ? 1",
		"ERR?",
	}, meter.commands())
}

func TestRunPowerNeedsAddress(t *testing.T) {
	c := rigFromYAML(t, "debug: false\n")
	err := runPower(c, quiet(), io.Discard, 1, 0, func(time.Duration) {})
	assert.ErrorContains(t, err, "powermeter.address")
}
