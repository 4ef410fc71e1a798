// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"errors"
	"io"
	"strings"
)

var errWire = errors.New("wire broke")

// fakeInstrument records commands and answers queries from a reply table.
type fakeInstrument struct {
	sent    []string
	replies map[string]string
	pending []string
	failOn  string // command whose nth occurrence fails to send
	failNth int
	seen    map[string]int
}

func newFake(replies map[string]string) *fakeInstrument {
	return &fakeInstrument{replies: replies, seen: map[string]int{}}
}

func (f *fakeInstrument) Send(p []byte) error {
	cmd := strings.TrimSpace(string(p))
	f.seen[cmd]++
	if cmd == f.failOn && f.seen[cmd] >= f.failNth {
		return errWire
	}
	f.sent = append(f.sent, cmd)
	if r, ok := f.replies[cmd]; ok {
		f.pending = append(f.pending, r)
	}
	return nil
}

func (f *fakeInstrument) ReadLine() (string, error) {
	if len(f.pending) == 0 {
		return "", io.EOF
	}
	s := f.pending[0]
	f.pending = f.pending[1:]
	return s + "\n", nil
}

func (f *fakeInstrument) count(cmd string) int {
	n := 0
	for _, c := range f.sent {
		if c == cmd {
			n++
		}
	}
	return n
}

func (f *fakeInstrument) index(cmd string) int {
	for i, c := range f.sent {
		if c == cmd {
			return i
		}
	}
	return -1
}

type memRecorder struct {
	points []*Point
	err    error
}

func (m *memRecorder) RecordPoint(p *Point) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, p)
	return nil
}

func analyzerReplies() map[string]string {
	return map[string]string{
		"TS;DONE?;": "1",
		"MKWL?;":    "9.80125E-07",
		"MKA?;":     "-12.5",
		"XERR?;":    "0",
		"MDS?;":     "3",
		"TRA?;":     "-40.0,-20.5,-41.2",
		"ID?;":      "HP70952B",
	}
}

func sourceReplies() map[string]string {
	return map[string]string{
		"SYST:ERR?": `+0,"No error"`,
		"*IDN?":     "Thorlabs,CLD1015,M01053290,1.2.0",
	}
}
