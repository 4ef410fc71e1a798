// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"fmt"
	"strings"
)

// Instrument adds command and query helpers to a Transport. It satisfies
// query.Querier so the typed helpers from github.com/gotmc/query can be used
// against it.
type Instrument struct {
	Name string
	t    Transport
}

// NewInstrument names a transport for use in error messages and logs.
func NewInstrument(name string, t Transport) *Instrument {
	return &Instrument{Name: name, t: t}
}

// Command formats according to a format specifier if provided and sends the
// resulting command, newline terminated, to the instrument. Leading and
// trailing whitespace is removed first.
func (i *Instrument) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = strings.TrimSpace(cmd)
	if err := i.t.Send([]byte(cmd + "\n")); err != nil {
		return &TransportError{Instrument: i.Name, Op: "write", Cmd: cmd, Err: err}
	}
	return nil
}

// Query sends cmd and reads one response line. The response is returned as
// read, terminator included.
func (i *Instrument) Query(cmd string) (string, error) {
	if err := i.Command(cmd); err != nil {
		return "", err
	}
	s, err := i.t.ReadLine()
	if err != nil {
		return s, &TransportError{Instrument: i.Name, Op: "read", Cmd: strings.TrimSpace(cmd), Err: err}
	}
	return s, nil
}
