// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import "fmt"

// TransportError reports a failed write to or read from an instrument. It is
// always fatal to a sweep.
type TransportError struct {
	Instrument string
	Op         string // "write" or "read"
	Cmd        string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s after %q: %s", e.Instrument, e.Op, e.Cmd, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AbortError is returned when a sweep stops before reaching its final
// shutdown. Unless ShutdownAttempted is set, the source output was left in
// whatever state it had when the failure occurred.
type AbortError struct {
	Point             int // index of the point being acquired, -1 during setup
	CurrentMA         float64
	ShutdownAttempted bool
	Err               error // cause, combined with any shutdown failure
}

func (e *AbortError) Error() string {
	state := "source output state unknown"
	if e.ShutdownAttempted {
		state = "source output off requested"
	}
	if e.Point < 0 {
		return fmt.Sprintf("sweep aborted during setup (%s): %s", state, e.Err)
	}
	return fmt.Sprintf("sweep aborted at point %d (%.2f mA, %s): %s",
		e.Point, e.CurrentMA, state, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }
