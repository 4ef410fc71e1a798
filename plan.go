// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"fmt"
	"math"
	"time"
)

// Plan describes a current sweep in milliamps. A Plan is not modified once a
// sweep starts.
type Plan struct {
	StartMA float64
	StopMA  float64
	StepMA  float64
	Dwell   time.Duration // stabilization delay after each set point
}

// Validate rejects plans whose point count is undefined.
func (p Plan) Validate() error {
	for _, v := range []float64{p.StartMA, p.StopMA, p.StepMA} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid sweep plan: non-finite value in %+v", p)
		}
	}
	if p.StepMA <= 0 {
		return fmt.Errorf("invalid sweep plan: step must be > 0, got %g mA", p.StepMA)
	}
	if p.Dwell < 0 {
		return fmt.Errorf("invalid sweep plan: negative dwell %s", p.Dwell)
	}
	return nil
}

// Points returns floor((stop-start)/step)+1, or zero when stop lies more than
// one step below start.
func (p Plan) Points() int {
	n := math.Floor((p.StopMA-p.StartMA)/p.StepMA) + 1
	if n < 0 {
		return 0
	}
	return int(n)
}

// CurrentMA returns the commanded current of point i.
func (p Plan) CurrentMA(i int) float64 {
	return p.StartMA + float64(i)*p.StepMA
}

// Variant selects which measurements a sweep captures.
type Variant int

// Sweep variants, from poorest to richest.
const (
	SourceOnly Variant = iota
	PeakCapture
	TraceCapture
)

var variantDesc = map[Variant]string{
	SourceOnly:   "source-only",
	PeakCapture:  "peak",
	TraceCapture: "peak+trace",
}

func (v Variant) String() string {
	if s, ok := variantDesc[v]; ok {
		return s
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// Point is one sweep iteration and the measurements captured at it.
type Point struct {
	Index            int
	CurrentMA        float64
	Confirmed        bool // analyzer answered "1" to the completion query
	PeakWavelengthNM float64
	PeakPowerDBM     float64
	Trace            []TracePoint
}

// CurrentA returns the commanded current in amps.
func (p *Point) CurrentA() float64 { return p.CurrentMA / 1000 }

// Recorder persists sweep points as they are acquired.
type Recorder interface {
	RecordPoint(p *Point) error
}

// Outcome summarizes a sweep that reached its final shutdown.
type Outcome struct {
	Variant        Variant
	Planned        int
	Recorded       int
	Unconfirmed    int // points whose completion flag was not "1"
	SourceErrors   string
	AnalyzerErrors string
	Started        time.Time
	Finished       time.Time
}
