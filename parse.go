// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gotmc/query"
)

// Sentinel values recorded in place of responses that do not parse.
const (
	FallbackWavelengthNM = 0.0
	FallbackPowerDBM     = -100.0
	DefaultTracePoints   = 800
)

// MetersToNM converts analyzer wavelengths, reported in meters.
const MetersToNM = 1e9

// TraceDelimiter separates values in a trace response.
const TraceDelimiter = ","

// ParseScalar parses one response line as a float and multiplies it by
// scale. Any malformed line yields fallback, unscaled.
func ParseScalar(line string, fallback, scale float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return fallback
	}
	return v * scale
}

// ParseFields splits line on delim and parses every field on its own; a
// malformed field becomes fallback without affecting its neighbours.
func ParseFields(line, delim string, fallback float64) []float64 {
	fields := strings.Split(strings.TrimSpace(line), delim)
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		vals = append(vals, ParseScalar(f, fallback, 1))
	}
	return vals
}

// ParseTrace parses a comma separated power trace in dBm.
func ParseTrace(line string) []float64 {
	return ParseFields(line, TraceDelimiter, FallbackPowerDBM)
}

// readScalar queries q for a float and multiplies it by scale. A reply that
// does not parse yields fallback, unscaled; transport failures are returned.
func readScalar(q query.Querier, cmd string, fallback, scale float64) (float64, error) {
	v, err := query.Float64(q, cmd)
	if err != nil {
		if isTransport(err) {
			return 0, err
		}
		return fallback, nil
	}
	return v * scale, nil
}

// readTracePoints queries q for the trace length, falling back to
// DefaultTracePoints when the reply is not a positive integer.
func readTracePoints(q query.Querier, cmd string) (int, error) {
	n, err := query.Int(q, cmd)
	if err != nil {
		if isTransport(err) {
			return 0, err
		}
		return DefaultTracePoints, nil
	}
	if n < 1 {
		return DefaultTracePoints, nil
	}
	return n, nil
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Axis is a linear wavelength axis in nanometers.
type Axis struct {
	StartNM float64
	StopNM  float64
	Points  int
}

// WindowAxis returns the axis spanned by an analyzer window.
func WindowAxis(centerNM, spanNM float64, points int) Axis {
	return Axis{
		StartNM: centerNM - spanNM/2,
		StopNM:  centerNM + spanNM/2,
		Points:  points,
	}
}

// Wavelength returns the wavelength of axis index i.
func (a Axis) Wavelength(i int) float64 {
	if a.Points <= 1 {
		return a.StartNM
	}
	return a.StartNM + float64(i)*(a.StopNM-a.StartNM)/float64(a.Points-1)
}

// TracePoint is one power reading paired with its wavelength.
type TracePoint struct {
	WavelengthNM float64
	PowerDBM     float64
}

// Map pairs the first min(len(values), a.Points) values with their
// wavelengths. Excess values are dropped.
func (a Axis) Map(values []float64) []TracePoint {
	n := min(len(values), a.Points)
	if n < 0 {
		n = 0
	}
	pts := make([]TracePoint, n)
	for i := range pts {
		pts[i] = TracePoint{WavelengthNM: a.Wavelength(i), PowerDBM: values[i]}
	}
	return pts
}
