// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlanPoints(t *testing.T) {
	testCases := []struct {
		plan Plan
		want int
	}{
		{Plan{StartMA: 0, StopMA: 10, StepMA: 5}, 3},
		{Plan{StartMA: 0, StopMA: 11, StepMA: 5}, 3},
		{Plan{StartMA: 5, StopMA: 5, StepMA: 1}, 1},
		{Plan{StartMA: 10, StopMA: 9.5, StepMA: 1}, 0},
		{Plan{StartMA: 10, StopMA: 0, StepMA: 1}, 0},
		{Plan{StartMA: 1, StopMA: 2, StepMA: 0.25}, 5},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, tc.plan.Points(), "%+v", tc.plan)
	}
}

func TestPlanLastPointWithinStop(t *testing.T) {
	for _, p := range []Plan{
		{StartMA: 0, StopMA: 100, StepMA: 3},
		{StartMA: -5, StopMA: 7, StepMA: 2.5},
		{StartMA: 20, StopMA: 80, StepMA: 7},
	} {
		n := p.Points()
		want := int(math.Floor((p.StopMA-p.StartMA)/p.StepMA)) + 1
		assert.Equal(t, want, n)
		last := p.CurrentMA(n - 1)
		assert.LessOrEqual(t, last, p.StopMA)
		assert.Greater(t, last+p.StepMA, p.StopMA)
	}
}

func TestPlanValidate(t *testing.T) {
	assert.NoError(t, Plan{StopMA: 1, StepMA: 0.1}.Validate())
	assert.Error(t, Plan{StopMA: 1, StepMA: 0}.Validate())
	assert.Error(t, Plan{StopMA: 1, StepMA: -1}.Validate())
	assert.Error(t, Plan{StopMA: math.NaN(), StepMA: 1}.Validate())
	assert.Error(t, Plan{StopMA: 1, StepMA: 1, Dwell: -time.Millisecond}.Validate())
}

func TestVariantString(t *testing.T) {
	assert.Equal(t, "peak+trace", TraceCapture.String())
	assert.Equal(t, "Variant(9)", Variant(9).String())
}
