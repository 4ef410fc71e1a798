// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command ldsweep sweeps a laser diode's drive current while recording its
// optical spectrum, and reads optical power from an MPM-210H power meter.
package main

func main() {
	Execute()
}
