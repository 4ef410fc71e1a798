// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"strings"

	"github.com/gotmc/query"
)

// DefaultCurrentLimitMA is the source current limit applied before a sweep.
const DefaultCurrentLimitMA = 100.0

// SourceInfo is what PrepareSource learns about the laser diode controller.
type SourceInfo struct {
	Identity string
	Errors   string // error queue after *CLS, before configuration
}

// PrepareSource clears the source's status, identifies it, and puts it in
// constant current mode with the given current limit.
func PrepareSource(src *Instrument, limitMA float64) (SourceInfo, error) {
	var info SourceInfo
	if err := src.Command("*CLS"); err != nil {
		return info, err
	}
	idn, err := query.String(src, "*IDN?")
	if err != nil {
		return info, err
	}
	info.Identity = strings.TrimSpace(idn)
	errs, err := query.String(src, "SYST:ERR?")
	if err != nil {
		return info, err
	}
	info.Errors = strings.TrimSpace(errs)
	if err := src.Command("SOURce:FUNCtion:MODE CURRent"); err != nil {
		return info, err
	}
	if err := src.Command("SOURce:CURRent:LIMit:AMPLitude %gMA", limitMA); err != nil {
		return info, err
	}
	return info, nil
}

// PrepareAnalyzer clears and presets the optical spectrum analyzer and returns
// its identity.
func PrepareAnalyzer(osa *Instrument) (string, error) {
	if err := osa.Command("CLS;IP;"); err != nil {
		return "", err
	}
	id, err := query.String(osa, "ID?;")
	return strings.TrimSpace(id), err
}
