package record

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gotmc/ldsweep"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the default name of the run manifest.
const ManifestFile = "sweep.yaml"

// Manifest describes one sweep run: what was planned, what was recorded and
// what the instruments reported at the end.
type Manifest struct {
	RunID          string    `yaml:"run_id"`
	Variant        string    `yaml:"variant"`
	Summary        string    `yaml:"summary"`
	TraceDir       string    `yaml:"trace_dir,omitempty"`
	Plan           PlanInfo  `yaml:"plan"`
	Started        time.Time `yaml:"started"`
	Finished       time.Time `yaml:"finished,omitempty"`
	Planned        int       `yaml:"planned_points"`
	Recorded       int       `yaml:"recorded_points"`
	Unconfirmed    int       `yaml:"unconfirmed_points"`
	SourceErrors   string    `yaml:"source_errors,omitempty"`
	AnalyzerErrors string    `yaml:"analyzer_errors,omitempty"`
	Error          string    `yaml:"error,omitempty"`
}

// PlanInfo is the YAML form of ldsweep.Plan.
type PlanInfo struct {
	StartMA float64 `yaml:"start_ma"`
	StopMA  float64 `yaml:"stop_ma"`
	StepMA  float64 `yaml:"step_ma"`
	Dwell   string  `yaml:"dwell"`
}

// NewManifest builds the manifest of a run recorded by r. out may be nil if
// the sweep failed before starting; runErr is the error Run returned.
func NewManifest(r *Recorder, plan ldsweep.Plan, out *ldsweep.Outcome, runErr error) Manifest {
	m := Manifest{
		RunID:   uuid.NewString(),
		Variant: r.variant.String(),
		Summary: r.Path(),
		Plan: PlanInfo{
			StartMA: plan.StartMA,
			StopMA:  plan.StopMA,
			StepMA:  plan.StepMA,
			Dwell:   plan.Dwell.String(),
		},
	}
	if r.variant == ldsweep.TraceCapture {
		m.TraceDir = r.traceDir
	}
	if out != nil {
		m.Started = out.Started
		m.Finished = out.Finished
		m.Planned = out.Planned
		m.Recorded = out.Recorded
		m.Unconfirmed = out.Unconfirmed
		m.SourceErrors = out.SourceErrors
		m.AnalyzerErrors = out.AnalyzerErrors
	}
	if runErr != nil {
		m.Error = runErr.Error()
	}
	return m
}

// WriteManifest writes m to path as YAML.
func WriteManifest(path string, m Manifest) error {
	b, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = yaml.Unmarshal(b, &m)
	return m, err
}
