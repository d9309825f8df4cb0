package config

import (
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/sweep"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/target"
)

// #region types
// Config is the controller's session configuration file. Only db_path and
// the simulator address are required; targets and sweep settings default to
// the current protocol revision.
type Config struct {
	LogLevel  string    `yaml:"log_level,omitempty"`
	DBPath    string    `yaml:"db_path"`
	Simulator Simulator `yaml:"simulator"`
	Targets   *Targets  `yaml:"targets,omitempty"`
	Sweep     *Sweep    `yaml:"sweep,omitempty"`
}

// Simulator points at the layout/FDTD sidecar.
type Simulator struct {
	Addr string `yaml:"addr"`
}

// Targets overrides the session's success thresholds.
type Targets struct {
	ResonanceToleranceNM float64 `yaml:"resonance_tolerance_nm,omitempty"`
	QMin                 float64 `yaml:"q_min,omitempty"`
	VMax                 float64 `yaml:"v_max,omitempty"`
}

// Sweep overrides the step plan and candidate lists.
type Sweep struct {
	Plan              []string  `yaml:"plan,omitempty"`
	MinACandidates    []float64 `yaml:"min_a_candidates,omitempty"`
	TaperCandidates   []int     `yaml:"taper_candidates,omitempty"`
	FinePeriodOffsets []float64 `yaml:"fine_period_offsets,omitempty"`
	MaxPeriodDriftNM  float64   `yaml:"max_period_drift_nm,omitempty"`
	MaxFineStepNM     float64   `yaml:"max_fine_step_nm,omitempty"`
}

// #endregion types

// #region accessors
// Thresholds merges the target overrides over the protocol defaults.
func (c *Config) Thresholds() target.Thresholds {
	th := target.DefaultThresholds()
	if c.Targets == nil {
		return th
	}
	if c.Targets.ResonanceToleranceNM > 0 {
		th.ResonanceToleranceNM = c.Targets.ResonanceToleranceNM
	}
	if c.Targets.QMin > 0 {
		th.QMin = c.Targets.QMin
	}
	if c.Targets.VMax > 0 {
		th.VMax = c.Targets.VMax
	}
	return th
}

// SweepPlan returns the configured step plan, or the default.
func (c *Config) SweepPlan() sweep.Plan {
	if c.Sweep == nil || len(c.Sweep.Plan) == 0 {
		return sweep.DefaultPlan()
	}
	plan := make(sweep.Plan, 0, len(c.Sweep.Plan))
	for _, s := range c.Sweep.Plan {
		plan = append(plan, sweep.Step(s))
	}
	return plan
}

// SweepConfig merges the sweep overrides over the protocol defaults.
func (c *Config) SweepConfig() sweep.Config {
	sc := sweep.DefaultConfig()
	if c.Sweep == nil {
		return sc
	}
	if len(c.Sweep.MinACandidates) > 0 {
		sc.MinACandidates = c.Sweep.MinACandidates
	}
	if len(c.Sweep.TaperCandidates) > 0 {
		sc.TaperCandidates = c.Sweep.TaperCandidates
	}
	if len(c.Sweep.FinePeriodOffsets) > 0 {
		sc.FinePeriodOffsets = c.Sweep.FinePeriodOffsets
	}
	if c.Sweep.MaxPeriodDriftNM > 0 {
		sc.MaxPeriodDriftNM = c.Sweep.MaxPeriodDriftNM
	}
	if c.Sweep.MaxFineStepNM > 0 {
		sc.MaxFineStepNM = c.Sweep.MaxFineStepNM
	}
	return sc
}

// #endregion accessors
