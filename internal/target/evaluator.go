package target

import (
	"fmt"
	"math"
)

// #region phase
// Phase classifies the session's progress after a trial. Resonance always
// outranks Q/V: a detuned cavity's quality numbers are not comparable.
type Phase string

const (
	PhaseResonanceTuning Phase = "resonance_tuning"
	PhaseQOptimization   Phase = "q_optimization"
	PhaseComplete        Phase = "complete"
)

// #endregion phase

// #region thresholds
// Thresholds are session-level targets, injected rather than hardcoded.
type Thresholds struct {
	ResonanceToleranceNM float64 `json:"resonance_tolerance_nm"`
	QMin                 float64 `json:"q_min"`
	VMax                 float64 `json:"v_max"` // in (λ/n)³
}

// DefaultThresholds returns the current protocol targets: ±5 nm window,
// Q ≥ 1e6, V ≤ 0.5 (λ/n)³.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResonanceToleranceNM: 5,
		QMin:                 1_000_000,
		VMax:                 0.5,
	}
}

// Validate rejects degenerate threshold configurations.
func (t Thresholds) Validate() error {
	if t.ResonanceToleranceNM <= 0 {
		return fmt.Errorf("resonance tolerance must be positive, got %g", t.ResonanceToleranceNM)
	}
	if t.QMin <= 0 {
		return fmt.Errorf("q_min must be positive, got %g", t.QMin)
	}
	if t.VMax <= 0 {
		return fmt.Errorf("v_max must be positive, got %g", t.VMax)
	}
	return nil
}

// #endregion thresholds

// #region metrics
// Metrics are the scalar results of one completed simulation.
type Metrics struct {
	Q           float64
	V           float64
	ResonanceNM float64
}

// #endregion metrics

// #region status
// Direction hints which way the period should move to shift resonance
// toward the target.
type Direction string

const (
	DirectionIncreasePeriod Direction = "increase_period"
	DirectionDecreasePeriod Direction = "decrease_period"
	DirectionHold           Direction = "hold"
)

// Status is the evaluator's verdict for one trial.
type Status struct {
	Phase            Phase
	OnTarget         bool
	WavelengthDiffNM float64
	Direction        Direction
	Message          string
}

// #endregion status

// #region evaluate
// Evaluate computes the phase and on-target verdict for a trial's metrics.
// It is a pure function of its arguments: same metrics and thresholds, same
// verdict, regardless of call count or order.
func Evaluate(m Metrics, targetWavelengthNM float64, th Thresholds) Status {
	diff := math.Abs(m.ResonanceNM - targetWavelengthNM)

	// Priority 1: resonance must be on target before Q/V matters.
	if diff > th.ResonanceToleranceNM {
		dir := DirectionIncreasePeriod
		if m.ResonanceNM > targetWavelengthNM {
			dir = DirectionDecreasePeriod
		}
		return Status{
			Phase:            PhaseResonanceTuning,
			OnTarget:         false,
			WavelengthDiffNM: diff,
			Direction:        dir,
			Message: fmt.Sprintf("resonance %.1fnm off target %.1fnm, fix period before Q/V",
				diff, targetWavelengthNM),
		}
	}

	// Priority 2: quality targets.
	if m.Q < th.QMin || m.V > th.VMax {
		return Status{
			Phase:            PhaseQOptimization,
			OnTarget:         false,
			WavelengthDiffNM: diff,
			Direction:        DirectionHold,
			Message: fmt.Sprintf("resonance ok (%.1fnm off), Q=%.0f (target %.0f), V=%.3f (target %.3f)",
				diff, m.Q, th.QMin, m.V, th.VMax),
		}
	}

	return Status{
		Phase:            PhaseComplete,
		OnTarget:         true,
		WavelengthDiffNM: diff,
		Direction:        DirectionHold,
		Message:          "all targets met",
	}
}

// #endregion evaluate
