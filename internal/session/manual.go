package session

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/history"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/simbridge"
)

// #region manual-types
// SweepPoint is one value of a manual parameter sweep with its result.
// Cached marks points answered from history instead of a fresh simulation.
type SweepPoint struct {
	Value       float64
	Iteration   int
	PeriodNM    float64
	Q           float64
	V           float64
	QV          float64
	ResonanceNM float64
	OnTarget    bool
	Failed      bool
	Cached      bool
}

// ManualSweepResult summarizes a completed manual sweep. Best is nil when
// no point landed on target.
type ManualSweepResult struct {
	Field  string
	Points []SweepPoint
	Best   *SweepPoint
}

// maxRetunes bounds the compensating period adjustments per sweep point.
const maxRetunes = 4

// #endregion manual-types

// #region manual-sweep
// BeginManualSweep runs the given values for one parameter under the manual
// step, re-tuning the period after each value so every point is compared on
// target. The winning value (highest Q/V among on-target points) and its
// period are locked; the prior gated step resumes afterwards.
func (c *Controller) BeginManualSweep(ctx context.Context, field string, values []float64) (ManualSweepResult, error) {
	if !c.started {
		return ManualSweepResult{}, params.ErrNotConfigured
	}
	if !sweepable(field) {
		return ManualSweepResult{}, fmt.Errorf("parameter %q is not sweepable", field)
	}
	if len(values) == 0 {
		return ManualSweepResult{}, errors.New("manual sweep needs at least one value")
	}
	if len(c.trials) == 0 {
		return ManualSweepResult{}, errors.New("manual sweep needs a baseline trial first")
	}
	cell, err := c.cfg.Cell()
	if err != nil {
		return ManualSweepResult{}, err
	}

	c.guard.BeginManual()
	defer func() {
		c.guard.EndManual()
		if err := c.store.SaveSweepState(c.sess.Key, c.guard.State()); err != nil {
			c.opts.Logger.Warn("sweep state flush failed", "err", err)
		}
	}()

	result := ManualSweepResult{Field: field}
	for _, value := range values {
		point, err := c.runManualPoint(ctx, cell, field, value)
		if err != nil {
			return result, err
		}
		result.Points = append(result.Points, point)
	}

	for i := range result.Points {
		p := &result.Points[i]
		if !p.OnTarget {
			continue
		}
		if result.Best == nil || p.QV > result.Best.QV {
			result.Best = p
		}
	}
	if result.Best != nil {
		c.guard.LockValue(field, result.Best.Value)
		if field != params.FieldPeriodNM {
			c.guard.LockValue(params.FieldPeriodNM, math.Round(result.Best.PeriodNM))
		}
		c.opts.Logger.Info("manual sweep locked",
			"field", field, "value", result.Best.Value, "qv", result.Best.QV)
	}
	return result, nil
}

// runManualPoint evaluates one sweep value, compensating with period
// adjustments until resonance is back in the target window or the re-tune
// budget runs out. Duplicates resolve from history; a simulation failure
// marks the point failed without aborting the sweep.
func (c *Controller) runManualPoint(ctx context.Context, cell params.UnitCell, field string, value float64) (SweepPoint, error) {
	base, _ := c.prevParams()
	c.guard.Locked().Apply(&base)
	if !base.SetField(field, value) {
		return SweepPoint{}, fmt.Errorf("parameter %q is not settable", field)
	}

	point := SweepPoint{Value: value}
	for attempt := 0; attempt <= maxRetunes; attempt++ {
		rec, cached, err := c.evaluateOrCached(ctx, base)
		if err != nil {
			var simErr *simbridge.SimulationError
			if errors.As(err, &simErr) {
				point.Failed = true
				return point, nil
			}
			return SweepPoint{}, err
		}

		point.Iteration = rec.Iteration
		point.PeriodNM = rec.Params.Canon().PeriodNM
		point.Q = rec.Q
		point.V = rec.V
		point.QV = rec.QV
		point.ResonanceNM = rec.ResonanceNM
		point.Cached = cached

		diff := rec.ResonanceNM - cell.TargetWavelengthNM
		if math.Abs(diff) <= c.opts.Thresholds.ResonanceToleranceNM {
			point.OnTarget = true
			return point, nil
		}
		if field == params.FieldPeriodNM {
			// Sweeping the period itself: each value stands on its own.
			return point, nil
		}

		// Resonance shifts roughly 2.5 nm per nm of period; whole-nm steps
		// keep the trial grid stable.
		delta := math.Round(-diff / 2.5)
		if delta == 0 {
			if diff > 0 {
				delta = -1
			} else {
				delta = 1
			}
		}
		base.PeriodNM = math.Round(base.PeriodNM + delta)
	}
	return point, nil
}

// evaluateOrCached runs one trial, answering exact duplicates from history.
func (c *Controller) evaluateOrCached(ctx context.Context, p params.DesignParams) (history.DesignRecord, bool, error) {
	out, err := c.EvaluateDesign(ctx, candidateFrom(p))
	if err == nil {
		return out.Record, false, nil
	}

	var dup *DuplicateTrialError
	if errors.As(err, &dup) {
		prior, terr := c.store.Trial(c.sess.Key, dup.Iteration)
		if terr != nil {
			return history.DesignRecord{}, false, terr
		}
		return prior, true, nil
	}
	return out.Record, false, err
}

// #endregion manual-sweep

// #region manual-helpers
func sweepable(field string) bool {
	for _, f := range params.SweepableFields() {
		if f == field {
			return true
		}
	}
	return false
}

// candidateFrom builds a fully explicit candidate from a resolved snapshot.
func candidateFrom(p params.DesignParams) Candidate {
	p = p.Canon()
	return Candidate{
		PeriodNM:       p.PeriodNM,
		WgWidthNM:      p.WgWidthNM,
		HoleRxNM:       p.HoleRxNM,
		HoleRyNM:       p.HoleRyNM,
		NumTaperHoles:  p.NumTaperHoles,
		NumMirrorHoles: p.NumMirrorHoles,
		MinAPercent:    p.MinAPercent,
		MinRxPercent:   p.MinRxPercent,
		MinRyPercent:   p.MinRyPercent,
	}
}

// #endregion manual-helpers
