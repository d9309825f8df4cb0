package sweep

import (
	"fmt"
	"math"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
)

// #region controller
// Controller is the sweep step state machine. It restricts which parameters
// may legally change in the active step, decides when a step's local
// objective is satisfied, and carries the locked-value ledger across the
// forced resonance re-entries.
type Controller struct {
	plan          Plan
	cfg           Config
	idx           int
	retuning      bool
	manual        bool
	stepStartIter int
	locked        Locked
}

// NewController builds a controller at the start of the given plan.
func NewController(plan Plan, cfg Config) (*Controller, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("sweep plan: %w", err)
	}
	return &Controller{
		plan:   plan,
		cfg:    cfg,
		locked: Locked{},
	}, nil
}

// Restore rebuilds a controller from a persisted snapshot.
func Restore(st State, cfg Config) (*Controller, error) {
	if err := st.Plan.Validate(); err != nil {
		return nil, fmt.Errorf("persisted sweep plan: %w", err)
	}
	if st.PlanIndex < 0 || st.PlanIndex >= len(st.Plan) {
		return nil, fmt.Errorf("persisted plan index %d out of range [0, %d)", st.PlanIndex, len(st.Plan))
	}
	locked := st.Locked
	if locked == nil {
		locked = Locked{}
	}
	return &Controller{
		plan:          st.Plan,
		cfg:           cfg,
		idx:           st.PlanIndex,
		retuning:      st.Retuning,
		stepStartIter: st.StepStartIter,
		locked:        locked.Clone(),
	}, nil
}

// State snapshots the controller for durable storage.
func (c *Controller) State() State {
	return State{
		Plan:          append(Plan(nil), c.plan...),
		PlanIndex:     c.idx,
		Retuning:      c.retuning,
		StepStartIter: c.stepStartIter,
		Locked:        c.locked.Clone(),
	}
}

// #endregion controller

// #region accessors
// GatedStep is the plan step progress is measured against, even while a
// resonance re-tune or manual override is active.
func (c *Controller) GatedStep() Step {
	return c.plan[c.idx]
}

// Active is the step enforcement currently runs under.
func (c *Controller) Active() Step {
	if c.manual {
		return StepManual
	}
	if c.retuning {
		return StepResonanceTuning
	}
	return c.plan[c.idx]
}

// Locked returns a copy of the locked-value ledger.
func (c *Controller) Locked() Locked {
	return c.locked.Clone()
}

// Complete reports whether the plan has reached its terminal step.
func (c *Controller) Complete() bool {
	return c.plan[c.idx] == StepComplete
}

// ManualActive reports whether an explicit override is in effect.
func (c *Controller) ManualActive() bool {
	return c.manual
}

// #endregion accessors

// #region validate
// Validate compares the candidate against the previous trial under the
// active step's allowed set. Parameters outside the set must be unchanged,
// except that moving one back onto its locked value is always legal: a
// step's best trial is not necessarily its last, so the next step starts
// from the locked ledger rather than from wherever the sweep ended.
// The manual step always passes.
func (c *Controller) Validate(candidate, previous params.DesignParams) error {
	active := c.Active()
	if active == StepManual {
		return nil
	}

	lockedRef := previous
	c.locked.Apply(&lockedRef)
	atLocked := make(map[string]bool, len(c.locked))
	for field := range c.locked {
		atLocked[field] = true
	}
	for _, d := range candidate.Diff(lockedRef) {
		delete(atLocked, d.Field)
	}

	allowed := allowedSet(active)
	for _, d := range candidate.Diff(previous) {
		if allowed[d.Field] || atLocked[d.Field] {
			continue
		}
		return &Violation{
			Step:    active,
			Param:   d.Field,
			Allowed: AllowedFields(active),
			Detail:  fmt.Sprintf("%s -> %s", d.Previous, d.Proposed),
		}
	}

	// Compensating re-tunes stay near the locked period; wild drift during
	// a non-period step confounds the swept parameter's result.
	if swept := sweptField(active); swept != "" && swept != params.FieldPeriodNM {
		if lockedPeriod, ok := c.locked[params.FieldPeriodNM]; ok {
			drift := math.Abs(candidate.Canon().PeriodNM - lockedPeriod)
			if drift > c.cfg.MaxPeriodDriftNM {
				return &Violation{
					Step:    active,
					Param:   params.FieldPeriodNM,
					Allowed: AllowedFields(active),
					Detail: fmt.Sprintf("re-tune limited to ±%.0fnm around locked %.0fnm, got %.1fnm",
						c.cfg.MaxPeriodDriftNM, lockedPeriod, candidate.PeriodNM),
				}
			}
		}
	}

	if active == StepFinePeriod {
		delta := candidate.Canon().PeriodNM - previous.Canon().PeriodNM
		if delta != 0 {
			if math.Abs(delta) > c.cfg.MaxFineStepNM {
				return &Violation{
					Step:    active,
					Param:   params.FieldPeriodNM,
					Allowed: AllowedFields(active),
					Detail:  fmt.Sprintf("fine scan moves at most %.0fnm per trial, got %.1fnm", c.cfg.MaxFineStepNM, delta),
				}
			}
			if delta != math.Round(delta) {
				return &Violation{
					Step:    active,
					Param:   params.FieldPeriodNM,
					Allowed: AllowedFields(active),
					Detail:  fmt.Sprintf("fine scan uses whole-nm deltas, got %.2fnm", delta),
				}
			}
		}
	}

	return nil
}

// #endregion validate

// #region observe
// Observe advances the state machine after a trial has been committed.
// It handles resonance re-entry, step completion, and the lock-and-advance
// transition, returning human-readable notes for the decision log.
func (c *Controller) Observe(history []Trial, targetNM float64) []string {
	if c.manual || len(history) == 0 {
		return nil
	}

	latest := history[len(history)-1]
	onTarget := latest.Success && c.withinTolerance(latest.ResonanceNM, targetNM)
	gated := c.plan[c.idx]

	// A locked-parameter shift that pushes resonance off target forces a
	// temporary return to resonance tuning without discarding progress.
	if !c.retuning && gated != StepResonanceTuning && gated != StepComplete && latest.Success && !onTarget {
		c.retuning = true
		return []string{fmt.Sprintf("resonance %.1fnm off %.1fnm target, period-only re-tune before resuming %s",
			latest.ResonanceNM, targetNM, gated)}
	}

	var notes []string
	if c.retuning {
		if !onTarget {
			return nil
		}
		c.retuning = false
		notes = append(notes, fmt.Sprintf("resonance restored at %.1fnm, resuming %s", latest.ResonanceNM, gated))
	}

	stepTrials := c.onTargetStepTrials(history, targetNM)
	if c.stepComplete(gated, stepTrials) {
		notes = append(notes, c.advance(stepTrials, latest.Iteration)...)
	}
	return notes
}

func (c *Controller) withinTolerance(resonanceNM, targetNM float64) bool {
	return math.Abs(resonanceNM-targetNM) <= c.cfg.ResonanceToleranceNM
}

// onTargetStepTrials filters history down to successful on-target trials
// belonging to the current step.
func (c *Controller) onTargetStepTrials(history []Trial, targetNM float64) []Trial {
	var out []Trial
	for _, t := range history {
		if t.Iteration <= c.stepStartIter {
			continue
		}
		if !t.Success || !c.withinTolerance(t.ResonanceNM, targetNM) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// #endregion observe

// #region completion
// stepComplete decides whether the step's local objective is satisfied:
// the candidate list is exhausted, or the swept parameter's effect on Q/V
// has stopped improving in both directions.
func (c *Controller) stepComplete(step Step, onTarget []Trial) bool {
	switch step {
	case StepResonanceTuning:
		return len(onTarget) >= 1

	case StepMinA:
		tried := make(map[float64]bool)
		for _, t := range onTarget {
			tried[t.Params.Canon().MinAPercent] = true
		}
		for _, want := range c.cfg.MinACandidates {
			if !tried[math.Round(want*100)/100] {
				return false
			}
		}
		return true

	case StepHoleRx:
		return peakBracketed(onTarget, func(t Trial) float64 {
			return math.Round(t.Params.HoleRxNM)
		})

	case StepHoleRy:
		return peakBracketed(onTarget, func(t Trial) float64 {
			return math.Round(t.Params.HoleRyNM)
		})

	case StepTaperHoles:
		tried := make(map[int]bool)
		for _, t := range onTarget {
			tried[t.Params.NumTaperHoles] = true
		}
		for _, want := range c.cfg.TaperCandidates {
			if !tried[want] {
				return false
			}
		}
		return true

	case StepFinePeriod:
		center, ok := c.locked[params.FieldPeriodNM]
		if !ok {
			return false
		}
		tried := make(map[float64]bool)
		for _, t := range onTarget {
			tried[math.Round(t.Params.PeriodNM)] = true
		}
		for _, off := range c.cfg.FinePeriodOffsets {
			if !tried[math.Round(center+off)] {
				return false
			}
		}
		return true
	}

	return false
}

// peakBracketed reports whether the best Q/V value has on-target neighbors
// on both sides, i.e. the sweep saw the quality drop in both directions.
func peakBracketed(onTarget []Trial, key func(Trial) float64) bool {
	bestQV := make(map[float64]float64)
	for _, t := range onTarget {
		k := key(t)
		if qv, ok := bestQV[k]; !ok || t.QV > qv {
			bestQV[k] = t.QV
		}
	}
	if len(bestQV) < 3 {
		return false
	}
	var peak float64
	var peakQV = math.Inf(-1)
	for k, qv := range bestQV {
		if qv > peakQV {
			peak, peakQV = k, qv
		}
	}
	var above, below bool
	for k := range bestQV {
		if k > peak {
			above = true
		}
		if k < peak {
			below = true
		}
	}
	return above && below
}

// #endregion completion

// #region advance
// advance locks every base parameter from the step's best on-target trial
// and moves to the next plan step. The best trial is carried into the new
// step's window so its value counts as already tried.
func (c *Controller) advance(onTarget []Trial, latestIter int) []string {
	var notes []string

	var best *Trial
	for i := range onTarget {
		if best == nil || onTarget[i].QV > best.QV {
			best = &onTarget[i]
		}
	}

	if best != nil {
		p := best.Params.Canon()
		c.locked[params.FieldPeriodNM] = math.Round(p.PeriodNM)
		c.locked[params.FieldHoleRxNM] = math.Round(p.HoleRxNM)
		c.locked[params.FieldHoleRyNM] = math.Round(p.HoleRyNM)
		c.locked[params.FieldMinAPercent] = p.MinAPercent
		c.locked[params.FieldNumTaperHoles] = float64(p.NumTaperHoles)
		notes = append(notes, fmt.Sprintf("locked %s from iteration %d (Q/V=%.0f)",
			c.locked, best.Iteration, best.QV))
	}

	from := c.plan[c.idx]
	if c.idx+1 < len(c.plan) {
		c.idx++
	}
	if best != nil {
		c.stepStartIter = best.Iteration - 1
	} else {
		c.stepStartIter = latestIter
	}
	notes = append(notes, fmt.Sprintf("step %s -> %s", from, c.plan[c.idx]))
	return notes
}

// #endregion advance

// #region manual
// BeginManual suspends enforcement for an explicit user-issued sweep.
func (c *Controller) BeginManual() {
	c.manual = true
}

// EndManual restores the prior gated step.
func (c *Controller) EndManual() {
	c.manual = false
}

// LockValue records a manually swept parameter's winning value in the
// ledger.
func (c *Controller) LockValue(field string, value float64) {
	c.locked[field] = value
}

// #endregion manual
