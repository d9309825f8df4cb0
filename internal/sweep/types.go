package sweep

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
)

// #region step
// Step is one stage of the phase-gated sweep protocol. Exactly one step is
// active at any time.
type Step string

const (
	StepResonanceTuning Step = "resonance_tuning"
	StepMinA            Step = "min_a"
	StepHoleRx          Step = "hole_rx"
	StepHoleRy          Step = "hole_ry"
	StepTaperHoles      Step = "taper_holes"
	StepFinePeriod      Step = "fine_period"
	StepManual          Step = "manual"
	StepComplete        Step = "complete"
)

// #endregion step

// #region plan
// Plan is the injected ordered step sequence for a session. The canonical
// order is deliberately configuration, not a constant; re-sweep passes are
// expressed by listing a step more than once.
type Plan []Step

// DefaultPlan mirrors the protocol revision currently in use: tune
// resonance, then chirp depth, hole radii, taper count, and a fine period
// scan.
func DefaultPlan() Plan {
	return Plan{
		StepResonanceTuning,
		StepMinA,
		StepHoleRx,
		StepHoleRy,
		StepTaperHoles,
		StepFinePeriod,
		StepComplete,
	}
}

// Validate checks the plan is usable: starts with resonance tuning, ends
// with complete, and contains only gated steps in between.
func (p Plan) Validate() error {
	if len(p) < 2 {
		return fmt.Errorf("plan needs at least resonance_tuning and complete, got %d steps", len(p))
	}
	if p[0] != StepResonanceTuning {
		return fmt.Errorf("plan must start with %s, got %s", StepResonanceTuning, p[0])
	}
	if p[len(p)-1] != StepComplete {
		return fmt.Errorf("plan must end with %s, got %s", StepComplete, p[len(p)-1])
	}
	for _, s := range p[1 : len(p)-1] {
		switch s {
		case StepMinA, StepHoleRx, StepHoleRy, StepTaperHoles, StepFinePeriod:
		default:
			return fmt.Errorf("step %s not allowed inside a plan", s)
		}
	}
	return nil
}

// #endregion plan

// #region allowed-sets
// sweptField returns the single parameter a gated step sweeps.
func sweptField(s Step) string {
	switch s {
	case StepResonanceTuning, StepFinePeriod:
		return params.FieldPeriodNM
	case StepMinA:
		return params.FieldMinAPercent
	case StepHoleRx:
		return params.FieldHoleRxNM
	case StepHoleRy:
		return params.FieldHoleRyNM
	case StepTaperHoles:
		return params.FieldNumTaperHoles
	}
	return ""
}

// AllowedFields returns the parameters permitted to differ from the
// previous trial while s is active. Every gated step also permits a
// compensating period re-tune.
func AllowedFields(s Step) []string {
	switch s {
	case StepManual:
		return params.SweepableFields()
	case StepComplete:
		return nil
	}
	swept := sweptField(s)
	if swept == "" {
		return nil
	}
	if swept == params.FieldPeriodNM {
		return []string{params.FieldPeriodNM}
	}
	return []string{swept, params.FieldPeriodNM}
}

func allowedSet(s Step) map[string]bool {
	set := make(map[string]bool)
	for _, f := range AllowedFields(s) {
		set[f] = true
	}
	return set
}

// #endregion allowed-sets

// #region locked
// Locked is the per-parameter locked value ledger, kept separate from the
// transient allowed set so a forced resonance re-tune never erases progress
// already made in earlier steps. Keys are params field names.
type Locked map[string]float64

// Apply overwrites p's fields with every locked value.
func (l Locked) Apply(p *params.DesignParams) {
	for name, v := range l {
		p.SetField(name, v)
	}
}

// Clone returns an independent copy.
func (l Locked) Clone() Locked {
	out := make(Locked, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

func (l Locked) String() string {
	if len(l) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, l[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// #endregion locked

// #region trial-view
// Trial is the slice of a committed design record the step logic needs.
// The history package converts its records into this view.
type Trial struct {
	Iteration   int
	Params      params.DesignParams
	Q           float64
	QV          float64
	ResonanceNM float64
	Success     bool
}

// #endregion trial-view

// #region violation
// Violation is the enforcement guard's rejection: a candidate changed a
// parameter outside the active step's allowed set. It names the offending
// field and the allowed set so the caller can self-correct.
type Violation struct {
	Step    Step
	Param   string
	Allowed []string
	Detail  string
}

func (e *Violation) Error() string {
	msg := fmt.Sprintf("step %s forbids changing %s (allowed: %s)",
		e.Step, e.Param, strings.Join(e.Allowed, ", "))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// #endregion violation

// #region config
// Config holds the candidate lists and clamps that drive step completion
// and the compensating re-tune bounds.
type Config struct {
	MinACandidates       []float64 // chirp depths a min_a pass must cover
	TaperCandidates      []int     // taper counts a taper pass must cover
	FinePeriodOffsets    []float64 // nm offsets around the locked period
	MaxPeriodDriftNM     float64   // re-tune clamp during non-period steps
	MaxFineStepNM        float64   // largest per-trial delta in fine_period
	ResonanceToleranceNM float64   // on-target window for completion checks
}

// DefaultConfig returns the candidate lists from the current protocol
// revision.
func DefaultConfig() Config {
	return Config{
		MinACandidates:       []float64{90, 89, 88, 87},
		TaperCandidates:      []int{8, 10, 12},
		FinePeriodOffsets:    []float64{-2, -1, 0, 1, 2},
		MaxPeriodDriftNM:     15,
		MaxFineStepNM:        3,
		ResonanceToleranceNM: 5,
	}
}

// #endregion config

// #region state
// State is the durable snapshot of the controller, flushed after every
// transition so a restart resumes at the last committed step.
type State struct {
	Plan          Plan   `json:"plan"`
	PlanIndex     int    `json:"plan_index"`
	Retuning      bool   `json:"retuning"`
	StepStartIter int    `json:"step_start_iter"`
	Locked        Locked `json:"locked"`
}

// #endregion state
