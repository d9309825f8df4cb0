package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/history"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/logging"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/session"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/simbridge"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/sweep"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/target"
)

// #region types
// Interaction is one recorded evaluation request plus the simulation result
// the sidecar returned for it.
type Interaction struct {
	Label     string
	Candidate session.Candidate
	Sim       SimResult
}

// SimResult scripts the sidecar's answer for one turn.
type SimResult struct {
	Q           float64
	V           float64
	ResonanceNM float64
	FailLayout  bool
	FailFDTD    bool
}

// Result captures the controller's decision for one replayed interaction.
type Result struct {
	Label     string
	Action    logging.Action
	Reason    string
	Iteration int
	Phase     target.Phase
	OnTarget  bool
	Step      sweep.Step
}

// Summary aggregates a replay run.
type Summary struct {
	TotalTurns       int
	Commits          int
	EnforceRejects   int
	DuplicateRejects int
	SimFailures      int
	FinalStep        sweep.Step
	Best             *history.DesignRecord
}

// #endregion types

// #region scripted-simulator
// ScriptedSimulator answers with preloaded results instead of calling the
// sidecar. Replay sets the next result before each turn.
type ScriptedSimulator struct {
	next SimResult
}

// Set loads the result for the next simulation.
func (s *ScriptedSimulator) Set(r SimResult) {
	s.next = r
}

func (s *ScriptedSimulator) BuildLayout(_ context.Context, _ params.UnitCell, _ params.DesignParams) (simbridge.Layout, error) {
	if s.next.FailLayout {
		return simbridge.Layout{}, &simbridge.SimulationError{Stage: simbridge.StageLayout, Detail: "scripted layout failure"}
	}
	return simbridge.Layout{GDSPath: "replay://layout.gds"}, nil
}

func (s *ScriptedSimulator) RunFDTD(_ context.Context, _ params.UnitCell, _ params.DesignParams, _ simbridge.Layout) (simbridge.Metrics, error) {
	if s.next.FailFDTD {
		return simbridge.Metrics{}, &simbridge.SimulationError{Stage: simbridge.StageFDTD, Detail: "scripted fdtd failure"}
	}
	return simbridge.Metrics{Q: s.next.Q, V: s.next.V, ResonanceNM: s.next.ResonanceNM}, nil
}

// #endregion scripted-simulator

// #region replay
// Replay drives the full protocol over a scripted session entirely
// in-memory: enforcement, duplicate detection, history, and step
// transitions all run for real; only the simulator is canned.
func Replay(cell params.UnitCellInput, interactions []Interaction, opts session.Options) ([]Result, Summary, error) {
	store, err := history.NewStore(":memory:")
	if err != nil {
		return nil, Summary{}, fmt.Errorf("replay store: %w", err)
	}
	defer store.Close()

	sim := &ScriptedSimulator{}
	ctrl, err := session.New(store, sim, opts)
	if err != nil {
		return nil, Summary{}, err
	}
	if _, err := ctrl.ConfigureUnitCell(cell); err != nil {
		return nil, Summary{}, err
	}
	if _, err := ctrl.ConfirmUnitCell(); err != nil {
		return nil, Summary{}, err
	}

	results := make([]Result, 0, len(interactions))
	summary := Summary{TotalTurns: len(interactions)}

	for _, inter := range interactions {
		sim.Set(inter.Sim)
		out, evalErr := ctrl.EvaluateDesign(context.Background(), inter.Candidate)

		res := Result{Label: inter.Label}
		var viol *sweep.Violation
		var dup *session.DuplicateTrialError
		var simErr *simbridge.SimulationError
		switch {
		case evalErr == nil:
			res.Action = logging.ActionAccept
			res.Reason = out.Status.Message
			res.Iteration = out.Record.Iteration
			res.Phase = out.Status.Phase
			res.OnTarget = out.Status.OnTarget
			summary.Commits++

		case errors.As(evalErr, &viol):
			res.Action = logging.ActionEnforceReject
			res.Reason = viol.Error()
			summary.EnforceRejects++

		case errors.As(evalErr, &dup):
			res.Action = logging.ActionDuplicateReject
			res.Reason = dup.Error()
			res.Iteration = dup.Iteration
			summary.DuplicateRejects++

		case errors.As(evalErr, &simErr):
			res.Action = logging.ActionSimFailure
			res.Reason = simErr.Error()
			res.Iteration = out.Record.Iteration
			summary.SimFailures++

		default:
			return results, summary, fmt.Errorf("turn %s: %w", inter.Label, evalErr)
		}

		step, err := ctrl.ActiveStep()
		if err != nil {
			return results, summary, err
		}
		res.Step = step
		results = append(results, res)
	}

	step, err := ctrl.ActiveStep()
	if err != nil {
		return results, summary, err
	}
	summary.FinalStep = step
	if best, ok, _ := ctrl.BestDesign(); ok {
		summary.Best = &best
	}
	return results, summary, nil
}

// #endregion replay
