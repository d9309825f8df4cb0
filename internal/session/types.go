package session

import (
	"context"
	"fmt"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/history"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/simbridge"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/sweep"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/target"
)

// #region simulator
// Simulator abstracts the external layout and FDTD collaborators. The
// production implementation is the simbridge gRPC client; tests inject a
// scripted one.
type Simulator interface {
	BuildLayout(ctx context.Context, cell params.UnitCell, p params.DesignParams) (simbridge.Layout, error)
	RunFDTD(ctx context.Context, cell params.UnitCell, p params.DesignParams, layout simbridge.Layout) (simbridge.Metrics, error)
}

// #endregion simulator

// #region candidate
// Candidate is one evaluation request from the reasoning loop. Zero-valued
// fields fall back to the locked ledger, then the previous trial, then the
// unit cell; the enforcement guard judges the fully resolved snapshot.
type Candidate struct {
	PeriodNM       float64
	WgWidthNM      float64
	HoleRxNM       float64
	HoleRyNM       float64
	NumTaperHoles  int
	NumMirrorHoles int
	MinAPercent    float64
	MinRxPercent   float64
	MinRyPercent   float64
	Hypothesis     string
}

// overlay writes the candidate's provided fields onto base.
func (c Candidate) overlay(base params.DesignParams) params.DesignParams {
	if c.PeriodNM > 0 {
		base.PeriodNM = c.PeriodNM
	}
	if c.WgWidthNM > 0 {
		base.WgWidthNM = c.WgWidthNM
	}
	if c.HoleRxNM > 0 {
		base.HoleRxNM = c.HoleRxNM
	}
	if c.HoleRyNM > 0 {
		base.HoleRyNM = c.HoleRyNM
	}
	if c.NumTaperHoles > 0 {
		base.NumTaperHoles = c.NumTaperHoles
	}
	if c.NumMirrorHoles > 0 {
		base.NumMirrorHoles = c.NumMirrorHoles
	}
	if c.MinAPercent > 0 {
		base.MinAPercent = c.MinAPercent
	}
	if c.MinRxPercent > 0 {
		base.MinRxPercent = c.MinRxPercent
	}
	if c.MinRyPercent > 0 {
		base.MinRyPercent = c.MinRyPercent
	}
	return base
}

// #endregion candidate

// #region outcome
// Outcome bundles everything the reasoning loop needs after a trial: the
// committed record, the phase verdict, and the protocol position.
type Outcome struct {
	Record  history.DesignRecord
	Status  target.Status
	Step    sweep.Step
	Locked  sweep.Locked
	IsBest  bool
	Resumed bool
}

// #endregion outcome

// #region duplicate-error
// DuplicateTrialError rejects a candidate that exactly matches a prior
// trial, carrying the matching iteration and its cached result so the
// caller can use it instead of re-simulating.
type DuplicateTrialError struct {
	Iteration   int
	Q           float64
	V           float64
	QV          float64
	ResonanceNM float64
}

func (e *DuplicateTrialError) Error() string {
	return fmt.Sprintf("duplicate of iteration %d (Q=%.0f V=%.3f Q/V=%.0f res=%.1fnm), not re-simulated",
		e.Iteration, e.Q, e.V, e.QV, e.ResonanceNM)
}

// #endregion duplicate-error
