package history

import (
	"fmt"
	"time"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/sweep"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/target"
)

// #region design-record
// DesignRecord is one completed trial: the full parameter snapshot plus the
// measured metrics. Records are append-only and never mutated; a failed
// simulation still produces a record with Success=false and the diagnostic
// detail.
type DesignRecord struct {
	Iteration         int
	CreatedAt         time.Time
	Params            params.DesignParams
	Q                 float64
	V                 float64
	QV                float64
	ResonanceNM       float64
	PhaseAtEvaluation target.Phase // phase in effect before this trial ran
	Success           bool
	Detail            string
}

// TrialView converts the record into the slice the sweep logic consumes.
func (r DesignRecord) TrialView() sweep.Trial {
	return sweep.Trial{
		Iteration:   r.Iteration,
		Params:      r.Params,
		Q:           r.Q,
		QV:          r.QV,
		ResonanceNM: r.ResonanceNM,
		Success:     r.Success,
	}
}

// Summary is the compact line used by history listings.
func (r DesignRecord) Summary() string {
	p := r.Params.Canon()
	if !r.Success {
		return fmt.Sprintf("#%d FAILED p=%.0f rx=%.0f ry=%.0f a=%g%% taper=%d: %s",
			r.Iteration, p.PeriodNM, p.HoleRxNM, p.HoleRyNM, p.MinAPercent, p.NumTaperHoles, r.Detail)
	}
	return fmt.Sprintf("#%d p=%.0f rx=%.0f ry=%.0f a=%g%% taper=%d -> Q=%.0f V=%.3f Q/V=%.0f res=%.1fnm [%s]",
		r.Iteration, p.PeriodNM, p.HoleRxNM, p.HoleRyNM, p.MinAPercent, p.NumTaperHoles,
		r.Q, r.V, r.QV, r.ResonanceNM, r.PhaseAtEvaluation)
}

// #endregion design-record

// #region session
// Session identifies one optimization session, keyed by the confirmed
// unit-cell configuration.
type Session struct {
	Key       string
	ID        string
	Cell      params.UnitCell
	CreatedAt time.Time
	Resumed   bool
}

// SessionInfo is the listing row for stored sessions.
type SessionInfo struct {
	Key       string
	ID        string
	Cell      params.UnitCell
	CreatedAt time.Time
	Trials    int
}

// #endregion session

// #region corrupt-state
// CorruptStateError marks unreadable persisted state. The controller fails
// fast rather than guessing at partial history.
type CorruptStateError struct {
	SessionKey string
	Cause      error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt session state %s: %v", e.SessionKey, e.Cause)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Cause
}

// #endregion corrupt-state
