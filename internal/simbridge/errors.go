package simbridge

import "fmt"

// #region simulation-error
// Stage names which collaborator failed.
const (
	StageLayout = "layout"
	StageFDTD   = "fdtd"
)

// SimulationError is a failure of the external layout or simulation
// collaborator. It is the only error class that still produces a recorded
// trial (success=false with the diagnostic detail).
type SimulationError struct {
	Stage  string
	Detail string
	Cause  error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Detail)
}

func (e *SimulationError) Unwrap() error {
	return e.Cause
}

// #endregion simulation-error
