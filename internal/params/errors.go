package params

import (
	"errors"
	"fmt"
)

// #region errors
var (
	// ErrNotConfigured is returned when an operation needs a confirmed
	// unit cell and none exists.
	ErrNotConfigured = errors.New("unit cell not configured")
	// ErrAlreadyConfirmed is returned on reconfigure attempts after
	// confirmation; an explicit Reset is required first.
	ErrAlreadyConfirmed = errors.New("unit cell already confirmed")
)

// ValidationError reports a configuration field outside its declared domain.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// #endregion errors
