package composer

import (
	"errors"
	"fmt"
)

// Static errors for bridge operations.
var (
	// ErrEngineConstruction is returned when the canvas-bound engine
	// could not be instantiated. Fatal for the session.
	ErrEngineConstruction = errors.New("composer: engine construction failed")
	// ErrSourceCreation is returned when the engine could not bind a
	// source node to a handle. Retryable by rebuilding the session.
	ErrSourceCreation = errors.New("composer: source creation failed")
	// ErrInvalidState is returned when an operation is not valid in
	// the session's current state.
	ErrInvalidState = errors.New("composer: operation not valid in current state")
	// ErrExportUnsupported is returned when the engine cannot render
	// frame exports.
	ErrExportUnsupported = errors.New("composer: engine does not support frame export")
)

// EngineError is the normalized form of any engine-reported failure.
// The bridge never lets raw engine errors escape unwrapped.
type EngineError struct {
	// State is the session state in which the failure occurred.
	State State
	// Err is the underlying engine error.
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("composer: engine error in state %s: %v", e.State, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
