package composer

// State represents the lifecycle state of a composition session.
type State string

const (
	// StateUninitialized is the initial state before an engine exists.
	StateUninitialized State = "uninitialized"
	// StatePreparing indicates the canvas-bound engine is being built.
	StatePreparing State = "preparing"
	// StateSourceBound indicates a source node is bound but not loaded.
	StateSourceBound State = "source_bound"
	// StateReady indicates the source is loaded and transport is live.
	StateReady State = "ready"
	// StatePlaying indicates playback is running.
	StatePlaying State = "playing"
	// StatePaused indicates playback is halted at the playhead.
	StatePaused State = "paused"
	// StateError indicates an engine failure; the session must be torn
	// down and rebuilt.
	StateError State = "error"
	// StateDisposed is the terminal state after Dispose.
	StateDisposed State = "disposed"
)

// validTransitions defines the forward transitions of the session
// state machine. Error and Disposed are handled separately: Error is
// reachable from any non-terminal state, Disposed from any state.
var validTransitions = map[State][]State{
	StateUninitialized: {StatePreparing},
	StatePreparing:     {StateSourceBound},
	StateSourceBound:   {StateReady},
	StateReady:         {StatePlaying, StatePaused},
	StatePlaying:       {StatePaused},
	StatePaused:        {StatePlaying},
	StateError:         {},
	StateDisposed:      {},
}

// IsTerminal returns true if no further transitions are possible
// except disposal.
func (s State) IsTerminal() bool {
	return s == StateError || s == StateDisposed
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	if to == StateDisposed {
		return true
	}
	if to == StateError {
		return !from.IsTerminal()
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
