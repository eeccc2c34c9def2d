package dialog

import "errors"

// ErrDialogDead is returned when an operation targets a dialog in the
// terminal or dead state.
var ErrDialogDead = errors.New("dialog: no further activity permitted")

// RunState is a dialog's driving state. Values are the wire strings.
type RunState string

const (
	// StateIdleWaitingUser is the initial state: not driving, waiting
	// for the next user prompt.
	StateIdleWaitingUser RunState = "idle_waiting_user"
	// StateProceeding means a driver is active (LLM stream in flight).
	StateProceeding RunState = "proceeding"
	// StateProceedingStopRequested means the user asked to stop; the
	// driver winds down at the next chunk boundary.
	StateProceedingStopRequested RunState = "proceeding_stop_requested"
	// StateInterrupted is a drive aborted cleanly by user request.
	StateInterrupted RunState = "interrupted"
	// StateBlocked means the drive completed but a continuation
	// condition is unmet (see BlockReason).
	StateBlocked RunState = "blocked"
	// StateTerminal means the task was accepted as done.
	StateTerminal RunState = "terminal"
	// StateDead means an unrecoverable error or explicit delete.
	StateDead RunState = "dead"
)

// BlockReason qualifies StateBlocked.
type BlockReason string

const (
	BlockNeedsHumanInput              BlockReason = "needs_human_input"
	BlockWaitingForSubdialogs         BlockReason = "waiting_for_subdialogs"
	BlockNeedsHumanInputAndSubdialogs BlockReason = "needs_human_input_and_subdialogs"
)

// validTransitions is the run-state transition table. Dead is
// absorbing; any non-dead state may fall into it on fatal error.
var validTransitions = map[RunState][]RunState{
	StateIdleWaitingUser:         {StateProceeding, StateTerminal},
	StateProceeding:              {StateProceeding, StateProceedingStopRequested, StateInterrupted, StateBlocked, StateIdleWaitingUser, StateTerminal},
	StateProceedingStopRequested: {StateInterrupted},
	StateInterrupted:             {StateProceeding, StateTerminal},
	StateBlocked:                 {StateProceeding, StateBlocked, StateTerminal},
	StateTerminal:                {},
	StateDead:                    {},
}

// CanTransition reports whether from → to is a legal run-state move.
func CanTransition(from, to RunState) bool {
	if from == StateDead {
		return false
	}
	if to == StateDead {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
