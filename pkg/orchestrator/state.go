package orchestrator

// State is a stage of a run.
type State int

// Run states in order. Any non-terminal state may move to StateFailed.
const (
	StateIdle State = iota
	StateRouteRequested
	StateBridgeExecuting
	StateBridgeSettled
	StatePlanning
	StateQuoting
	StateBatchBuilding
	StateBatchSubmitted
	StateConfirmed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "Idle",
	StateRouteRequested:  "RouteRequested",
	StateBridgeExecuting: "BridgeExecuting",
	StateBridgeSettled:   "BridgeSettled",
	StatePlanning:        "Planning",
	StateQuoting:         "Quoting",
	StateBatchBuilding:   "BatchBuilding",
	StateBatchSubmitted:  "BatchSubmitted",
	StateConfirmed:       "Confirmed",
	StateFailed:          "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// canTransition allows the forward path, the skip-bridge shortcut from Idle and
// failure from any live state.
func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	switch {
	case to == StateFailed:
		return true
	case from == StateIdle && to == StateBridgeSettled:
		return true
	default:
		return to == from+1
	}
}
