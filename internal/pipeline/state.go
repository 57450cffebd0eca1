package pipeline

// State is a stage of the audit state machine.
type State string

const (
	StateIdle             State = "Idle"
	StateInitializing     State = "Initializing"
	StateFetchingMetadata State = "FetchingMetadata"
	StateFetchingTree     State = "FetchingTree"
	StateParsing          State = "Parsing"
	StateAuditing         State = "Auditing"
	StateFinalizing       State = "Finalizing"
	StateComplete         State = "Complete"
	StateFailed           State = "Failed"
)

// order is the only legal forward path; Failed is reachable from any
// non-terminal state.
var order = []State{
	StateIdle,
	StateInitializing,
	StateFetchingMetadata,
	StateFetchingTree,
	StateParsing,
	StateAuditing,
	StateFinalizing,
	StateComplete,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for i := 0; i < len(order)-1; i++ {
		if order[i] == from {
			return order[i+1] == to
		}
	}
	return false
}
