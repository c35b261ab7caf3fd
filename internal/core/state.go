package core

var transitions = map[State][]State{
	StateQueued:      {StateDownloading, StatePaused, StateCancelled},
	StateDownloading: {StateCompleted, StatePaused, StateCancelled, StateQueued, StateFailed},
	StatePaused:      {StateQueued, StateCancelled},
	StateFailed:      {StateQueued},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
