package dispatch

// State tracks where a dispatcher run is for one conversation.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"

	// Per-batch outcomes; each returns to draining (loop) or idle (stop).
	StateCompleted State = "completed"
	StateRetrying  State = "retrying"
	StateDropped   State = "dropped"
)

// ValidTransitions defines the drain loop's allowed state changes.
var ValidTransitions = map[State][]State{
	StateIdle:      {StateDraining},
	StateDraining:  {StateCompleted, StateRetrying, StateDropped, StateIdle},
	StateCompleted: {StateDraining, StateIdle},
	StateRetrying:  {StateIdle},
	StateDropped:   {StateDraining, StateIdle},
}

// CanTransitionTo checks whether moving to target is allowed.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s State) String() string {
	return string(s)
}
