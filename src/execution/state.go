package execution

// State is the lifecycle phase of the manager.
type State int

const (
	// StateIdle means no live instance is adopted.
	StateIdle State = iota
	// StateEvaluating is a tick or switch check in progress.
	StateEvaluating
	// StateArmed means a live instance is adopted and its orders are mirrored.
	StateArmed
	// StateSettling is cancelling and closing on the exchange after a switch, recenter or death.
	StateSettling
)

func (s State) String() string {
	switch s {
	case StateEvaluating:
		return "evaluating"
	case StateArmed:
		return "armed"
	case StateSettling:
		return "settling"
	}
	return "idle"
}
