package block

// Phase is a block's lifecycle state.
type Phase string

const (
	PhaseDiscovered Phase = "discovered"
	PhaseRegistered Phase = "registered"
	PhaseIdle       Phase = "idle"
	PhaseConnected  Phase = "connected"
	PhaseExecuting  Phase = "executing"
	PhaseError      Phase = "error"
	PhaseDisposed   Phase = "disposed"
)

var transitions = map[Phase][]Phase{
	PhaseDiscovered: {PhaseRegistered, PhaseError, PhaseDisposed},
	PhaseRegistered: {PhaseIdle, PhaseConnected, PhaseError, PhaseDisposed},
	PhaseConnected:  {PhaseExecuting, PhaseIdle, PhaseError, PhaseDisposed},
	PhaseIdle:       {PhaseExecuting, PhaseConnected, PhaseError, PhaseDisposed},
	PhaseExecuting:  {PhaseExecuting, PhaseIdle, PhaseError, PhaseDisposed},
	PhaseError:      {PhaseDisposed},
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool { return p == PhaseDisposed }

// canRun reports whether a run may start from p.
func (p Phase) canRun() bool {
	return p == PhaseIdle || p == PhaseConnected || p == PhaseExecuting
}
