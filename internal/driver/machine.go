package driver

import "github.com/fastfinge/supertonic-nvda/internal/ttypes"

// stateMachine guards the driver's lifecycle transitions. Not safe for
// concurrent use; the driver serializes access under its own lock.
type stateMachine struct {
	current     ttypes.State
	transitions map[ttypes.State][]ttypes.State
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: ttypes.StateIdle,
		transitions: map[ttypes.State][]ttypes.State{
			ttypes.StateIdle:         {ttypes.StateSynthesizing},
			ttypes.StateSynthesizing: {ttypes.StateIdle, ttypes.StatePaused},
			ttypes.StatePaused:       {ttypes.StateSynthesizing, ttypes.StateIdle},
		},
	}
}

// transition moves to the target state if the move is legal.
func (m *stateMachine) transition(to ttypes.State) bool {
	for _, allowed := range m.transitions[m.current] {
		if allowed == to {
			m.current = to
			return true
		}
	}
	return false
}

func (m *stateMachine) state() ttypes.State {
	return m.current
}
