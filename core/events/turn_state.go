package events

// KindTurnStateChanged identifies orchestrator state transitions.
const KindTurnStateChanged Kind = "turn_state.changed"

// TurnStateChanged marks a transition of the turn-taking state machine.
type TurnStateChanged struct {
	Base
	From string
	To   string
}

// NewTurnStateChanged creates a turn state changed event.
func NewTurnStateChanged(from, to string) TurnStateChanged {
	return TurnStateChanged{Base: NewBase(KindTurnStateChanged), From: from, To: to}
}
