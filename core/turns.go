package orchestration

// TurnState is the phase of the turn-taking cycle.
type TurnState int

const (
	TurnStateIdle TurnState = iota
	TurnStateListening
	TurnStateSending
	TurnStateStreaming
	TurnStateSpeaking
)

func (s TurnState) String() string {
	switch s {
	case TurnStateIdle:
		return "idle"
	case TurnStateListening:
		return "listening"
	case TurnStateSending:
		return "sending"
	case TurnStateStreaming:
		return "streaming"
	case TurnStateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

func parseTurnState(value string) TurnState {
	for _, state := range []TurnState{TurnStateIdle, TurnStateListening, TurnStateSending, TurnStateStreaming, TurnStateSpeaking} {
		if state.String() == value {
			return state
		}
	}
	return TurnStateIdle
}
