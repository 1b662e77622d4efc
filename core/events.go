package orchestration

import "github.com/koscakluka/ema-talk/core/events"

// Commands and engine results the loop consumes alongside controller events.
// They never reach the callbacks.
const (
	kindSendRequested   events.Kind = "orchestrator.send_requested"
	kindStreamFragment  events.Kind = "orchestrator.stream_fragment"
	kindStreamCompleted events.Kind = "orchestrator.stream_completed"
	kindStreamFailed    events.Kind = "orchestrator.stream_failed"
	kindMounted         events.Kind = "orchestrator.mounted"
	kindRelistenDue     events.Kind = "orchestrator.relisten_due"
	kindMicToggled      events.Kind = "orchestrator.mic_toggled"
	kindClearRequested  events.Kind = "orchestrator.clear_requested"
	kindBarrier         events.Kind = "orchestrator.barrier"
	kindListenFailed    events.Kind = "orchestrator.listen_failed"
	kindSpeakFailed     events.Kind = "orchestrator.speak_failed"
)

type sendRequested struct {
	events.Base
	content string
}

type streamFragment struct {
	events.Base
	request  uint64
	fragment string
}

type streamCompleted struct {
	events.Base
	request uint64
}

type streamFailed struct {
	events.Base
	request uint64
	err     error
}

type mounted struct{ events.Base }

type relistenDue struct {
	events.Base
	generation uint64
}

// listenFailed reports that the listening attempt with the given generation
// could not start.
type listenFailed struct {
	events.Base
	generation uint64
	err        error
}

// speakFailed reports that the reply with the given generation was rejected
// by speech output.
type speakFailed struct {
	events.Base
	generation uint64
	err        error
}

type micToggled struct{ events.Base }

type clearRequested struct{ events.Base }

// barrier is closed by the loop when it is reached, which lets callers wait
// until everything queued before it has been handled.
type barrier struct {
	events.Base
	reached chan struct{}
}

func isInternal(event events.Event) bool {
	switch event.(type) {
	case sendRequested, streamFragment, streamCompleted, streamFailed, mounted,
		relistenDue, micToggled, clearRequested, barrier, listenFailed, speakFailed:
		return true
	}
	return false
}
