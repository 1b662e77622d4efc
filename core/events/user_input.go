package events

const (
	// KindUserListeningStarted identifies the start of a recognition session.
	KindUserListeningStarted Kind = "user_input.listening_started"
	// KindUserTranscriptInterimUpdated identifies mutable interim transcript updates.
	KindUserTranscriptInterimUpdated Kind = "user_input.transcript_interim_updated"
	// KindUserTranscriptSegment identifies finalized append-only transcript segments.
	KindUserTranscriptSegment Kind = "user_input.transcript_segment"
	// KindUserListeningEnded identifies the end of a recognition session.
	KindUserListeningEnded Kind = "user_input.listening_ended"
	// KindUserInputFailed identifies a recognition engine failure.
	KindUserInputFailed Kind = "user_input.failed"
)

// UserListeningStarted marks when the recognition session becomes live.
type UserListeningStarted struct{ Base }

// NewUserListeningStarted creates a listening started event.
func NewUserListeningStarted() UserListeningStarted {
	return UserListeningStarted{Base: NewBase(KindUserListeningStarted)}
}

// UserTranscriptInterimUpdated carries the interim text of the current utterance.
type UserTranscriptInterimUpdated struct {
	Base
	Transcript string
}

// NewUserTranscriptInterimUpdated creates an interim transcript update event.
func NewUserTranscriptInterimUpdated(transcript string) UserTranscriptInterimUpdated {
	return UserTranscriptInterimUpdated{Base: NewBase(KindUserTranscriptInterimUpdated), Transcript: transcript}
}

// UserTranscriptSegment carries a finalized transcript segment.
type UserTranscriptSegment struct {
	Base
	Segment string
}

// NewUserTranscriptSegment creates a finalized transcript segment event.
func NewUserTranscriptSegment(segment string) UserTranscriptSegment {
	return UserTranscriptSegment{Base: NewBase(KindUserTranscriptSegment), Segment: segment}
}

// UserListeningEnded marks the end of a recognition session.
type UserListeningEnded struct {
	Base
	// Transcript is the accumulated final transcript, empty when the session
	// ended without final speech.
	Transcript string
}

// NewUserListeningEnded creates a listening ended event.
func NewUserListeningEnded(transcript string) UserListeningEnded {
	return UserListeningEnded{Base: NewBase(KindUserListeningEnded), Transcript: transcript}
}

// UserInputFailed carries a recognition failure.
type UserInputFailed struct {
	Base
	Err error
}

// NewUserInputFailed creates a recognition failure event.
func NewUserInputFailed(err error) UserInputFailed {
	return UserInputFailed{Base: NewBase(KindUserInputFailed), Err: err}
}
