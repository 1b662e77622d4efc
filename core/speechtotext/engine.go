package speechtotext

import (
	"errors"
	"fmt"
)

// Recognition error codes reported by engines.
const (
	ErrorCodeNoSpeech             = "no-speech"
	ErrorCodeAborted              = "aborted"
	ErrorCodeAudioCapture         = "audio-capture"
	ErrorCodeNetwork              = "network"
	ErrorCodeNotAllowed           = "not-allowed"
	ErrorCodeServiceNotAllowed    = "service-not-allowed"
	ErrorCodeLanguageNotSupported = "language-not-supported"
)

var (
	// ErrUnsupported is reported when no recognition engine is available.
	ErrUnsupported = errors.New("speech recognition is not supported")
	// ErrAlreadyListening is returned when a session is already active.
	ErrAlreadyListening = errors.New("speech recognition is already listening")
)

// RecognitionError is a failure reported by the engine during a session.
type RecognitionError struct {
	Code string
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("speech recognition error: %s", e.Code)
}

// Result is one recognition hypothesis. Final results are committed to the
// transcript; interim ones are only previews.
type Result struct {
	Transcript string
	Confidence float64
	Final      bool
}

// RecognitionHandlers are bound to a single listening session.
type RecognitionHandlers struct {
	OnStart  func()
	OnResult func(results []Result)
	OnError  func(code string)
	OnEnd    func()
}

// RecognitionEngine is a single-session recognizer. Start begins a session
// that reports through handlers; Stop requests the session to end, which the
// engine confirms through OnEnd.
type RecognitionEngine interface {
	Start(handlers RecognitionHandlers) error
	Stop() error
}

// Config is handed to an EngineFactory when the engine is first needed.
type Config struct {
	Language       string
	InterimResults bool
	Continuous     bool
}

// EngineFactory constructs the platform recognition engine.
type EngineFactory func(config Config) (RecognitionEngine, error)
