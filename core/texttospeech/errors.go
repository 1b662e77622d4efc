package texttospeech

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a synthesis failure reported by the engine.
type ErrorCode string

const (
	ErrorCodeCanceled             ErrorCode = "canceled"
	ErrorCodeInterrupted          ErrorCode = "interrupted"
	ErrorCodeNotAllowed           ErrorCode = "not-allowed"
	ErrorCodeNetwork              ErrorCode = "network"
	ErrorCodeSynthesisFailed      ErrorCode = "synthesis-failed"
	ErrorCodeAudioBusy            ErrorCode = "audio-busy"
	ErrorCodeSynthesisUnavailable ErrorCode = "synthesis-unavailable"
	ErrorCodeLanguageUnavailable  ErrorCode = "language-unavailable"
	ErrorCodeVoiceUnavailable     ErrorCode = "voice-unavailable"
	ErrorCodeTextTooLong          ErrorCode = "text-too-long"
	ErrorCodeInvalidArgument      ErrorCode = "invalid-argument"
)

// Benign reports whether the code is the expected result of a cancellation.
func (c ErrorCode) Benign() bool {
	return c == ErrorCodeCanceled || c == ErrorCodeInterrupted
}

// Transient reports whether retrying later may succeed.
func (c ErrorCode) Transient() bool {
	return c == ErrorCodeNetwork || c == ErrorCodeSynthesisFailed
}

// ErrUnsupported is reported when no synthesis engine is available.
var ErrUnsupported = errors.New("speech synthesis is not supported")

// SynthesisError is a non-benign failure of an utterance.
type SynthesisError struct {
	Code     ErrorCode
	Language string
}

func (e *SynthesisError) Error() string {
	switch {
	case e.Code == ErrorCodeNotAllowed:
		return "speech synthesis is not allowed: allow audio playback or initialize audio first"
	case e.Code.Transient():
		return fmt.Sprintf("speech synthesis hit a temporary problem (%s), try again shortly", e.Code)
	case e.Code == ErrorCodeAudioBusy:
		return "the audio device is busy, try again shortly"
	case e.Code == ErrorCodeSynthesisUnavailable:
		return "speech synthesis is currently unavailable, restart the audio engine"
	case e.Code == ErrorCodeLanguageUnavailable:
		return fmt.Sprintf("no voice is available for %s, check the system voice settings", e.Language)
	case e.Code == "":
		return "speech synthesis error: unknown error"
	default:
		return fmt.Sprintf("speech synthesis error: %s", e.Code)
	}
}

// NoVoiceError is the diagnostic recorded when the catalog has no voice for
// the target language.
type NoVoiceError struct {
	Language  string
	Available int
}

func (e *NoVoiceError) Error() string {
	return fmt.Sprintf("no %s voice found (%d voices available)", e.Language, e.Available)
}

// Hints lists remediation steps for platforms known to ship without the
// voice installed.
func (e *NoVoiceError) Hints() []string {
	return []string{
		fmt.Sprintf("macOS: add a %s voice under System Settings > Accessibility > Spoken Content", e.Language),
		fmt.Sprintf("Chrome: add %s under Settings > Languages and restart the browser", e.Language),
	}
}

// Diagnostic is the error with its hints, one per line.
func (e *NoVoiceError) Diagnostic() string {
	return e.Error() + "\n" + strings.Join(e.Hints(), "\n")
}
