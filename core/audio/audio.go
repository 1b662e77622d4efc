// Package audio describes the local audio devices used by the speech engines.
package audio

import "context"

// Input captures microphone audio in the encoding it reports.
type Input interface {
	EncodingInfo() EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// Output plays raw audio in the encoding it reports.
type Output interface {
	EncodingInfo() EncodingInfo
	SendAudio(audio []byte) error
	// ClearBuffer drops queued audio and fires no pending marks.
	ClearBuffer()
	// Mark calls callback once everything queued so far has been played.
	Mark(name string, callback func(name string)) error
}
