// Package framing recovers complete JSON objects from a byte stream that
// arrives in arbitrary chunks and extracts the response text carried by each.
//
// The stream is a sequence of concatenated JSON objects, optionally wrapped in
// the array framing the upstream uses. Anything outside an object (`[`, `,`,
// whitespace, stray bytes) is inert.
package framing

import (
	"bytes"
	"errors"
	"log/slog"
)

const defaultMaxFrameSize = 1 << 20

// Decoder accumulates chunks and emits the text fragment of every JSON object
// completed so far, in stream order and never twice.
//
// A Decoder is scoped to a single response stream and is not safe for
// concurrent use.
type Decoder struct {
	buf []byte

	// scanner state for the object at the head of buf
	inObject bool
	pos      int
	depth    int
	inString bool
	escaped  bool

	maxFrameSize int
}

type DecoderOption func(*Decoder)

// WithMaxFrameSize bounds how many bytes a single unterminated object may
// hold before the decoder gives up on it and resynchronises on the next `{`.
// A non-positive size disables the bound.
func WithMaxFrameSize(size int) DecoderOption {
	return func(d *Decoder) {
		d.maxFrameSize = size
	}
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{maxFrameSize: defaultMaxFrameSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the pending buffer and returns the fragments of all
// objects the chunk completed.
func (d *Decoder) Feed(chunk string) []string {
	d.buf = append(d.buf, chunk...)

	var fragments []string
	for {
		if !d.inObject {
			start := bytes.IndexByte(d.buf, '{')
			if start < 0 {
				d.buf = d.buf[:0]
				return fragments
			}
			d.buf = d.buf[start:]
			d.resetScanner()
			d.inObject = true
		}

		end, ok := d.scan()
		if !ok {
			if d.maxFrameSize > 0 && len(d.buf) > d.maxFrameSize {
				logger.Warn("dropping oversized unterminated frame",
					slog.Int("buffered", len(d.buf)),
					slog.Int("max_frame_size", d.maxFrameSize))
				d.buf = d.buf[1:]
				d.inObject = false
				continue
			}
			return fragments
		}

		raw := d.buf[:end]
		if text, err := extractText(raw); err != nil {
			var upstreamErr frameError
			if errors.As(err, &upstreamErr) {
				logger.Error("upstream reported an error", slog.String("error", upstreamErr.Error()))
			} else {
				logger.Warn("failed to decode frame", slog.String("error", err.Error()))
			}
		} else if text != "" {
			fragments = append(fragments, text)
		}

		d.buf = d.buf[end:]
		d.inObject = false
	}
}

// scan advances over the object at the head of buf. It reports the length of
// the object once its braces balance. Braces inside string literals do not
// count.
func (d *Decoder) scan() (int, bool) {
	for ; d.pos < len(d.buf); d.pos++ {
		c := d.buf[d.pos]
		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case c == '\\':
				d.escaped = true
			case c == '"':
				d.inString = false
			}
			continue
		}

		switch c {
		case '"':
			d.inString = true
		case '{':
			d.depth++
		case '}':
			d.depth--
			if d.depth == 0 {
				d.pos++
				return d.pos, true
			}
		}
	}
	return 0, false
}

func (d *Decoder) resetScanner() {
	d.pos = 0
	d.depth = 0
	d.inString = false
	d.escaped = false
}

// Buffered reports how many bytes of an unterminated object are being held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any partial object.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.inObject = false
	d.resetScanner()
}
