// Package portaudio implements audio.Input and audio.Output on the default
// duplex PortAudio stream.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-talk/core/audio"
)

type Client struct {
	bufferSize int
	stream     *portaudio.Stream

	in  []int16
	out []int16

	captureMu     sync.Mutex
	cancelCapture context.CancelFunc
	captureDone   chan struct{}

	playbackMu    sync.Mutex
	leftoverAudio []byte
}

// NewClient opens a mono 16-bit stream exchanging bufferSize frames per read
// or write.
func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}

// StartCapture reads the microphone on its own goroutine until StopCapture or
// ctx cancellation.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.cancelCapture != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelCapture = cancel
	c.captureDone = done

	go func() {
		defer close(done)
		for ctx.Err() == nil {
			if err := c.stream.Read(); err != nil {
				logger.Warn("failed to read from portaudio stream", "error", err)
				continue
			}

			audioBuffer := bytes.Buffer{}
			_ = binary.Write(&audioBuffer, binary.LittleEndian, c.in)
			onAudio(audioBuffer.Bytes())
		}
	}()
	return nil
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	cancel, done := c.cancelCapture, c.captureDone
	c.cancelCapture, c.captureDone = nil, nil
	c.captureMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// SendAudio writes whole buffers to the device and keeps the remainder for
// the next call.
func (c *Client) SendAudio(audio []byte) error {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()

	bufferBytes := c.bufferSize * 2
	pending := append(c.leftoverAudio, audio...)
	for len(pending) >= bufferBytes {
		if err := c.writeLocked(pending[:bufferBytes]); err != nil {
			return err
		}
		pending = pending[bufferBytes:]
	}
	c.leftoverAudio = append([]byte(nil), pending...)
	return nil
}

func (c *Client) ClearBuffer() {
	c.playbackMu.Lock()
	defer c.playbackMu.Unlock()
	c.leftoverAudio = nil
}

// Mark flushes the remainder padded with silence; writes are blocking, so
// everything queued has reached the device when it returns.
func (c *Client) Mark(name string, callback func(string)) error {
	c.playbackMu.Lock()
	if len(c.leftoverAudio) > 0 {
		chunk := make([]byte, c.bufferSize*2)
		copy(chunk, c.leftoverAudio)
		c.leftoverAudio = nil
		if err := c.writeLocked(chunk); err != nil {
			c.playbackMu.Unlock()
			return err
		}
	}
	c.playbackMu.Unlock()

	callback(name)
	return nil
}

func (c *Client) writeLocked(chunk []byte) error {
	if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, c.out); err != nil {
		return fmt.Errorf("failed to decode audio chunk: %w", err)
	}
	if err := c.stream.Write(); err != nil {
		return fmt.Errorf("failed to write to portaudio stream: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	_ = c.StopCapture()
	c.stream.Close()
	portaudio.Terminate()
}
