// Package miniaudio implements audio.Input and audio.Output on the default
// capture and playback devices through miniaudio.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-talk/core/audio"
)

type Client struct {
	// audioContext is only kept to be uninitialized on Close.
	audioContext *malgo.AllocatedContext
	encodingInfo audio.EncodingInfo

	playback playbackDevice
	capture  captureDevice
}

type ClientOption func(*Client)

// WithSampleRate overrides the sample rate both devices run at.
func WithSampleRate(sampleRate int) ClientOption {
	return func(c *Client) {
		c.encodingInfo.SampleRate = sampleRate
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{encodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(client)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo: " + message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	client.audioContext = audioCtx

	if err := client.playback.init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := client.playback.start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	if err := client.capture.init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return client, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.capture.start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.capture.stop()
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playback.sendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playback.clearBuffer()
}

func (c *Client) Mark(name string, callback func(string)) error {
	return c.playback.mark(name, callback)
}

func (c *Client) Close() {
	_ = c.capture.uninit()
	_ = c.playback.uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}
