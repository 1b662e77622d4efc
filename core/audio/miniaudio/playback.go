package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-talk/core/audio"
)

type playbackDevice struct {
	device *malgo.Device

	queue playbackQueue

	mu sync.Mutex
}

func (p *playbackDevice) init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encoding.SampleRate / 10) // ~100ms of audio
	config.Periods = 4

	var err error
	if p.device, err = malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			p.queue.fill(pOutput[:min(len(pOutput), int(frameCount)*bytesPerFrame)])
		},
	}); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	return nil
}

func (p *playbackDevice) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return fmt.Errorf("device not initialized")
	}
	if err := p.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (p *playbackDevice) sendAudio(audio []byte) error {
	p.mu.Lock()
	started := p.device != nil && p.device.IsStarted()
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not started")
	}

	p.queue.push(audio)
	return nil
}

func (p *playbackDevice) clearBuffer() {
	p.queue.clear()
}

func (p *playbackDevice) mark(name string, callback func(string)) error {
	p.queue.mark(name, callback)
	return nil
}

func (p *playbackDevice) uninit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return nil
	}
	p.device.Uninit()
	p.device = nil
	p.queue.clear()
	return nil
}
