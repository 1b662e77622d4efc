package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-talk/core"
	"github.com/koscakluka/ema-talk/core/audio"
	"github.com/koscakluka/ema-talk/core/audio/miniaudio"
	"github.com/koscakluka/ema-talk/core/audio/portaudio"
	"github.com/koscakluka/ema-talk/core/llms"
	"github.com/koscakluka/ema-talk/core/speechtotext"
	sttdeepgram "github.com/koscakluka/ema-talk/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-talk/core/storage"
	"github.com/koscakluka/ema-talk/core/streaming"
	"github.com/koscakluka/ema-talk/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/ema-talk/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-talk/internal/config"
)

const portaudioBufferSize = 1024

type audioDevice interface {
	audio.Input
	audio.Output
	Close()
}

func run(cfg *config.Config) error {
	store, closeStore := openStore(cfg.StorePath)
	defer closeStore()

	device := openAudio(cfg)
	if device != nil {
		defer device.Close()
	}

	var recognition speechtotext.EngineFactory
	var synthesis texttospeech.SynthesisEngine
	if device != nil && cfg.DeepgramAPIKey != "" {
		recognition = sttdeepgram.NewFactory(cfg.DeepgramAPIKey, device)
		engine, err := ttsdeepgram.NewEngine(cfg.DeepgramAPIKey, device)
		if err != nil {
			slog.Warn("speech synthesis unavailable", "error", err)
		} else {
			synthesis = engine
		}
	} else {
		slog.Info("voice disabled, using typed input", "audio_backend", cfg.AudioBackend, "deepgram_key_set", cfg.DeepgramAPIKey != "")
	}

	listener := speechtotext.NewController(recognition,
		speechtotext.WithLanguage(cfg.Language),
		speechtotext.WithSilenceTimeout(cfg.Timing.SilenceTimeout),
	)
	speaker := texttospeech.NewController(synthesis, store,
		texttospeech.WithLanguage(cfg.Language),
		texttospeech.WithCancelSettle(cfg.Timing.CancelSettle),
		texttospeech.WithInitValidity(cfg.Timing.InitValidity),
		texttospeech.WithInitTimeout(cfg.Timing.InitTimeout),
	)

	orchestrator := orchestration.NewOrchestrator(
		orchestration.WithSpeechInput(listener),
		orchestration.WithSpeechOutput(speaker),
		orchestration.WithStreamSender(streaming.NewClient()),
		orchestration.WithEndpoint(cfg.ChatEndpoint),
		orchestration.WithMountDelay(cfg.Timing.MountDelay),
		orchestration.WithRelistenDelay(cfg.Timing.RelistenDelay),
		orchestration.WithDuplicateWindow(cfg.Timing.DuplicateWindow),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	program := tea.NewProgram(
		newModel(ctx, orchestrator, speaker, listener.IsSupported()),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
	)

	orchestrator.Orchestrate(ctx,
		orchestration.WithStateChangedCallback(func(_, to orchestration.TurnState) {
			program.Send(stateMsg{state: to})
		}),
		orchestration.WithPartialResponseCallback(func(segment string) {
			program.Send(partialMsg{segment: segment})
		}),
		orchestration.WithMessageCallback(func(message llms.ChatMessage) {
			program.Send(chatMsg{message: message})
		}),
		orchestration.WithTranscriptCallback(func(transcript string, isFinal bool) {
			program.Send(transcriptMsg{text: transcript, final: isFinal})
		}),
		orchestration.WithErrorCallback(func(err error) {
			program.Send(errMsg{err: err})
		}),
		orchestration.WithClearedCallback(func() {
			program.Send(clearedMsg{})
		}),
	)

	_, runErr := program.Run()
	cancel()
	closeErr := orchestrator.Close()
	if err := errors.Join(runErr, closeErr); err != nil {
		return fmt.Errorf("failed to run client: %w", err)
	}
	return nil
}

// openStore falls back to an in-memory store when the database cannot be
// opened, so audio has to be unlocked again on every start.
func openStore(path string) (storage.Store, func()) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("failed to create store directory, using memory store", "error", err)
			return storage.NewMemory(), func() {}
		}
	}

	store, err := storage.NewSQLite(path)
	if err != nil {
		slog.Warn("failed to open store, using memory store", "path", path, "error", err)
		return storage.NewMemory(), func() {}
	}
	if err := store.Ping(context.Background()); err != nil {
		slog.Warn("store health check failed, using memory store", "error", err)
		_ = store.Close()
		return storage.NewMemory(), func() {}
	}
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}
}

func openAudio(cfg *config.Config) audioDevice {
	switch cfg.AudioBackend {
	case config.AudioBackendMiniaudio:
		client, err := miniaudio.NewClient(miniaudio.WithSampleRate(audio.DefaultSampleRate))
		if err != nil {
			slog.Warn("failed to open miniaudio devices", "error", err)
			return nil
		}
		return client
	case config.AudioBackendPortaudio:
		client, err := portaudio.NewClient(portaudioBufferSize)
		if err != nil {
			slog.Warn("failed to open portaudio stream", "error", err)
			return nil
		}
		return client
	default:
		return nil
	}
}
