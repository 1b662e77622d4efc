package deepgram

import (
	"strings"

	"github.com/koscakluka/ema-talk/core/texttospeech"
)

type deepgramVoice struct {
	model    string
	name     string
	language string
}

var availableVoices = []deepgramVoice{
	{model: "aura-2-izanami-ja", name: "Izanami", language: "ja-JP"},
	{model: "aura-2-fujin-ja", name: "Fujin", language: "ja-JP"},
	{model: "aura-2-uzume-ja", name: "Uzume", language: "ja-JP"},
	{model: "aura-2-ebisu-ja", name: "Ebisu", language: "ja-JP"},
	{model: "aura-2-thalia-en", name: "Thalia", language: "en-US"},
	{model: "aura-2-andromeda-en", name: "Andromeda", language: "en-US"},
	{model: "aura-2-helena-en", name: "Helena", language: "en-US"},
	{model: "aura-2-apollo-en", name: "Apollo", language: "en-US"},
}

const defaultVoiceModel = "aura-2-thalia-en"

// GetAvailableVoices returns the catalog in the form the controller selects from.
func GetAvailableVoices() []texttospeech.Voice {
	voices := make([]texttospeech.Voice, 0, len(availableVoices))
	for _, voice := range availableVoices {
		voices = append(voices, texttospeech.Voice{
			ID:       voice.model,
			Name:     voice.name,
			Language: voice.language,
			Default:  voice.model == defaultVoiceModel,
		})
	}
	return voices
}

// resolveModel picks the model for an utterance: the requested voice when it
// is one of ours, else the first voice of the requested language.
func resolveModel(voice *texttospeech.Voice, language string) string {
	if voice != nil {
		for _, known := range availableVoices {
			if known.model == voice.ID {
				return known.model
			}
		}
	}

	primary := func(tag string) string {
		tag, _, _ = strings.Cut(tag, "-")
		return strings.ToLower(tag)
	}
	for _, known := range availableVoices {
		if primary(known.language) == primary(language) {
			return known.model
		}
	}
	return defaultVoiceModel
}
