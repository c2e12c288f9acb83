package tts

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/haguro/elevenlabs-go"
)

const (
	DefaultVoiceID = "pKLLpypGseGMUjkb5fEZ"
	DefaultModelID = "eleven_turbo_v2_5"

	// ElevenLabs streams 128 kbps MP3 by default.
	MP3BytesPerSecond = 16000
)

type ElevenLabs struct {
	APIKey  string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

func NewElevenLabs(apiKey, voiceID string) *ElevenLabs {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	return &ElevenLabs{
		APIKey:  apiKey,
		VoiceID: voiceID,
		ModelID: DefaultModelID,
		Timeout: 30 * time.Second,
	}
}

func (e *ElevenLabs) Name() string {
	return "elevenlabs"
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client := elevenlabs.NewClient(ctx, e.APIKey, e.Timeout)
	ttsReq := elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: e.ModelID,
	}

	var buf bytes.Buffer
	if err := client.TextToSpeechStream(&buf, e.VoiceID, ttsReq); err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	return buf.Bytes(), nil
}
