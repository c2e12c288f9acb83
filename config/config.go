// Package config builds the validated runtime configuration once, from
// flags, config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid configuration")

type Audio struct {
	SampleRate int
	ByteDepth  int
	Window     time.Duration
	Threshold  float64
	MinSilence time.Duration
	Speaker    string
	Realtime   bool
}

type STT struct {
	GeminiAPIKey string
	Model        string
	Prompt       string
}

type TTS struct {
	ElevenLabsAPIKey string
	VoiceID          string
	Output           string
}

type Config struct {
	LogLevel  log.Level
	SentryDSN string

	Audio Audio
	STT   STT
	TTS   TTS

	BotName              string
	MaxConcurrentBatches int
	BargeIn              bool
	Summarize            bool

	HTTPPort    int
	DatabaseURL string
}

// SpeechEnabled reports whether the bot can talk.
func (c Config) SpeechEnabled() bool {
	return c.TTS.ElevenLabsAPIKey != ""
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("sample_rate", 16000)
	v.SetDefault("byte_depth", 2)
	v.SetDefault("window", "100ms")
	v.SetDefault("silence_threshold", 0.02)
	v.SetDefault("min_silence", "700ms")
	v.SetDefault("realtime", false)
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("voice_id", "pKLLpypGseGMUjkb5fEZ")
	v.SetDefault("tts_output", "-")
	v.SetDefault("bot_name", "parley")
	v.SetDefault("max_batches", 4)
	v.SetDefault("barge_in", true)
	v.SetDefault("summarize", false)
	v.SetDefault("http_port", 8081)
}

// Load reads every setting from v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg, err := read(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadSpeech is Load for commands that only talk. It needs an ElevenLabs
// key instead of a Gemini one.
func LoadSpeech(v *viper.Viper) (Config, error) {
	cfg, err := read(v)
	if err != nil {
		return Config{}, err
	}
	problems := cfg.problems()
	if !cfg.SpeechEnabled() {
		problems = append(problems, "elevenlabs_api_key is required")
	}
	if err := invalid(problems); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	level, err := log.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}

	cfg := Config{
		LogLevel:  level,
		SentryDSN: v.GetString("sentry_dsn"),
		Audio: Audio{
			SampleRate: v.GetInt("sample_rate"),
			ByteDepth:  v.GetInt("byte_depth"),
			Window:     v.GetDuration("window"),
			Threshold:  v.GetFloat64("silence_threshold"),
			MinSilence: v.GetDuration("min_silence"),
			Speaker:    v.GetString("speaker"),
			Realtime:   v.GetBool("realtime"),
		},
		STT: STT{
			GeminiAPIKey: v.GetString("gemini_api_key"),
			Model:        v.GetString("gemini_model"),
			Prompt:       v.GetString("prompt"),
		},
		TTS: TTS{
			ElevenLabsAPIKey: v.GetString("elevenlabs_api_key"),
			VoiceID:          v.GetString("voice_id"),
			Output:           v.GetString("tts_output"),
		},
		BotName:              v.GetString("bot_name"),
		MaxConcurrentBatches: v.GetInt("max_batches"),
		BargeIn:              v.GetBool("barge_in"),
		Summarize:            v.GetBool("summarize"),
		HTTPPort:             v.GetInt("http_port"),
		DatabaseURL:          v.GetString("database_url"),
	}
	return cfg, nil
}

func (c Config) Validate() error {
	problems := c.problems()
	if c.STT.GeminiAPIKey == "" {
		problems = append(problems, "gemini_api_key is required")
	}
	return invalid(problems)
}

func (c Config) problems() []string {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Audio.SampleRate > 0, "sample_rate must be positive, got %d", c.Audio.SampleRate)
	check(
		c.Audio.ByteDepth == 1 || c.Audio.ByteDepth == 2 || c.Audio.ByteDepth == 4,
		"byte_depth must be 1, 2 or 4, got %d", c.Audio.ByteDepth,
	)
	check(c.Audio.Window > 0, "window must be positive, got %s", c.Audio.Window)
	check(c.Audio.MinSilence > 0, "min_silence must be positive, got %s", c.Audio.MinSilence)
	check(
		c.Audio.Threshold >= 0 && c.Audio.Threshold <= 1,
		"silence_threshold must be within [0, 1], got %v", c.Audio.Threshold,
	)
	check(c.MaxConcurrentBatches > 0, "max_batches must be positive, got %d", c.MaxConcurrentBatches)
	check(c.HTTPPort > 0 && c.HTTPPort < 65536, "http_port out of range: %d", c.HTTPPort)
	check(c.BotName != "", "bot_name is required")
	return problems
}

func invalid(problems []string) error {
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
