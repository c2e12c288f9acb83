package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"node.town/parley/audio"
	"node.town/parley/config"
	"node.town/parley/db"
	"node.town/parley/gemini"
	"node.town/parley/session"
	"node.town/parley/stt"
	"node.town/parley/transcript"
	"node.town/parley/tts"
)

// meetingRoles marks the bot's own label and treats every other labelled
// speaker as a participant.
func meetingRoles(cfg config.Config) *transcript.Registry {
	roles := transcript.NewRegistry(transcript.Everyone{})
	roles.Set(cfg.BotName, transcript.RoleBot)
	return roles
}

func audioFormat(cfg config.Config) audio.Format {
	return audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		ByteDepth:  cfg.Audio.ByteDepth,
	}
}

// meeting is a session together with whatever it was built from and must
// be released with it.
type meeting struct {
	*session.Session
	archive *db.Archive
}

func openMeeting(ctx context.Context, cfg config.Config, report func(error)) (*meeting, error) {
	m := &meeting{}

	opts := session.Options{
		Prompt:               cfg.STT.Prompt,
		Format:               audioFormat(cfg),
		Roles:                meetingRoles(cfg),
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
		BargeIn:              cfg.BargeIn,
		Report:               report,
		Logger:               logger,
	}

	engine := stt.NewGemini(cfg.STT.GeminiAPIKey, cfg.STT.Model, nil)
	opts.Transcriber = engine

	if cfg.SpeechEnabled() {
		opts.Synthesizer = tts.NewElevenLabs(cfg.TTS.ElevenLabsAPIKey, cfg.TTS.VoiceID)
		opts.Device = tts.FileDevice{
			Path:           cfg.TTS.Output,
			BytesPerSecond: tts.MP3BytesPerSecond,
		}
	}

	var summarizer *gemini.Summarizer
	if cfg.Summarize {
		summarizer = &gemini.Summarizer{
			APIKey: cfg.STT.GeminiAPIKey,
			Model:  cfg.STT.Model,
		}
		opts.Summarizer = summarizer
	}

	if cfg.DatabaseURL != "" {
		archive, err := db.Open(ctx, cfg.DatabaseURL, logger.WithPrefix("data"))
		if err != nil {
			return nil, err
		}
		m.archive = archive
		opts.Archiver = archive
	}

	s, err := session.New(opts)
	if err != nil {
		m.closeArchive()
		return nil, err
	}
	engine.Usage = s.Accumulator()
	if summarizer != nil {
		summarizer.Usage = s.Accumulator()
	}

	if err := s.Start(ctx); err != nil {
		m.closeArchive()
		return nil, err
	}
	m.Session = s
	return m, nil
}

// Close finalizes the session, then releases the archive it wrote to.
func (m *meeting) Close(ctx context.Context) (session.Report, error) {
	defer m.closeArchive()
	return m.Session.Close(ctx)
}

func (m *meeting) closeArchive() {
	if m.archive != nil {
		m.archive.Close()
	}
}

// listen feeds raw PCM from src through the segmenter into the session
// until src ends or ctx is cancelled.
func listen(ctx context.Context, cfg config.Config, m *meeting, src io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader := audio.Reader{
		Format:   audioFormat(cfg),
		Window:   cfg.Audio.Window,
		Speaker:  cfg.Audio.Speaker,
		Realtime: cfg.Audio.Realtime,
	}
	windows, readErrs := reader.Read(ctx, src)

	segmenter := &audio.Segmenter{
		Format:     audioFormat(cfg),
		Threshold:  cfg.Audio.Threshold,
		MinSilence: cfg.Audio.MinSilence,
		OnSpeech:   m.SpeechStarted,
		Logger:     logger.WithPrefix("vad"),
	}

	runErr := m.Run(ctx, segmenter.Split(ctx, windows))
	cancel()
	readErr := <-readErrs

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, readErr)
}

// openInput opens a PCM source; "-" or no argument is stdin.
func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

func logReport(l *log.Logger, r session.Report) {
	l.Info(
		"meeting",
		"id", r.ID,
		"segments", r.Transcript.Len(),
		"speakers", len(r.Transcript.Speakers()),
		"minutes", fmt.Sprintf("%.1f", r.Transcript.Seconds()/60),
	)
}
