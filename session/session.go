// Package session runs one meeting: audio batches in, transcript and
// speech out, all of it shared with the API through one Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"node.town/parley/audio"
	"node.town/parley/live"
	"node.town/parley/stt"
	"node.town/parley/transcript"
	"node.town/parley/tts"
	"node.town/parley/usage"
)

const DefaultMaxConcurrentBatches = 4

type Mode string

const (
	ModeFull   Mode = "full"
	ModeFirst  Mode = "first"
	ModeLatest Mode = "latest"
)

var ErrUnknownMode = errors.New("unknown transcript mode")

// Report is the final record of a session.
type Report struct {
	ID         string                `json:"id"`
	Started    time.Time             `json:"started"`
	Ended      time.Time             `json:"ended"`
	Transcript transcript.Transcript `json:"transcript"`
	Usage      usage.Usage           `json:"usage"`
	Summary    string                `json:"summary,omitempty"`
}

// Archiver stores finished reports.
type Archiver interface {
	Archive(ctx context.Context, r Report) error
}

// Summarizer condenses a finished transcript.
type Summarizer interface {
	Summarize(ctx context.Context, t transcript.Transcript) (string, error)
}

type Options struct {
	Transcriber stt.Transcriber
	Prompt      string
	Format      audio.Format

	// Synthesizer and Device are optional; without them Speak fails with
	// tts.ErrNotInitialized.
	Synthesizer tts.Synthesizer
	Device      tts.Device

	Roles                transcript.RoleResolver
	MaxConcurrentBatches int

	// BargeIn interrupts speech when anyone but the bot starts talking.
	BargeIn bool

	Archiver   Archiver
	Summarizer Summarizer

	// Report receives failures that cost the transcript a batch.
	Report func(error)

	Logger *log.Logger
}

type Session struct {
	id      string
	started time.Time

	format     audio.Format
	roles      transcript.RoleResolver
	maxBatches int
	bargeIn    bool
	archiver   Archiver
	summarizer Summarizer
	reportErr  func(error)
	logger     *log.Logger

	store  *transcript.Store
	usage  *usage.Accumulator
	pub    *live.Publisher
	hear   *stt.Adapter
	talk   *tts.Controller
	drift  atomic.Int64
	failed atomic.Int64

	// runMu orders runs.Add against the cancel in close.
	runMu  sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	closeOnce sync.Once
	report    Report
	closeErr  error
}

func New(opts Options) (*Session, error) {
	if opts.Transcriber == nil {
		return nil, errors.New("session needs a transcriber")
	}
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}
	if opts.Roles == nil {
		opts.Roles = transcript.Everyone{}
	}
	if opts.MaxConcurrentBatches <= 0 {
		opts.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Report == nil {
		opts.Report = func(error) {}
	}

	id := uuid.NewString()
	logger := opts.Logger.With("session", id[:8])
	acc := usage.NewAccumulator()

	s := &Session{
		id:         id,
		format:     opts.Format,
		roles:      opts.Roles,
		maxBatches: opts.MaxConcurrentBatches,
		bargeIn:    opts.BargeIn,
		archiver:   opts.Archiver,
		summarizer: opts.Summarizer,
		reportErr:  opts.Report,
		logger:     logger.WithPrefix("meet"),
		store:      transcript.NewStore(),
		usage:      acc,
		pub:        live.NewPublisher(logger.WithPrefix("live"), live.DefaultBuffer),
		hear: stt.NewAdapter(stt.Options{
			Engine: opts.Transcriber,
			Format: opts.Format,
			Prompt: opts.Prompt,
			Usage:  acc,
			Logger: logger.WithPrefix("hear"),
		}),
	}
	if opts.Synthesizer != nil && opts.Device != nil {
		s.talk = tts.NewController(tts.Options{
			Synthesizer: opts.Synthesizer,
			Device:      opts.Device,
			Usage:       acc,
			Logger:      logger.WithPrefix("talk"),
		})
	}
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Accumulator is shared by the session's engines. Engines built outside
// the session bill into it too.
func (s *Session) Accumulator() *usage.Accumulator {
	return s.usage
}

// Start acquires the transcription client and the audio output. If either
// fails, whatever was acquired is released again.
func (s *Session) Start(ctx context.Context) (err error) {
	if err := s.hear.Open(ctx); err != nil {
		return fmt.Errorf("open transcriber: %w", err)
	}
	defer func() {
		if err != nil {
			if cerr := s.hear.Close(); cerr != nil {
				s.logger.Warn("close transcriber", "err", cerr)
			}
		}
	}()

	if s.talk != nil {
		if err := s.talk.Open(ctx); err != nil {
			return err
		}
	}

	s.started = time.Now()
	s.logger.Info("start", "id", s.id, "rate", s.format.SampleRate)
	return nil
}

// Run transcribes batches until the channel closes, ctx ends or the
// session is closed. Batches are buffered concurrently; engine calls are
// still made one at a time.
func (s *Session) Run(
	ctx context.Context,
	batches <-chan (<-chan audio.SpeechWindow),
) error {
	s.runMu.Lock()
	if s.runCtx.Err() != nil {
		s.runMu.Unlock()
		return nil
	}
	s.runs.Add(1)
	s.runMu.Unlock()
	defer s.runs.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.runCtx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxBatches)

loop:
	for {
		select {
		case windows, ok := <-batches:
			if !ok {
				break loop
			}
			g.Go(func() error {
				s.process(gctx, windows)
				return nil
			})
		case <-ctx.Done():
			break loop
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if s.runCtx.Err() != nil {
		return nil
	}
	return ctx.Err()
}

func (s *Session) process(ctx context.Context, windows <-chan audio.SpeechWindow) {
	defer func() {
		for {
			select {
			case _, ok := <-windows:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	b, err := s.hear.Stream(ctx, windows)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failed.Add(1)
		var te *stt.TranscriptionError
		if errors.As(err, &te) {
			s.logger.Warn("batch lost", "audio", te.AudioDuration, "err", te.Err)
		} else {
			s.logger.Error("batch", "err", err)
		}
		s.reportErr(err)
		return
	}
	if b.Windows == 0 {
		return
	}

	s.drift.Store(int64(b.Drift))
	s.pub.Publish(live.UsageResource)

	if b.Segment == nil {
		return
	}
	seg := *b.Segment
	s.store.Append(seg)
	s.logger.Debug("segment", "speaker", seg.Speaker, "total", s.store.Len())
	s.pub.Publish(live.SegmentsResource)
	if s.roles.Role(seg.Speaker) == transcript.RoleParticipant {
		s.pub.Publish(live.TranscriptResource)
	}
}

// SpeechStarted is the segmenter's onset hook. With barge-in enabled it
// cuts off the bot when someone else starts talking.
func (s *Session) SpeechStarted(w audio.SpeechWindow) {
	if !s.bargeIn || s.talk == nil {
		return
	}
	if s.roles.Role(w.Speaker) == transcript.RoleBot {
		return
	}
	if s.talk.Interrupt() {
		s.logger.Info("barge-in", "speaker", w.Speaker, "t", w.Seconds())
	}
}

// Transcript returns the compacted transcript, whole or sliced to the
// first or latest minutes. Non-positive minutes do not slice.
func (s *Session) Transcript(mode Mode, minutes float64) (transcript.Transcript, error) {
	t := s.store.Snapshot()

	switch mode {
	case ModeFull, "":
	case ModeFirst:
		if minutes > 0 {
			t = t.Before(minutes * 60)
		}
	case ModeLatest:
		if minutes > 0 {
			t = t.After(t.Seconds() - minutes*60)
		}
	default:
		return transcript.Transcript{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return t.Compact(), nil
}

// ParticipantTranscript is the compacted transcript of participant
// speech only.
func (s *Session) ParticipantTranscript() transcript.Transcript {
	return s.store.Snapshot().
		WithRole(s.roles, transcript.RoleParticipant).
		Compact()
}

// Segments returns every segment as produced, uncompacted.
func (s *Session) Segments() transcript.Transcript {
	return s.store.Snapshot()
}

// Speak says text in the meeting. A barge-in yields *tts.InterruptedError
// with the text that was heard.
func (s *Session) Speak(ctx context.Context, text string) error {
	if s.talk == nil {
		return tts.ErrNotInitialized
	}
	defer s.pub.Publish(live.UsageResource)
	return s.talk.Speak(ctx, text)
}

func (s *Session) Interrupt() bool {
	return s.talk != nil && s.talk.Interrupt()
}

func (s *Session) Subscribe(resource string, fn func() error) func() {
	return s.pub.Subscribe(resource, fn)
}

func (s *Session) Usage() usage.Usage {
	return s.usage.Snapshot()
}

// Drift of the most recent batch; positive when transcription lags.
func (s *Session) Drift() time.Duration {
	return time.Duration(s.drift.Load())
}

// Failed counts batches lost to transcription errors.
func (s *Session) Failed() int64 {
	return s.failed.Load()
}

// Close tears the session down and returns its report. Only the first call
// does any work; later calls return the same report and error.
func (s *Session) Close(ctx context.Context) (Report, error) {
	s.closeOnce.Do(func() {
		s.report, s.closeErr = s.close(ctx)
	})
	return s.report, s.closeErr
}

func (s *Session) close(ctx context.Context) (Report, error) {
	var errs []error

	s.runMu.Lock()
	s.cancel()
	s.runMu.Unlock()
	if s.talk != nil {
		if err := s.talk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio output: %w", err))
		}
	}
	s.runs.Wait()
	if err := s.hear.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transcriber: %w", err))
	}
	s.pub.Close()

	r := Report{
		ID:         s.id,
		Started:    s.started,
		Ended:      time.Now(),
		Transcript: s.store.Snapshot().Compact(),
	}

	if s.summarizer != nil && r.Transcript.Len() > 0 {
		summary, err := s.summarizer.Summarize(ctx, r.Transcript)
		if err != nil {
			errs = append(errs, fmt.Errorf("summarize: %w", err))
		}
		r.Summary = summary
	}
	r.Usage = s.usage.Snapshot()

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
	}

	s.logger.Info(
		"end",
		"segments", r.Transcript.Len(),
		"speakers", len(r.Transcript.Speakers()),
		"lost", s.failed.Load(),
	)
	return r, errors.Join(errs...)
}
