package stt

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"node.town/parley/audio"
	"node.town/parley/transcript"
	"node.town/parley/usage"
)

// Batch is the outcome of one Stream call. Segment is nil when the batch
// had no windows or the engine heard nothing.
type Batch struct {
	Segment       *transcript.Segment
	Windows       int
	AudioDuration time.Duration

	// Elapsed runs from the arrival of the first window to the return of
	// the engine call.
	Elapsed time.Duration

	// Drift is Elapsed minus AudioDuration. Positive drift means
	// transcription is falling behind real time.
	Drift time.Duration
}

type Options struct {
	Engine Transcriber
	Format audio.Format
	Prompt string
	Usage  *usage.Accumulator
	Logger *log.Logger
}

// Adapter feeds window batches to a Transcriber, one engine call at a time.
type Adapter struct {
	engine Transcriber
	format audio.Format
	prompt string
	usage  *usage.Accumulator
	logger *log.Logger

	gate *semaphore.Weighted
	now  func() time.Time

	mu   sync.Mutex
	open bool
}

func NewAdapter(opts Options) *Adapter {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Usage == nil {
		opts.Usage = usage.NewAccumulator()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Adapter{
		engine: opts.Engine,
		format: opts.Format,
		prompt: opts.Prompt,
		usage:  opts.Usage,
		logger: opts.Logger,
		gate:   semaphore.NewWeighted(1),
		now:    time.Now,
	}
}

// Open acquires the engine client. Opening an open adapter is a no-op.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open {
		return nil
	}
	if err := a.format.Validate(); err != nil {
		return err
	}
	if o, ok := a.engine.(Opener); ok {
		if err := o.Open(ctx); err != nil {
			return err
		}
	}
	a.open = true
	a.logger.Info("open", "engine", a.engine.Name(), "rate", a.format.SampleRate)
	return nil
}

// Close releases the engine client. Calls in flight are aborted through
// their own contexts, not here.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		return nil
	}
	a.open = false
	if c, ok := a.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Adapter) isOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// batch accumulates one utterance worth of windows.
type batch struct {
	buf       bytes.Buffer
	windows   int
	start     float64
	end       float64
	firstSeen time.Time
	durations map[string]float64
	speakers  []string
}

func (b *batch) add(w audio.SpeechWindow, f audio.Format, now time.Time) {
	if b.windows == 0 {
		b.start = w.Seconds()
		b.firstSeen = now
		b.durations = make(map[string]float64)
	}
	b.windows++
	b.buf.Write(w.Data)

	d := f.Seconds(len(w.Data))
	b.end = w.Seconds() + d

	if w.Speaker != "" {
		if _, seen := b.durations[w.Speaker]; !seen {
			b.speakers = append(b.speakers, w.Speaker)
		}
		b.durations[w.Speaker] += d
	}
}

// dominant returns the speaker with the most audio, earliest seen on ties.
func (b *batch) dominant() string {
	best := ""
	for _, s := range b.speakers {
		if best == "" || b.durations[s] > b.durations[best] {
			best = s
		}
	}
	return best
}

// Stream buffers windows until the channel closes, then transcribes the
// batch with a single engine call.
func (a *Adapter) Stream(
	ctx context.Context,
	windows <-chan audio.SpeechWindow,
) (Batch, error) {
	if !a.isOpen() {
		return Batch{}, ErrNotInitialized
	}

	var b batch
collect:
	for {
		select {
		case w, ok := <-windows:
			if !ok {
				break collect
			}
			b.add(w, a.format, a.now())
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		}
	}

	result := Batch{
		Windows:       b.windows,
		AudioDuration: a.format.Duration(b.buf.Len()),
	}
	if b.windows == 0 {
		return result, nil
	}

	if !a.isOpen() {
		return result, ErrNotInitialized
	}

	clip := audio.EncodeWAV(b.buf.Bytes(), a.format)

	if err := a.gate.Acquire(ctx, 1); err != nil {
		return result, err
	}
	text, err := a.engine.Transcribe(ctx, clip, a.format, a.prompt)
	a.gate.Release(1)

	result.Elapsed = a.now().Sub(b.firstSeen)
	result.Drift = result.Elapsed - result.AudioDuration

	if err != nil {
		a.logger.Error(
			"transcribe",
			"audio", result.AudioDuration,
			"err", err,
		)
		return result, &TranscriptionError{
			AudioDuration: result.AudioDuration,
			Err:           err,
		}
	}

	a.usage.Add(
		a.engine.Name()+"_stt",
		map[string]float64{"seconds": result.AudioDuration.Seconds()},
		map[string]string{"engine": a.engine.Name()},
	)

	text = strings.TrimSpace(text)
	if text == "" {
		a.logger.Debug("silence", "audio", result.AudioDuration, "drift", result.Drift)
		return result, nil
	}

	seg, err := transcript.NewSegment(text, b.start, b.end, b.dominant())
	if err != nil {
		return result, err
	}
	result.Segment = &seg

	a.logger.Info(
		"hear",
		"speaker", seg.Speaker,
		"txt", seg.Text,
		"drift", result.Drift.Round(time.Millisecond),
	)
	return result, nil
}
