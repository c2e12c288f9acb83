package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"node.town/parley/usage"
)

type Options struct {
	Synthesizer Synthesizer
	Device      Device
	Usage       *usage.Accumulator
	Logger      *log.Logger
}

// Controller speaks one text at a time through the output it acquired in
// Open.
type Controller struct {
	synth  Synthesizer
	device Device
	usage  *usage.Accumulator
	logger *log.Logger

	// turn admits one Speak at a time; later callers queue.
	turn *semaphore.Weighted

	mu          sync.Mutex
	out         Output
	state       State
	teardown    context.Context
	stop        context.CancelFunc
	cancelPlay  context.CancelFunc
	interrupted bool
}

func NewController(opts Options) *Controller {
	if opts.Usage == nil {
		opts.Usage = usage.NewAccumulator()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Controller{
		synth:  opts.Synthesizer,
		device: opts.Device,
		usage:  opts.Usage,
		logger: opts.Logger,
		turn:   semaphore.NewWeighted(1),
	}
}

// Open acquires the audio output.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out != nil {
		return nil
	}
	out, err := c.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	c.out = out
	c.state = Idle
	c.teardown, c.stop = context.WithCancel(context.Background())
	return nil
}

// Close cancels any speech in progress, waits for it to unwind and
// releases the output.
func (c *Controller) Close() error {
	c.mu.Lock()
	out := c.out
	if out == nil {
		c.mu.Unlock()
		return nil
	}
	c.out = nil
	c.stop()
	c.mu.Unlock()

	_ = c.turn.Acquire(context.Background(), 1)
	c.turn.Release(1)

	return out.Close()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interrupt stops the current utterance after no more than the chunk
// being played. It reports whether anything was speaking.
func (c *Controller) Interrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Speaking || c.cancelPlay == nil {
		return false
	}
	c.interrupted = true
	c.cancelPlay()
	return true
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

type clip struct {
	data []byte
	err  error
}

// Speak plays text to completion and returns nil, or returns an
// *InterruptedError after a barge-in, or ErrCancelled when ctx ends or the
// controller is closed.
func (c *Controller) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	open := c.out != nil
	c.mu.Unlock()
	if !open {
		return ErrNotInitialized
	}

	if err := c.turn.Acquire(ctx, 1); err != nil {
		return ErrCancelled
	}
	defer c.turn.Release(1)

	chunks := Chunks(text)

	c.mu.Lock()
	if c.out == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	out := c.out
	playCtx, cancelPlay := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(c.teardown, cancelPlay)
	c.cancelPlay = cancelPlay
	c.interrupted = false
	c.state = Speaking
	c.mu.Unlock()

	c.logger.Info("talk", "txt", text, "chunks", len(chunks))

	var wg sync.WaitGroup
	defer func() {
		stopAfter()
		cancelPlay()
		wg.Wait()

		c.mu.Lock()
		c.cancelPlay = nil
		c.mu.Unlock()
	}()

	clips := make(chan clip, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(clips)
		for _, chunk := range chunks {
			data, err := c.synth.Synthesize(playCtx, chunk.Text)
			if err == nil {
				c.usage.Add(
					c.synth.Name()+"_tts",
					map[string]float64{"characters": float64(utf8.RuneCountInString(chunk.Text))},
					map[string]string{"engine": c.synth.Name()},
				)
			}
			select {
			case clips <- clip{data: data, err: err}:
			case <-playCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	played := 0
	for played < len(chunks) {
		var (
			next clip
			ok   bool
		)
		select {
		case next, ok = <-clips:
		case <-playCtx.Done():
		}

		if playCtx.Err() != nil || !ok {
			return c.stopped(text, chunks, played)
		}
		if next.err != nil {
			c.setState(Idle)
			return fmt.Errorf("synthesize: %w", next.err)
		}

		if err := out.Play(playCtx, next.data); err != nil {
			if playCtx.Err() != nil {
				return c.stopped(text, chunks, played)
			}
			c.setState(Idle)
			return fmt.Errorf("play: %w", err)
		}
		played++
	}

	c.setState(Completed)
	c.logger.Debug("talk done", "chunks", played)
	c.setState(Idle)
	return nil
}

// stopped settles an utterance cut short after played chunks.
func (c *Controller) stopped(text string, chunks []Chunk, played int) error {
	c.mu.Lock()
	interrupted := c.interrupted
	if interrupted {
		c.state = Interrupted
	}
	c.mu.Unlock()
	defer c.setState(Idle)

	if !interrupted {
		c.logger.Warn("talk cancelled", "played", played, "chunks", len(chunks))
		return ErrCancelled
	}

	spoken := ""
	if played > 0 {
		spoken = strings.TrimSpace(text[:chunks[played-1].End])
	}
	c.logger.Info("talk interrupted", "spoken", spoken)
	return &InterruptedError{SpokenText: spoken}
}
