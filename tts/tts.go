// Package tts plays synthesized speech into a meeting and lets a barge-in
// cut it short.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Synthesizer renders text to a playable clip.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Device hands out the audio output of the meeting.
type Device interface {
	Open(ctx context.Context) (Output, error)
}

// Output plays clips. Play blocks until the clip has been heard or ctx is
// done.
type Output interface {
	Play(ctx context.Context, clip []byte) error
	Close() error
}

type State int

const (
	Idle State = iota
	Speaking
	Completed
	Interrupted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNotInitialized = errors.New("tts: output not open")

	// ErrCancelled means speech was torn down. Nothing is known about how
	// much of the text was heard.
	ErrCancelled = errors.New("tts: speech cancelled")
)

// InterruptedError reports a barge-in. It is an outcome, not a failure:
// SpokenText is the part of the text that was played in full.
type InterruptedError struct {
	SpokenText string
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("tts: interrupted after %q", e.SpokenText)
}
