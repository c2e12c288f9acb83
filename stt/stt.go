// Package stt turns batches of speech windows into transcript segments by
// way of an external transcription engine.
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"node.town/parley/audio"
)

// Transcriber is an external speech-to-text engine. Engines that hold a
// client may also implement Opener and io.Closer; the adapter drives both.
type Transcriber interface {
	Name() string
	Transcribe(
		ctx context.Context,
		clip []byte,
		format audio.Format,
		prompt string,
	) (string, error)
}

type Opener interface {
	Open(ctx context.Context) error
}

// DefaultPrompt asks for a verbatim transcript and nothing else.
const DefaultPrompt = "Transcribe the speech in this audio clip verbatim. " +
	"Reply with the transcript only. " +
	"If there is no intelligible speech, reply with nothing."

var ErrNotInitialized = errors.New("stt: adapter not open")

// TranscriptionError is returned when the engine fails on a batch. The
// batch is lost; the adapter stays usable.
type TranscriptionError struct {
	AudioDuration time.Duration
	Err           error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf(
		"transcription of %s of audio failed: %v",
		e.AudioDuration.Round(time.Millisecond),
		e.Err,
	)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}
