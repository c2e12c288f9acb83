package audio

import (
	"errors"
	"fmt"
	"time"
)

// Format describes a raw mono PCM layout.
type Format struct {
	SampleRate int
	ByteDepth  int
}

// Default is what the transcription engines downsample to anyway.
var Default = Format{SampleRate: 16000, ByteDepth: 2}

var ErrInvalidFormat = errors.New("invalid audio format")

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.ByteDepth <= 0 {
		return fmt.Errorf("%w: byte depth %d", ErrInvalidFormat, f.ByteDepth)
	}
	return nil
}

// BytesPerSecond of mono audio in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.ByteDepth
}

// Seconds returns the playback length of n bytes.
func (f Format) Seconds(n int) float64 {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

func (f Format) Duration(n int) time.Duration {
	return time.Duration(f.Seconds(n) * float64(time.Second))
}

// Bytes is the inverse of Duration, rounded down to whole samples.
func (f Format) Bytes(d time.Duration) int {
	samples := int(d.Seconds() * float64(f.SampleRate))
	return samples * f.ByteDepth
}

// SpeechWindow is one capture chunk. Windows of a stream arrive with
// non-decreasing TimeNs. An empty Speaker means the capture side could not
// attribute the audio.
type SpeechWindow struct {
	Data    []byte
	TimeNs  int64
	Speaker string
}

// Seconds is the absolute start of the window.
func (w SpeechWindow) Seconds() float64 {
	return float64(w.TimeNs) / 1e9
}
