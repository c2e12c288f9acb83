package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Reader slices a raw PCM byte stream into SpeechWindows.
type Reader struct {
	Format  Format
	Window  time.Duration
	Start   time.Time
	Speaker string

	// Realtime paces emission to the audio clock, for file inputs that
	// should behave like a live capture.
	Realtime bool
}

func (r Reader) Read(
	ctx context.Context,
	src io.Reader,
) (<-chan SpeechWindow, <-chan error) {
	windows := make(chan SpeechWindow, 16)
	errChan := make(chan error, 1)

	go func() {
		defer close(windows)
		defer close(errChan)

		if err := r.Format.Validate(); err != nil {
			errChan <- err
			return
		}

		size := r.Format.Bytes(r.Window)
		if size <= 0 {
			errChan <- fmt.Errorf("window %s too short for %d Hz", r.Window, r.Format.SampleRate)
			return
		}

		start := r.Start
		if start.IsZero() {
			start = time.Now()
		}
		bps := int64(r.Format.BytesPerSecond())
		var offset int64

		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(src, buf)
			n -= n % r.Format.ByteDepth
			if n > 0 {
				w := SpeechWindow{
					Data:    buf[:n],
					TimeNs:  start.UnixNano() + offset*int64(time.Second)/bps,
					Speaker: r.Speaker,
				}
				offset += int64(n)

				if r.Realtime {
					due := start.Add(time.Duration(offset * int64(time.Second) / bps))
					select {
					case <-time.After(time.Until(due)):
					case <-ctx.Done():
						return
					}
				}

				select {
				case windows <- w:
				case <-ctx.Done():
					return
				}
			}

			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			if err != nil {
				errChan <- fmt.Errorf("read audio: %w", err)
				return
			}
		}
	}()

	return windows, errChan
}
