package tts

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// WriterOutput writes clips to W at the pace they would be heard, so that
// cancelling Play stops the audio within one frame.
type WriterOutput struct {
	W io.Writer

	// BytesPerSecond of the clip encoding. Zero writes without pacing.
	BytesPerSecond int
	Frame          time.Duration

	closer io.Closer
}

func (o *WriterOutput) Play(ctx context.Context, clip []byte) error {
	if o.BytesPerSecond <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.W.Write(clip); err != nil {
			return fmt.Errorf("write clip: %w", err)
		}
		return nil
	}

	frame := o.Frame
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	size := int(int64(o.BytesPerSecond) * int64(frame) / int64(time.Second))
	if size <= 0 {
		size = 1
	}

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for off := 0; off < len(clip); off += size {
		end := off + size
		if end > len(clip) {
			end = len(clip)
		}
		if _, err := o.W.Write(clip[off:end]); err != nil {
			return fmt.Errorf("write clip: %w", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *WriterOutput) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// FileDevice plays into a file, or to stdout when Path is "-".
type FileDevice struct {
	Path           string
	BytesPerSecond int
}

func (d FileDevice) Open(ctx context.Context) (Output, error) {
	if d.Path == "" || d.Path == "-" {
		return &WriterOutput{W: os.Stdout, BytesPerSecond: d.BytesPerSecond}, nil
	}
	f, err := os.Create(d.Path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", d.Path, err)
	}
	return &WriterOutput{W: f, BytesPerSecond: d.BytesPerSecond, closer: f}, nil
}
