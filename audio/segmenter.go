package audio

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// Segmenter groups a window stream into utterance batches. A batch opens
// on the first window whose RMS level reaches Threshold and closes after
// MinSilence of quiet audio, on a change of speaker label, or when the
// input ends. Quiet windows between utterances are dropped.
type Segmenter struct {
	Format     Format
	Threshold  float64
	MinSilence time.Duration

	// OnSpeech is called once per batch, at speech onset.
	OnSpeech func(SpeechWindow)

	Logger *log.Logger
}

func (s *Segmenter) Split(
	ctx context.Context,
	in <-chan SpeechWindow,
) <-chan (<-chan SpeechWindow) {
	out := make(chan (<-chan SpeechWindow))

	go func() {
		defer close(out)

		var (
			current chan SpeechWindow
			speaker string
			silence time.Duration
		)

		finish := func() {
			if current != nil {
				close(current)
				current = nil
			}
			silence = 0
			speaker = ""
		}
		defer finish()

		for {
			var (
				w  SpeechWindow
				ok bool
			)
			select {
			case w, ok = <-in:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}

			loud := Level(w.Data, s.Format) >= s.Threshold

			if current != nil && w.Speaker != "" && speaker != "" && w.Speaker != speaker {
				s.debug("speaker change", "from", speaker, "to", w.Speaker)
				finish()
			}

			if current == nil {
				if !loud {
					continue
				}
				current = make(chan SpeechWindow, 256)
				select {
				case out <- current:
				case <-ctx.Done():
					return
				}
				s.debug("onset", "t", w.Seconds(), "speaker", w.Speaker)
				if s.OnSpeech != nil {
					s.OnSpeech(w)
				}
			}

			if w.Speaker != "" {
				speaker = w.Speaker
			}

			select {
			case current <- w:
			case <-ctx.Done():
				return
			}

			if loud {
				silence = 0
				continue
			}
			silence += s.Format.Duration(len(w.Data))
			if silence >= s.MinSilence {
				s.debug("offset", "t", w.Seconds(), "silence", silence)
				finish()
			}
		}
	}()

	return out
}

func (s *Segmenter) debug(msg string, keyvals ...interface{}) {
	if s.Logger != nil {
		s.Logger.Debug(msg, keyvals...)
	}
}

// Level returns the RMS amplitude of signed little-endian PCM, normalized
// to [0, 1]. 8-bit audio is treated as unsigned.
func Level(pcm []byte, f Format) float64 {
	n := 0
	var sum float64

	switch f.ByteDepth {
	case 1:
		for _, b := range pcm {
			v := (float64(b) - 128) / 128
			sum += v * v
			n++
		}
	case 2:
		for i := 0; i+1 < len(pcm); i += 2 {
			v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / math.MaxInt16
			sum += v * v
			n++
		}
	case 4:
		for i := 0; i+3 < len(pcm); i += 4 {
			v := float64(int32(binary.LittleEndian.Uint32(pcm[i:]))) / math.MaxInt32
			sum += v * v
			n++
		}
	default:
		return 1
	}

	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
