package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func tone(samples int, amplitude int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 16000, ByteDepth: 2}

	if got := f.Seconds(32000); got != 1.0 {
		t.Errorf("Seconds(32000) = %v, want 1", got)
	}
	if got := f.Duration(16000); got != 500*time.Millisecond {
		t.Errorf("Duration(16000) = %v, want 500ms", got)
	}
	if got := f.Bytes(100 * time.Millisecond); got != 3200 {
		t.Errorf("Bytes(100ms) = %d, want 3200", got)
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		ok     bool
	}{
		{"default", Default, true},
		{"zero rate", Format{SampleRate: 0, ByteDepth: 2}, false},
		{"zero depth", Format{SampleRate: 8000, ByteDepth: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("Validate() = %v, want ErrInvalidFormat", err)
			}
		})
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := tone(100, 1000)
	wav := EncodeWAV(pcm, Format{SampleRate: 16000, ByteDepth: 2})

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad magic %q %q", wav[0:4], wav[8:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d, want 16", bits)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("data size = %d, want %d", size, len(pcm))
	}
	if !bytes.Equal(wav[wavHeaderSize:], pcm) {
		t.Errorf("payload mismatch")
	}
}

func TestReaderTimestamps(t *testing.T) {
	f := Format{SampleRate: 1000, ByteDepth: 2}
	start := time.Unix(100, 0)
	src := bytes.NewReader(make([]byte, 500)) // 250ms

	r := Reader{Format: f, Window: 100 * time.Millisecond, Start: start, Speaker: "alice"}
	windows, errs := r.Read(context.Background(), src)

	var got []SpeechWindow
	for w := range windows {
		got = append(got, w)
	}
	if err := <-errs; err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d windows, want 3", len(got))
	}
	wantStarts := []float64{100.0, 100.1, 100.2}
	for i, w := range got {
		if w.Seconds() != wantStarts[i] {
			t.Errorf("window %d start = %v, want %v", i, w.Seconds(), wantStarts[i])
		}
		if w.Speaker != "alice" {
			t.Errorf("window %d speaker = %q", i, w.Speaker)
		}
	}
	if len(got[2].Data) != 100 {
		t.Errorf("last window = %d bytes, want 100", len(got[2].Data))
	}
}

func TestLevel(t *testing.T) {
	f := Format{SampleRate: 16000, ByteDepth: 2}

	if got := Level(make([]byte, 64), f); got != 0 {
		t.Errorf("Level(silence) = %v, want 0", got)
	}
	if got := Level(tone(32, 16383), f); got < 0.49 || got > 0.51 {
		t.Errorf("Level(half scale) = %v, want ~0.5", got)
	}
}

func TestSegmenterSplit(t *testing.T) {
	f := Format{SampleRate: 1000, ByteDepth: 2}
	window := func(i int, loud bool, speaker string) SpeechWindow {
		var data []byte
		if loud {
			data = tone(100, 10000)
		} else {
			data = make([]byte, 200)
		}
		return SpeechWindow{Data: data, TimeNs: int64(i) * int64(100*time.Millisecond), Speaker: speaker}
	}

	in := make(chan SpeechWindow, 32)
	// quiet, [loud loud quiet quiet], quiet, [loud(bob)], [loud(carol)]
	in <- window(0, false, "")
	in <- window(1, true, "")
	in <- window(2, true, "")
	in <- window(3, false, "")
	in <- window(4, false, "")
	in <- window(5, false, "")
	in <- window(6, true, "bob")
	in <- window(7, true, "carol")
	close(in)

	onsets := 0
	s := &Segmenter{
		Format:     f,
		Threshold:  0.1,
		MinSilence: 200 * time.Millisecond,
		OnSpeech:   func(SpeechWindow) { onsets++ },
	}

	var sizes []int
	for batch := range s.Split(context.Background(), in) {
		n := 0
		for range batch {
			n++
		}
		sizes = append(sizes, n)
	}

	want := []int{4, 1, 1}
	if len(sizes) != len(want) {
		t.Fatalf("batches = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d has %d windows, want %d", i, sizes[i], want[i])
		}
	}
	if onsets != 3 {
		t.Errorf("onsets = %d, want 3", onsets)
	}
}
