package stt

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/parley/audio"
	"node.town/parley/usage"
)

// 1000 Hz, 16 bit: 2000 bytes per second.
var testFormat = audio.Format{SampleRate: 1000, ByteDepth: 2}

type fakeEngine struct {
	mu          sync.Mutex
	text        string
	err         error
	calls       int
	clips       [][]byte
	opened      int
	closed      int
	inFlight    int
	maxInFlight int
	delay       time.Duration
	onCall      func()
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeEngine) Transcribe(
	ctx context.Context,
	clip []byte,
	format audio.Format,
	prompt string,
) (string, error) {
	f.mu.Lock()
	f.calls++
	f.clips = append(f.clips, clip)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.onCall != nil {
		f.onCall()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	return f.text, f.err
}

func newTestAdapter(t *testing.T, engine *fakeEngine, acc *usage.Accumulator) *Adapter {
	t.Helper()
	a := NewAdapter(Options{
		Engine: engine,
		Format: testFormat,
		Usage:  acc,
		Logger: log.New(&bytes.Buffer{}),
	})
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return a
}

func feed(windows ...audio.SpeechWindow) <-chan audio.SpeechWindow {
	ch := make(chan audio.SpeechWindow, len(windows))
	for _, w := range windows {
		ch <- w
	}
	close(ch)
	return ch
}

func window(at float64, seconds float64, speaker string) audio.SpeechWindow {
	return audio.SpeechWindow{
		Data:    make([]byte, int(seconds*2000)),
		TimeNs:  int64(math.Round(at * 1e9)),
		Speaker: speaker,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestStreamSegmentBounds(t *testing.T) {
	engine := &fakeEngine{text: " hello there "}
	a := newTestAdapter(t, engine, nil)

	b, err := a.Stream(context.Background(), feed(
		window(10, 0.1, ""),
		window(10.1, 0.1, ""),
		window(10.25, 0.1, ""),
	))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if b.Segment == nil {
		t.Fatal("Stream() produced no segment")
	}
	if !almostEqual(b.Segment.Start, 10) {
		t.Errorf("Start = %v, want 10", b.Segment.Start)
	}
	if !almostEqual(b.Segment.End, 10.35) {
		t.Errorf("End = %v, want 10.35", b.Segment.End)
	}
	if b.Segment.Text != "hello there" {
		t.Errorf("Text = %q, want %q", b.Segment.Text, "hello there")
	}
	if b.Segment.Speaker != "" {
		t.Errorf("Speaker = %q, want unset", b.Segment.Speaker)
	}
	if b.Windows != 3 {
		t.Errorf("Windows = %d, want 3", b.Windows)
	}
	if b.AudioDuration != 300*time.Millisecond {
		t.Errorf("AudioDuration = %v, want 300ms", b.AudioDuration)
	}

	if engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.calls)
	}
	clip := engine.clips[0]
	if !bytes.HasPrefix(clip, []byte("RIFF")) || len(clip) != 44+600 {
		t.Errorf("clip is not a WAV of the batch: len %d", len(clip))
	}
}

func TestStreamDominantSpeaker(t *testing.T) {
	tests := []struct {
		name    string
		windows []audio.SpeechWindow
		want    string
	}{
		{
			name: "longest speaker wins",
			windows: []audio.SpeechWindow{
				window(0, 0.5, "A"),
				window(0.5, 1.5, "B"),
				window(2, 0.5, "A"),
				window(2.5, 1, "B"),
			},
			want: "B",
		},
		{
			name: "first seen wins ties",
			windows: []audio.SpeechWindow{
				window(0, 1, "A"),
				window(1, 1, "B"),
			},
			want: "A",
		},
		{
			name: "unlabelled windows do not count",
			windows: []audio.SpeechWindow{
				window(0, 3, ""),
				window(3, 0.5, "C"),
			},
			want: "C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, &fakeEngine{text: "words"}, nil)
			b, err := a.Stream(context.Background(), feed(tt.windows...))
			if err != nil {
				t.Fatalf("Stream() error = %v", err)
			}
			if b.Segment == nil || b.Segment.Speaker != tt.want {
				t.Errorf("Speaker = %+v, want %q", b.Segment, tt.want)
			}
		})
	}
}

func TestStreamNoWindows(t *testing.T) {
	engine := &fakeEngine{text: "ghost"}
	a := newTestAdapter(t, engine, nil)

	b, err := a.Stream(context.Background(), feed())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if b.Segment != nil {
		t.Errorf("Segment = %+v, want nil", b.Segment)
	}
	if engine.calls != 0 {
		t.Errorf("engine calls = %d, want 0", engine.calls)
	}
}

func TestStreamBlankText(t *testing.T) {
	acc := usage.NewAccumulator()
	a := newTestAdapter(t, &fakeEngine{text: "  \n"}, acc)

	b, err := a.Stream(context.Background(), feed(window(0, 1, "A")))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if b.Segment != nil {
		t.Errorf("Segment = %+v, want nil", b.Segment)
	}
	if got := acc.Snapshot()["fake_stt"].Usage["seconds"]; got != 1 {
		t.Errorf("seconds = %v, want 1", got)
	}
}

func TestStreamEngineError(t *testing.T) {
	boom := errors.New("boom")
	engine := &fakeEngine{err: boom}
	acc := usage.NewAccumulator()
	a := newTestAdapter(t, engine, acc)

	b, err := a.Stream(context.Background(), feed(window(0, 0.5, "A")))

	var te *TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("Stream() error = %v, want *TranscriptionError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("TranscriptionError does not wrap the cause")
	}
	if te.AudioDuration != 500*time.Millisecond {
		t.Errorf("AudioDuration = %v, want 500ms", te.AudioDuration)
	}
	if b.Segment != nil {
		t.Errorf("Segment = %+v, want nil", b.Segment)
	}
	if _, ok := acc.Snapshot()["fake_stt"]; ok {
		t.Error("failed call was billed")
	}

	if !a.gate.TryAcquire(1) {
		t.Fatal("gate still held after engine error")
	}
	a.gate.Release(1)

	engine.mu.Lock()
	engine.err = nil
	engine.text = "recovered"
	engine.mu.Unlock()

	b, err = a.Stream(context.Background(), feed(window(5, 0.25, "B")))
	if err != nil {
		t.Fatalf("Stream() after failure error = %v", err)
	}
	if b.Segment == nil || b.Segment.Text != "recovered" || b.Segment.Start != 5 {
		t.Errorf("next batch = %+v, want a clean segment at 5", b.Segment)
	}
	if len(engine.clips[1]) != 44+500 {
		t.Errorf("second clip len = %d, want %d", len(engine.clips[1]), 44+500)
	}
}

func TestStreamNotInitialized(t *testing.T) {
	engine := &fakeEngine{text: "x"}
	a := NewAdapter(Options{Engine: engine, Format: testFormat, Logger: log.New(&bytes.Buffer{})})

	if _, err := a.Stream(context.Background(), feed(window(0, 1, ""))); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Stream() before Open error = %v, want ErrNotInitialized", err)
	}

	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := a.Stream(context.Background(), feed(window(0, 1, ""))); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Stream() after Close error = %v, want ErrNotInitialized", err)
	}
	if engine.opened != 1 || engine.closed != 1 {
		t.Errorf("engine opened %d closed %d times, want 1 and 1", engine.opened, engine.closed)
	}
	if engine.calls != 0 {
		t.Errorf("engine calls = %d, want 0", engine.calls)
	}
}

func TestStreamDrift(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{text: "late"}
	a := newTestAdapter(t, engine, nil)
	a.now = func() time.Time { return clock }
	engine.onCall = func() { clock = clock.Add(3 * time.Second) }

	b, err := a.Stream(context.Background(), feed(window(0, 1, "")))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if b.Elapsed != 3*time.Second {
		t.Errorf("Elapsed = %v, want 3s", b.Elapsed)
	}
	if b.Drift != 2*time.Second {
		t.Errorf("Drift = %v, want 2s (slower than real time is positive)", b.Drift)
	}
}

func TestStreamSerializesEngineCalls(t *testing.T) {
	engine := &fakeEngine{text: "x", delay: 5 * time.Millisecond}
	a := newTestAdapter(t, engine, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := a.Stream(context.Background(), feed(window(float64(i), 0.1, ""))); err != nil {
				t.Errorf("Stream() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if engine.calls != 8 {
		t.Errorf("engine calls = %d, want 8", engine.calls)
	}
	if engine.maxInFlight != 1 {
		t.Errorf("max concurrent engine calls = %d, want 1", engine.maxInFlight)
	}
}

func TestStreamCancelled(t *testing.T) {
	engine := &fakeEngine{text: "x"}
	a := newTestAdapter(t, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	never := make(chan audio.SpeechWindow)
	if _, err := a.Stream(ctx, never); !errors.Is(err, context.Canceled) {
		t.Errorf("Stream() error = %v, want context.Canceled", err)
	}
	if engine.calls != 0 {
		t.Errorf("engine calls = %d, want 0", engine.calls)
	}
}
