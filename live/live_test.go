package live

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func newTestPublisher() *Publisher {
	return NewPublisher(log.New(&bytes.Buffer{}), 4)
}

func expectCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not called")
	}
}

func expectNoCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
		t.Fatal("unexpected callback")
	case <-time.After(50 * time.Millisecond):
	}
}

func counter() (func() error, <-chan struct{}) {
	calls := make(chan struct{}, 100)
	return func() error {
		calls <- struct{}{}
		return nil
	}, calls
}

func TestSubscribeOneNotifyPerPublish(t *testing.T) {
	p := newTestPublisher()
	defer p.Close()

	fn, calls := counter()
	unsubscribe := p.Subscribe(SegmentsResource, fn)

	if n := p.Publish(SegmentsResource); n != 1 {
		t.Errorf("Publish() = %d, want 1", n)
	}
	expectCall(t, calls)
	expectNoCall(t, calls)

	unsubscribe()
	if n := p.Publish(SegmentsResource); n != 0 {
		t.Errorf("Publish() after unsubscribe = %d, want 0", n)
	}
	expectNoCall(t, calls)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	p := newTestPublisher()
	defer p.Close()

	fn, _ := counter()
	unsubscribe := p.Subscribe(TranscriptResource, fn)
	other := p.Subscribe(TranscriptResource, fn)

	unsubscribe()
	unsubscribe()

	if got := p.Subscribers(TranscriptResource); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
	other()
	if got := p.Subscribers(TranscriptResource); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}
}

func TestResourcesAreIndependent(t *testing.T) {
	p := newTestPublisher()
	defer p.Close()

	fn, calls := counter()
	p.Subscribe(TranscriptResource, fn)

	p.Publish(SegmentsResource)
	p.Publish(UsageResource)
	expectNoCall(t, calls)

	p.Publish(TranscriptResource)
	expectCall(t, calls)
}

func TestFailingSubscribersAreIsolated(t *testing.T) {
	p := newTestPublisher()
	defer p.Close()

	p.Subscribe(SegmentsResource, func() error { panic("boom") })
	p.Subscribe(SegmentsResource, func() error { return errors.New("closed pipe") })
	fn, calls := counter()
	p.Subscribe(SegmentsResource, fn)

	for i := 0; i < 3; i++ {
		if n := p.Publish(SegmentsResource); n != 3 {
			t.Errorf("Publish() = %d, want 3", n)
		}
		expectCall(t, calls)
	}
}

func TestSlowSubscriberDoesNotStall(t *testing.T) {
	p := newTestPublisher()

	release := make(chan struct{})
	var slowCalls atomic.Int32
	p.Subscribe(SegmentsResource, func() error {
		slowCalls.Add(1)
		<-release
		return nil
	})
	fn, calls := counter()
	p.Subscribe(SegmentsResource, fn)

	const n = 50
	start := time.Now()
	for i := 0; i < n; i++ {
		p.Publish(SegmentsResource)
		expectCall(t, calls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("publishing took %s", elapsed)
	}

	close(release)
	p.Close()

	if got := slowCalls.Load(); got >= n {
		t.Errorf("slow subscriber got %d notifications, want some dropped", got)
	}
}

func TestClose(t *testing.T) {
	p := newTestPublisher()

	fn, calls := counter()
	p.Subscribe(UsageResource, fn)
	p.Close()
	p.Close()

	if n := p.Publish(UsageResource); n != 0 {
		t.Errorf("Publish() after Close = %d, want 0", n)
	}
	expectNoCall(t, calls)

	unsubscribe := p.Subscribe(UsageResource, fn)
	unsubscribe()
	if got := p.Subscribers(UsageResource); got != 0 {
		t.Errorf("Subscribers() after Close = %d, want 0", got)
	}
}
