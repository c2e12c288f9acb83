// Package live fans out change notifications for session resources to
// subscribers, each on its own goroutine.
package live

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Resource identifiers.
const (
	// TranscriptResource changes when a participant finishes an utterance.
	TranscriptResource = "transcript://live"

	// SegmentsResource changes on every new segment, whoever spoke.
	SegmentsResource = "transcript://live/segments"

	UsageResource = "usage://current"
)

// DefaultBuffer is how many undelivered notifications a subscriber may
// have before new ones are dropped.
const DefaultBuffer = 16

type subscriber struct {
	resource string
	fn       func() error
	notes    chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

type Publisher struct {
	logger *log.Logger
	buffer int

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool

	wg sync.WaitGroup
}

func NewPublisher(logger *log.Logger, buffer int) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		logger: logger,
		buffer: buffer,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers fn for resource. The returned function unsubscribes
// and may be called any number of times; once it has returned, fn is not
// called for notifications still queued or published later.
func (p *Publisher) Subscribe(resource string, fn func() error) func() {
	sub := &subscriber{
		resource: resource,
		fn:       fn,
		notes:    make(chan struct{}, p.buffer),
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return func() {}
	}
	set, ok := p.subs[resource]
	if !ok {
		set = make(map[*subscriber]struct{})
		p.subs[resource] = set
	}
	set[sub] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.deliver(sub)
	p.logger.Debug("subscribe", "resource", resource)

	return func() {
		p.mu.Lock()
		if set, ok := p.subs[resource]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(p.subs, resource)
			}
		}
		p.mu.Unlock()
		sub.stop()
	}
}

// Publish notifies every subscriber of resource without blocking and
// returns how many notifications were queued.
func (p *Publisher) Publish(resource string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0
	}
	n := 0
	for sub := range p.subs[resource] {
		select {
		case sub.notes <- struct{}{}:
			n++
		default:
			p.logger.Warn("subscriber behind, dropping", "resource", resource)
		}
	}
	return n
}

// Subscribers returns the number of live subscriptions to resource.
func (p *Publisher) Subscribers(resource string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[resource])
}

// Close stops every subscriber and waits for callbacks in progress.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var all []*subscriber
	for _, set := range p.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	p.subs = make(map[string]map[*subscriber]struct{})
	p.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
	p.wg.Wait()
}

func (p *Publisher) deliver(sub *subscriber) {
	defer p.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notes:
		}

		select {
		case <-sub.done:
			return
		default:
		}

		if err := p.call(sub); err != nil {
			p.logger.Warn("notify", "resource", sub.resource, "err", err)
		}
	}
}

func (p *Publisher) call(sub *subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.fn()
}
