// Package usage tracks per-service consumption counters (audio seconds,
// characters, tokens) for a meeting session.
package usage

import (
	"sort"
	"sync"
)

// Record holds the counters and metadata of one service.
type Record struct {
	Service string             `json:"service"`
	Usage   map[string]float64 `json:"usage"`
	Meta    map[string]string  `json:"meta"`
}

// Usage maps service name to its record.
type Usage map[string]Record

func (r Record) clone() Record {
	out := Record{
		Service: r.Service,
		Usage:   make(map[string]float64, len(r.Usage)),
		Meta:    make(map[string]string, len(r.Meta)),
	}
	for k, v := range r.Usage {
		out.Usage[k] = v
	}
	for k, v := range r.Meta {
		out.Meta[k] = v
	}
	return out
}

// add folds counters and metadata of o into r in place; o's metadata wins.
func (r *Record) add(counters map[string]float64, meta map[string]string) {
	for k, v := range counters {
		r.Usage[k] += v
	}
	for k, v := range meta {
		r.Meta[k] = v
	}
}

// Merge returns a new Usage with counters summed key by key and metadata
// shallow-merged, b winning on collisions. Neither argument is modified.
func Merge(a, b Usage) Usage {
	out := make(Usage, len(a)+len(b))
	for service, rec := range a {
		out[service] = rec.clone()
	}
	for service, rec := range b {
		cur, ok := out[service]
		if !ok {
			out[service] = rec.clone()
			continue
		}
		cur.add(rec.Usage, rec.Meta)
		out[service] = cur
	}
	return out
}

// Services lists the service names in order.
func (u Usage) Services() []string {
	names := make([]string, 0, len(u))
	for name := range u {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Accumulator is the session-wide usage sink. It is safe for concurrent
// use by every task of the session.
type Accumulator struct {
	mu    sync.Mutex
	usage Usage
}

func NewAccumulator() *Accumulator {
	return &Accumulator{usage: make(Usage)}
}

// Add adds delta to the counters of service and merges meta into its
// metadata.
func (a *Accumulator) Add(
	service string,
	delta map[string]float64,
	meta map[string]string,
) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.usage[service]
	if !ok {
		rec = Record{
			Service: service,
			Usage:   make(map[string]float64),
			Meta:    make(map[string]string),
		}
	}
	rec.add(delta, meta)
	a.usage[service] = rec
}

// Merge folds another usage report into the accumulator.
func (a *Accumulator) Merge(u Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = Merge(a.usage, u)
}

// Snapshot returns a deep copy of the current usage.
func (a *Accumulator) Snapshot() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Merge(a.usage, nil)
}
