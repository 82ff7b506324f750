package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// SeriesStats summarizes one (name, tag set) group inside a window.
type SeriesStats struct {
	Key   string            `json:"key"`
	Name  string            `json:"name"`
	Tags  map[string]string `json:"tags,omitempty"`
	Kind  Kind              `json:"kind"`
	Count int               `json:"count"`
	Sum   float64           `json:"sum"`
	Avg   float64           `json:"avg"`
	Min   float64           `json:"min"`
	Max   float64           `json:"max"`
}

func (s *SeriesStats) observe(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Count++
	s.Sum += v
	s.Avg = s.Sum / float64(s.Count)
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRetention sets how long raw observations are kept. Default one hour.
func WithRetention(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithMaxSamples caps the number of raw observations held; the oldest are
// evicted first. Zero means no cap.
func WithMaxSamples(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n >= 0 {
			a.maxSamples = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator keeps raw observations in arrival order and answers windowed
// group queries. Expired entries are popped from the front only, so pruning
// costs the number of expired entries, not the total held.
type Aggregator struct {
	mu         sync.Mutex
	items      []Metric
	head       int
	retention  time.Duration
	maxSamples int
	now        func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		retention: time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add records one observation.
func (a *Aggregator) Add(m Metric) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-a.retention)
	a.prune(cutoff)
	a.push(m, cutoff)
}

// AddBatch records a batch under one lock acquisition, so readers see all of
// it or none of it.
func (a *Aggregator) AddBatch(ms []Metric) {
	if len(ms) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-a.retention)
	a.prune(cutoff)
	for _, m := range ms {
		a.push(m, cutoff)
	}
}

func (a *Aggregator) push(m Metric, cutoff time.Time) {
	if m.timestamp.Before(cutoff) {
		return
	}
	a.items = append(a.items, m)
	if a.maxSamples > 0 {
		for len(a.items)-a.head > a.maxSamples {
			a.popFront()
		}
	}
}

// prune must be called with mu held.
func (a *Aggregator) prune(cutoff time.Time) {
	for a.head < len(a.items) && a.items[a.head].timestamp.Before(cutoff) {
		a.popFront()
	}
	a.compact()
}

func (a *Aggregator) popFront() {
	a.items[a.head] = Metric{}
	a.head++
}

// compact releases the popped prefix once it dominates the slice.
func (a *Aggregator) compact() {
	if a.head == len(a.items) {
		a.items = a.items[:0]
		a.head = 0
		return
	}
	if a.head > 1024 && a.head*2 > len(a.items) {
		n := copy(a.items, a.items[a.head:])
		clear(a.items[n:])
		a.items = a.items[:n]
		a.head = 0
	}
}

// Snapshot groups the observations of the trailing window by series. The
// result is sorted by series key and never nil.
func (a *Aggregator) Snapshot(window time.Duration) []SeriesStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.prune(now.Add(-a.retention))
	cutoff := now.Add(-window)

	groups := make(map[string]*SeriesStats)
	for _, m := range a.items[a.head:] {
		if m.timestamp.Before(cutoff) {
			continue
		}
		key := m.SeriesKey()
		s, ok := groups[key]
		if !ok {
			s = &SeriesStats{Key: key, Name: m.name, Tags: m.Tags(), Kind: m.kind}
			groups[key] = s
		}
		s.observe(m.value)
	}

	out := make([]SeriesStats, 0, len(groups))
	for _, s := range groups {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Summary folds every tag set of name within window into one result.
func (a *Aggregator) Summary(name string, window time.Duration) (SeriesStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.prune(now.Add(-a.retention))
	cutoff := now.Add(-window)

	s := SeriesStats{Key: name, Name: name}
	for _, m := range a.items[a.head:] {
		if m.name != name || m.timestamp.Before(cutoff) {
			continue
		}
		s.Kind = m.kind
		s.observe(m.value)
	}
	return s, s.Count > 0
}

// Recent returns up to limit of the most recently added observations,
// oldest first.
func (a *Aggregator) Recent(limit int) []Metric {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prune(a.now().Add(-a.retention))
	live := a.items[a.head:]
	if limit <= 0 {
		return []Metric{}
	}
	if limit > len(live) {
		limit = len(live)
	}
	out := make([]Metric, limit)
	copy(out, live[len(live)-limit:])
	return out
}

// Retention returns how long raw observations are kept.
func (a *Aggregator) Retention() time.Duration {
	return a.retention
}

// Len returns the number of observations held.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items) - a.head
}
