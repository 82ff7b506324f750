// Package tracker groups repeated errors by a stable fingerprint, answers
// trend and top-N queries over them, and feeds counters, alerts and the
// error store from a single non-panicking entry point.
package tracker

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ncobase/telemetry/config"
)

const (
	DefaultAggregationWindow = 5 * time.Minute
	DefaultRetention         = 24 * time.Hour
	DefaultMaxOccurrences    = 100
	DefaultMaxMessageLength  = 512
)

// Report is one error occurrence.
type Report struct {
	Type    string
	Message string
	Stack   string
	Context map[string]any
	At      time.Time
}

// TrendPoint is one bucket of a trend series.
type TrendPoint struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithAggregationWindow sets how long after its last occurrence a group may
// still absorb new reports. Past it the next report opens a new group.
func WithAggregationWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithRetention sets how long occurrences are kept in memory.
func WithRetention(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithMaxOccurrences bounds the per-group occurrence list used by Rate.
func WithMaxOccurrences(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxOccurrences = n
		}
	}
}

// WithMaxMessageLength bounds the stored message.
func WithMaxMessageLength(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxMessage = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// FromConfig turns the errors section into aggregator options.
func FromConfig(cfg *config.Errors) []Option {
	if cfg == nil {
		return nil
	}
	return []Option{
		WithAggregationWindow(cfg.AggregationWindow),
		WithRetention(cfg.Retention),
		WithMaxOccurrences(cfg.MaxOccurrences),
		WithMaxMessageLength(cfg.MaxMessageLength),
	}
}

type occurrence struct {
	fingerprint string
	groupID     uuid.UUID
	errorType   string
	at          time.Time
}

// Aggregator holds error groups keyed by fingerprint plus a deque of every
// occurrence in arrival order. The deque drives both trends and eviction.
type Aggregator struct {
	mu             sync.Mutex
	groups         map[string]*group
	occ            []occurrence
	head           int
	window         time.Duration
	retention      time.Duration
	maxOccurrences int
	maxMessage     int
	now            func() time.Time
}

// NewAggregator creates an empty error aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		groups:         make(map[string]*group),
		window:         DefaultAggregationWindow,
		retention:      DefaultRetention,
		maxOccurrences: DefaultMaxOccurrences,
		maxMessage:     DefaultMaxMessageLength,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add records r and returns a snapshot of its group. The flag is true when
// the report opened a group, either for the first time or after the previous
// group under the same fingerprint went quiet for longer than the
// aggregation window.
func (a *Aggregator) Add(r Report) (Group, bool) {
	if r.At.IsZero() {
		r.At = a.now()
	}
	if r.Type == "" {
		r.Type = "unknown"
	}
	stackHash := StackHash(r.Stack)
	fp := Fingerprint(r.Type, stackHash)
	msg := truncate(r.Message, a.maxMessage)
	ctx := copyContext(r.Context)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.prune(a.now().Add(-a.retention))

	g, ok := a.groups[fp]
	isNew := !ok || g.lastSeen.Before(r.At.Add(-a.window))
	if isNew {
		g = &group{
			id:          uuid.New(),
			fingerprint: fp,
			errorType:   r.Type,
			stackHash:   stackHash,
			firstSeen:   r.At,
			lastSeen:    r.At,
		}
		a.groups[fp] = g
	}
	g.record(r.At, msg, ctx, a.maxOccurrences)
	a.occ = append(a.occ, occurrence{fingerprint: fp, groupID: g.id, errorType: r.Type, at: r.At})
	return g.snapshot(), isNew
}

// Get returns the current group for fingerprint.
func (a *Aggregator) Get(fingerprint string) (Group, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prune(a.now().Add(-a.retention))
	g, ok := a.groups[fingerprint]
	if !ok {
		return Group{}, false
	}
	return g.snapshot(), true
}

// Groups returns every live group, most recently seen first.
func (a *Aggregator) Groups() []Group {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prune(a.now().Add(-a.retention))
	out := make([]Group, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, g.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// TopErrors returns up to limit groups seen within window, ordered by count
// and then by recency.
func (a *Aggregator) TopErrors(limit int, window time.Duration) []Group {
	if limit <= 0 {
		return []Group{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.prune(now.Add(-a.retention))

	cutoff := now.Add(-window)
	out := make([]Group, 0, len(a.groups))
	for _, g := range a.groups {
		if window > 0 && g.lastSeen.Before(cutoff) {
			continue
		}
		out = append(out, g.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Trend counts occurrences in consecutive buckets covering window and ending
// now. Empty buckets are reported with a zero count.
func (a *Aggregator) Trend(window, bucket time.Duration) []TrendPoint {
	if window <= 0 || bucket <= 0 {
		return []TrendPoint{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.prune(now.Add(-a.retention))

	n := int((window + bucket - 1) / bucket)
	start := now.Add(-time.Duration(n) * bucket)
	points := make([]TrendPoint, n)
	for i := range points {
		points[i].Start = start.Add(time.Duration(i) * bucket)
	}
	for _, o := range a.occ[a.head:] {
		if o.at.Before(start) || o.at.After(now) {
			continue
		}
		idx := int(o.at.Sub(start) / bucket)
		if idx >= n {
			idx = n - 1
		}
		points[idx].Count++
	}
	return points
}

// Len returns the number of live groups.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prune(a.now().Add(-a.retention))
	return len(a.groups)
}

// Window returns the aggregation window.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// windowStats counts occurrences, distinct groups and per-type totals for
// the analyzer in one pass.
func (a *Aggregator) windowStats(window time.Duration) (total int, groups int, byType map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.prune(now.Add(-a.retention))

	cutoff := now.Add(-window)
	byType = make(map[string]int)
	seen := make(map[uuid.UUID]struct{})
	for _, o := range a.occ[a.head:] {
		if !o.at.After(cutoff) || o.at.After(now) {
			continue
		}
		total++
		byType[o.errorType]++
		seen[o.groupID] = struct{}{}
	}
	return total, len(seen), byType
}

// prune pops expired occurrences and evicts a group once its last
// occurrence is gone. Must be called with mu held.
func (a *Aggregator) prune(cutoff time.Time) {
	for a.head < len(a.occ) && a.occ[a.head].at.Before(cutoff) {
		o := a.occ[a.head]
		a.occ[a.head] = occurrence{}
		a.head++
		if g, ok := a.groups[o.fingerprint]; ok && g.id == o.groupID && g.lastSeen.Before(cutoff) {
			delete(a.groups, o.fingerprint)
		}
	}
	if a.head > 1024 && a.head*2 > len(a.occ) {
		n := copy(a.occ, a.occ[a.head:])
		clear(a.occ[n:])
		a.occ = a.occ[:n]
		a.head = 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
