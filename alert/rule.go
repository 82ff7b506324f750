package alert

import (
	"sync"
	"time"
)

// Rule decides whether an observed value should raise an alert.
type Rule interface {
	Evaluate(value float64, at time.Time) bool
}

// ThresholdRule fires when the value reaches Threshold.
type ThresholdRule struct {
	Threshold float64
}

// Evaluate implements Rule.
func (r ThresholdRule) Evaluate(value float64, _ time.Time) bool {
	return value >= r.Threshold
}

// RateRule fires while at least Threshold evaluations fall inside Window.
// The value is ignored. Only the newest Threshold timestamps are kept, which
// is all the check needs.
type RateRule struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	times     []time.Time
}

// NewRateRule creates a rate rule.
func NewRateRule(threshold int, window time.Duration) *RateRule {
	if threshold < 1 {
		threshold = 1
	}
	return &RateRule{threshold: threshold, window: window}
}

// Evaluate records one event at at and reports whether the rate is reached.
func (r *RateRule) Evaluate(_ float64, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.times = append(r.times, at)
	if over := len(r.times) - r.threshold; over > 0 {
		r.times = append(r.times[:0], r.times[over:]...)
	}
	cutoff := at.Add(-r.window)
	i := 0
	for i < len(r.times) && !r.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.times = append(r.times[:0], r.times[i:]...)
	}
	return len(r.times) >= r.threshold
}
