package tracker

import "time"

// Summary describes error activity inside a window.
type Summary struct {
	Window        time.Duration `json:"window"`
	Occurrences   int           `json:"occurrences"`
	Groups        int           `json:"groups"`
	RatePerMinute float64       `json:"rate_per_minute"`
	TopType       string        `json:"top_type,omitempty"`
}

// Spike is the outcome of a spike check.
type Spike struct {
	Detected bool    `json:"detected"`
	Current  int     `json:"current"`
	Baseline float64 `json:"baseline"`
	Factor   float64 `json:"factor"`
}

// Analyzer answers derived questions over an Aggregator.
type Analyzer struct {
	agg *Aggregator
}

// NewAnalyzer wraps agg.
func NewAnalyzer(agg *Aggregator) *Analyzer {
	return &Analyzer{agg: agg}
}

// Summary totals occurrences in window. Ties for the top type go to the
// lexically smaller name.
func (a *Analyzer) Summary(window time.Duration) Summary {
	s := Summary{Window: window}
	if window <= 0 {
		return s
	}
	total, groups, byType := a.agg.windowStats(window)
	s.Occurrences = total
	s.Groups = groups
	s.RatePerMinute = float64(total) / window.Minutes()
	best := 0
	for t, n := range byType {
		if n > best || (n == best && t < s.TopType) {
			best, s.TopType = n, t
		}
	}
	return s
}

// DetectSpike splits window into buckets and compares the newest bucket to
// the mean of the others. With a zero baseline any bucket reaching factor
// occurrences counts as a spike.
func (a *Analyzer) DetectSpike(window, bucket time.Duration, factor float64) Spike {
	sp := Spike{Factor: factor}
	points := a.agg.Trend(window, bucket)
	if len(points) < 2 || factor <= 0 {
		return sp
	}
	last := len(points) - 1
	sum := 0
	for _, p := range points[:last] {
		sum += p.Count
	}
	sp.Current = points[last].Count
	sp.Baseline = float64(sum) / float64(last)
	if sp.Current == 0 {
		return sp
	}
	if sp.Baseline == 0 {
		sp.Detected = float64(sp.Current) >= factor
	} else {
		sp.Detected = float64(sp.Current) >= factor*sp.Baseline
	}
	return sp
}
