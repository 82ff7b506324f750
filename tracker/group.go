package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Group is a snapshot of one error group. Groups returned by the aggregator
// are copies and safe to keep.
type Group struct {
	ID          uuid.UUID      `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	ErrorType   string         `json:"error_type"`
	StackHash   string         `json:"stack_hash"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
	Count       int64          `json:"count"`
	LastMessage string         `json:"last_message"`
	LastContext map[string]any `json:"last_context,omitempty"`
	Occurrences []time.Time    `json:"-"`
}

// Rate returns occurrences per minute over the window ending at now,
// counted from the bounded occurrence list.
func (g Group) Rate(window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)
	n := 0
	for _, at := range g.Occurrences {
		if at.After(cutoff) && !at.After(now) {
			n++
		}
	}
	return float64(n) / window.Minutes()
}

// group is the mutable state behind a Group.
type group struct {
	id          uuid.UUID
	fingerprint string
	errorType   string
	stackHash   string
	firstSeen   time.Time
	lastSeen    time.Time
	count       int64
	lastMessage string
	lastContext map[string]any
	occurrences []time.Time
}

func (g *group) record(at time.Time, message string, ctx map[string]any, maxOccurrences int) {
	g.count++
	if at.After(g.lastSeen) {
		g.lastSeen = at
	}
	g.lastMessage = message
	g.lastContext = ctx
	g.occurrences = append(g.occurrences, at)
	if over := len(g.occurrences) - maxOccurrences; over > 0 {
		g.occurrences = append(g.occurrences[:0], g.occurrences[over:]...)
	}
}

func (g *group) snapshot() Group {
	occ := make([]time.Time, len(g.occurrences))
	copy(occ, g.occurrences)
	return Group{
		ID:          g.id,
		Fingerprint: g.fingerprint,
		ErrorType:   g.errorType,
		StackHash:   g.stackHash,
		FirstSeen:   g.firstSeen,
		LastSeen:    g.lastSeen,
		Count:       g.count,
		LastMessage: g.lastMessage,
		LastContext: copyContext(g.lastContext),
		Occurrences: occ,
	}
}

func copyContext(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
