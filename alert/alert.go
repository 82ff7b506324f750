// Package alert delivers deduplicated, rate-limited alerts to a set of
// pluggable channels.
package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/ncobase/telemetry/ecode"
)

// Level is the alert severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelInfo, LevelWarning, LevelError, LevelCritical:
		return l, nil
	}
	return "", errors.New(ecode.FieldIsInvalid("level " + s))
}

// Outcome is what SendAlert did with an alert. Delivered means the alert
// passed dedup and suppression and was queued for the channels.
type Outcome string

const (
	Delivered    Outcome = "delivered"
	Dropped      Outcome = "dropped"
	Deduplicated Outcome = "deduplicated"
	Suppressed   Outcome = "suppressed"
	NoChannels   Outcome = "no_channels"
	NotTriggered Outcome = "not_triggered"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idSize     = 16
)

// Alert is one notification.
type Alert struct {
	ID        string         `json:"id"`
	Level     Level          `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New builds an alert stamped with at and a fresh id.
func New(level Level, title, message string, details map[string]any, at time.Time) Alert {
	return Alert{
		ID:        gonanoid.MustGenerate(idAlphabet, idSize),
		Level:     level,
		Title:     title,
		Message:   message,
		Details:   copyDetails(details),
		Timestamp: at,
	}
}

// Fingerprint hashes the alert content. ID and Timestamp are excluded, so two
// alerts saying the same thing share a fingerprint.
func (a Alert) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(a.Level))
	h.Write([]byte{0})
	h.Write([]byte(a.Title))
	h.Write([]byte{0})
	h.Write([]byte(a.Message))
	h.Write([]byte{0})
	// json sorts map keys, which makes the encoding canonical
	if b, err := json.Marshal(a.Details); err == nil {
		h.Write(b)
	} else {
		fmt.Fprint(h, a.Details)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Text renders the alert as plain text for chat and email bodies.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n%s", strings.ToUpper(string(a.Level)), a.Title, a.Message)
	if len(a.Details) > 0 {
		keys := sortedKeys(a.Details)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, a.Details[k])
		}
	}
	fmt.Fprintf(&b, "\n\n%s", a.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

func copyDetails(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
