package metrics

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ncobase/telemetry/ecode"
)

const (
	// MaxTags bounds the tag set of a single metric.
	MaxTags = 32
	// MaxMetadataValue is the length after which metadata strings are cut.
	MaxMetadataValue = 1024
)

// ErrInvalidMetric is returned by every constructor on malformed input.
var ErrInvalidMetric = errors.New("invalid metric")

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

// Kind is the metric type.
type Kind string

const (
	Counter   Kind = "counter"
	Gauge     Kind = "gauge"
	Histogram Kind = "histogram"
	Timer     Kind = "timer"
)

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Counter, Gauge, Histogram, Timer:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidMetric, ecode.FieldIsInvalid("kind "+s))
	}
}

// Metric is one timestamped observation. Fields are unexported so a Metric
// cannot change after construction; accessors return copies of the maps.
type Metric struct {
	name      string
	value     float64
	kind      Kind
	timestamp time.Time
	tags      map[string]string
	metadata  map[string]any
}

// Option customizes a metric under construction.
type Option func(*Metric)

// WithTags merges tags into the metric.
func WithTags(tags map[string]string) Option {
	return func(m *Metric) {
		for k, v := range tags {
			m.tags[k] = v
		}
	}
}

// WithTag sets a single tag.
func WithTag(key, value string) Option {
	return func(m *Metric) {
		m.tags[key] = value
	}
}

// WithMetadata merges metadata into the metric.
func WithMetadata(md map[string]any) Option {
	return func(m *Metric) {
		for k, v := range md {
			m.metadata[k] = v
		}
	}
}

// WithTimestamp overrides the observation time, which defaults to now.
func WithTimestamp(ts time.Time) Option {
	return func(m *Metric) {
		m.timestamp = ts
	}
}

// New validates and builds a metric.
func New(name string, value float64, kind Kind, opts ...Option) (Metric, error) {
	m := Metric{
		name:     name,
		value:    value,
		kind:     kind,
		tags:     make(map[string]string),
		metadata: make(map[string]any),
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.timestamp.IsZero() {
		m.timestamp = time.Now()
	}
	if err := m.validate(); err != nil {
		return Metric{}, err
	}
	for k, v := range m.metadata {
		m.metadata[k] = truncateValue(v)
	}
	return m, nil
}

// MustNew is New for static inputs; it panics on error.
func MustNew(name string, value float64, kind Kind, opts ...Option) Metric {
	m, err := New(name, value, kind, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metric) validate() error {
	invalid := func(msg string) error {
		return fmt.Errorf("%w: %s", ErrInvalidMetric, msg)
	}
	if m.name == "" {
		return invalid(ecode.FieldIsRequired("name"))
	}
	if !namePattern.MatchString(m.name) {
		return invalid(ecode.FieldIsInvalid("name " + m.name))
	}
	switch m.kind {
	case Counter, Gauge, Histogram, Timer:
	default:
		return invalid(ecode.FieldIsInvalid("kind " + string(m.kind)))
	}
	if math.IsNaN(m.value) || math.IsInf(m.value, 0) {
		return invalid(ecode.FieldIsInvalid("value"))
	}
	if m.kind == Counter && m.value < 0 {
		return invalid(ecode.FieldOutOfRange("counter value"))
	}
	if len(m.tags) > MaxTags {
		return invalid(ecode.FieldOutOfRange("tags"))
	}
	for k := range m.tags {
		if k == "" {
			return invalid(ecode.FieldIsEmpty("tag key"))
		}
	}
	return nil
}

func truncateValue(v any) any {
	switch s := v.(type) {
	case string:
		if len(s) > MaxMetadataValue {
			return s[:MaxMetadataValue] + "..."
		}
	case []byte:
		if len(s) > MaxMetadataValue {
			return string(s[:MaxMetadataValue]) + "..."
		}
		return string(s)
	}
	return v
}

func (m Metric) Name() string         { return m.name }
func (m Metric) Value() float64       { return m.value }
func (m Metric) Kind() Kind           { return m.kind }
func (m Metric) Timestamp() time.Time { return m.timestamp }

// Tag returns one tag value.
func (m Metric) Tag(key string) (string, bool) {
	v, ok := m.tags[key]
	return v, ok
}

// Tags returns a copy of the tag set.
func (m Metric) Tags() map[string]string {
	out := make(map[string]string, len(m.tags))
	for k, v := range m.tags {
		out[k] = v
	}
	return out
}

// Metadata returns a copy of the metadata.
func (m Metric) Metadata() map[string]any {
	out := make(map[string]any, len(m.metadata))
	for k, v := range m.metadata {
		out[k] = v
	}
	return out
}

// SeriesKey identifies the (name, tag set) group of the metric.
func (m Metric) SeriesKey() string {
	return SeriesKey(m.name, m.tags)
}

func (m Metric) String() string {
	return fmt.Sprintf("%s %s=%g", m.kind, m.SeriesKey(), m.value)
}

// SeriesKey renders name and tags in a canonical form, so tag order never
// splits one series into two: name{a=1,b=2}.
func SeriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}
