// Package redis provides a data.Store on Redis sorted sets scored by
// timestamp. It registers itself as "redis" when imported:
//
//	import _ "github.com/ncobase/telemetry/data/redis"
//
// Layout, with prefix P:
//
//	P:metrics                 zset of every metric row
//	P:metrics:name:<name>     zset of rows for one metric name
//	P:metrics:names           set of known metric names
//	P:errors                  zset of every error row
//	P:errors:fp:<fingerprint> zset of rows for one fingerprint
//	P:errors:fps              set of known fingerprints
//	P:seq                     row id counter
//
// Members are "<zero-padded id>|<json>" so rows sharing a score sort by id.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/data"
	"github.com/ncobase/telemetry/metrics"
	"github.com/redis/go-redis/v9"
)

type driver struct{}

func (d *driver) Name() string {
	return "redis"
}

func (d *driver) Open(ctx context.Context, cfg *config.Data) (data.Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return New(client, cfg.KeyPrefix), nil
}

func init() {
	data.RegisterDriver(&driver{})
}

// Store implements data.Store on a redis client it owns.
type Store struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// New wraps client. keyPrefix defaults to "telemetry".
func New(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "telemetry"
	}
	return &Store{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (s *Store) key(parts ...string) string {
	k := s.keyPrefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func minScore(since time.Time) string {
	if since.IsZero() {
		return "-inf"
	}
	return strconv.FormatFloat(score(since), 'f', -1, 64)
}

// reserve allocates n consecutive row ids and returns the first.
func (s *Store) reserve(ctx context.Context, n int) (int64, error) {
	last, err := s.client.IncrBy(ctx, s.key("seq"), int64(n)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: reserve ids: %w", err)
	}
	return last - int64(n) + 1, nil
}

func (s *Store) InsertMetrics(ctx context.Context, batch []metrics.Metric) error {
	if len(batch) == 0 {
		return nil
	}
	id, err := s.reserve(ctx, len(batch))
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range batch {
			row := data.NewMetricRow(m)
			row.ID = id + int64(i)
			member, err := encodeMember(row.ID, encodeMetric(row))
			if err != nil {
				return err
			}
			z := redis.Z{Score: score(row.Timestamp), Member: member}
			pipe.ZAdd(ctx, s.key("metrics"), z)
			pipe.ZAdd(ctx, s.key("metrics", "name", row.Name), z)
			pipe.SAdd(ctx, s.key("metrics", "names"), row.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: insert metrics: %w", err)
	}
	return nil
}

func (s *Store) MetricsRecent(ctx context.Context, q data.Query) ([]data.MetricRow, error) {
	key := s.key("metrics")
	if q.Name != "" {
		key = s.key("metrics", "name", q.Name)
	}
	members, err := s.recent(ctx, key, q.Since, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("redis: query metrics: %w", err)
	}

	out := make([]data.MetricRow, 0, len(members))
	for _, member := range members {
		var rec metricRecord
		if err := decodeMember(member, &rec); err != nil {
			continue
		}
		out = append(out, rec.row())
	}
	return out, nil
}

func (s *Store) InsertErrors(ctx context.Context, rows []data.ErrorRow) error {
	if len(rows) == 0 {
		return nil
	}
	id, err := s.reserve(ctx, len(rows))
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, row := range rows {
			row.ID = id + int64(i)
			member, err := encodeMember(row.ID, encodeError(row))
			if err != nil {
				return err
			}
			z := redis.Z{Score: score(row.Timestamp), Member: member}
			pipe.ZAdd(ctx, s.key("errors"), z)
			pipe.ZAdd(ctx, s.key("errors", "fp", row.Fingerprint), z)
			pipe.SAdd(ctx, s.key("errors", "fps"), row.Fingerprint)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: insert errors: %w", err)
	}
	return nil
}

func (s *Store) ErrorsRecent(ctx context.Context, q data.ErrorQuery) ([]data.ErrorRow, error) {
	key := s.key("errors")
	if q.Fingerprint != "" {
		key = s.key("errors", "fp", q.Fingerprint)
	}
	members, err := s.recent(ctx, key, q.Since, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("redis: query errors: %w", err)
	}

	out := make([]data.ErrorRow, 0, len(members))
	for _, member := range members {
		var rec errorRecord
		if err := decodeMember(member, &rec); err != nil {
			continue
		}
		out = append(out, rec.row())
	}
	return out, nil
}

func (s *Store) recent(ctx context.Context, key string, since time.Time, limit int) ([]string, error) {
	return s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   minScore(since),
		Max:   "+inf",
		Count: int64(data.NormalizeLimit(limit)),
	}).Result()
}

// Cleanup trims every sorted set. The returned count covers the global sets,
// which hold each row exactly once.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := data.Cutoff(s.now(), retentionDays)
	if cutoff.IsZero() {
		return 0, nil
	}
	upper := "(" + strconv.FormatFloat(score(cutoff), 'f', -1, 64)

	var total int64
	for _, kind := range []struct{ all, index, sub string }{
		{s.key("metrics"), s.key("metrics", "names"), "name"},
		{s.key("errors"), s.key("errors", "fps"), "fp"},
	} {
		n, err := s.client.ZRemRangeByScore(ctx, kind.all, "-inf", upper).Result()
		if err != nil {
			return total, fmt.Errorf("redis: cleanup %s: %w", kind.all, err)
		}
		total += n

		members, err := s.client.SMembers(ctx, kind.index).Result()
		if err != nil {
			return total, fmt.Errorf("redis: cleanup %s: %w", kind.index, err)
		}
		all := kind.all
		pipe := s.client.Pipeline()
		for _, m := range members {
			pipe.ZRemRangeByScore(ctx, all+":"+kind.sub+":"+m, "-inf", upper)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return total, fmt.Errorf("redis: cleanup %s: %w", kind.index, err)
		}
	}
	return total, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// idWidth fits any int64 so the lexical order of ids matches numeric order.
const idWidth = 20

func encodeMember(id int64, rec any) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d|%s", idWidth, id, b), nil
}

func decodeMember(member string, rec any) error {
	if len(member) <= idWidth || member[idWidth] != '|' {
		return fmt.Errorf("redis: malformed member %.32q", member)
	}
	return json.Unmarshal([]byte(member[idWidth+1:]), rec)
}

type metricRecord struct {
	ID        int64             `json:"id"`
	Timestamp int64             `json:"ts"`
	Name      string            `json:"name"`
	Kind      metrics.Kind      `json:"kind"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Metadata  json.RawMessage   `json:"metadata,omitempty"`
}

func encodeMetric(row data.MetricRow) metricRecord {
	return metricRecord{
		ID:        row.ID,
		Timestamp: row.Timestamp.UnixNano(),
		Name:      row.Name,
		Kind:      row.Kind,
		Value:     row.Value,
		Tags:      row.Tags,
		Metadata:  json.RawMessage(data.EncodeMap(row.Metadata)),
	}
}

func (r metricRecord) row() data.MetricRow {
	tags := r.Tags
	if tags == nil {
		tags = make(map[string]string)
	}
	return data.MetricRow{
		ID:        r.ID,
		Timestamp: time.Unix(0, r.Timestamp),
		Name:      r.Name,
		Kind:      r.Kind,
		Value:     r.Value,
		Tags:      tags,
		Metadata:  data.DecodeMap(string(r.Metadata)),
	}
}

type errorRecord struct {
	ID          int64           `json:"id"`
	Timestamp   int64           `json:"ts"`
	Fingerprint string          `json:"fingerprint"`
	ErrorType   string          `json:"error_type"`
	Message     string          `json:"message"`
	Stack       string          `json:"stack,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
}

func encodeError(row data.ErrorRow) errorRecord {
	return errorRecord{
		ID:          row.ID,
		Timestamp:   row.Timestamp.UnixNano(),
		Fingerprint: row.Fingerprint,
		ErrorType:   row.ErrorType,
		Message:     row.Message,
		Stack:       row.Stack,
		Context:     json.RawMessage(data.EncodeMap(row.Context)),
	}
}

func (r errorRecord) row() data.ErrorRow {
	return data.ErrorRow{
		ID:          r.ID,
		Timestamp:   time.Unix(0, r.Timestamp),
		Fingerprint: r.Fingerprint,
		ErrorType:   r.ErrorType,
		Message:     r.Message,
		Stack:       r.Stack,
		Context:     data.DecodeMap(string(r.Context)),
	}
}
