package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultAlertKey is the redis list critical alerts are pushed to
const DefaultAlertKey = "fieldsync:alerts"

// RedisAlertSink pushes alerts onto a capped redis list so an operator can
// pick up quarantined actions and exhausted retries. Events are ignored.
type RedisAlertSink struct {
	client  redis.Cmdable
	key     string
	maxLen  int64
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// AlertEntry is the JSON payload stored per alert
type AlertEntry struct {
	Name   string    `json:"name"`
	At     time.Time `json:"at"`
	Fields Fields    `json:"fields,omitempty"`
}

// NewRedisAlertSink creates a sink writing to key, keeping at most maxLen entries
func NewRedisAlertSink(client redis.Cmdable, key string, maxLen int64, logger zerolog.Logger) *RedisAlertSink {
	if key == "" {
		key = DefaultAlertKey
	}
	return &RedisAlertSink{
		client:  client,
		key:     key,
		maxLen:  maxLen,
		timeout: 2 * time.Second,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *RedisAlertSink) Event(string, Fields) {}

func (s *RedisAlertSink) Alert(name string, fields Fields) {
	data, err := json.Marshal(AlertEntry{Name: name, At: s.now().UTC(), Fields: fields})
	if err != nil {
		s.logger.Warn().Err(err).Str("alert", name).Msg("encode alert")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.LPush(ctx, s.key, data).Err(); err != nil {
		s.logger.Warn().Err(err).Str("alert", name).Msg("alert push")
		return
	}
	if s.maxLen > 0 {
		if err := s.client.LTrim(ctx, s.key, 0, s.maxLen-1).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("alert list trim")
		}
	}
}

// Recent returns up to n newest alerts from the list
func (s *RedisAlertSink) Recent(ctx context.Context, n int64) ([]AlertEntry, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]AlertEntry, 0, len(raw))
	for _, r := range raw {
		var e AlertEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
