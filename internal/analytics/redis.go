// Package analytics counts dispatch outcomes in Redis, bucketed by hour.
package analytics

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/buildhook/internal/domain"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	keyPrefix        = "buildhook"
	bucketLayout     = "2006010215"
)

type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	timeout   time.Duration
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		timeout:   2 * time.Second,
	}
}

// WithRetention sets how long hourly buckets are kept.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// Record increments the outcome and event counters for the hour the trigger
// was created in. Failures are logged; analytics never affects dispatch.
func (s *RedisSink) Record(ctx context.Context, trigger domain.TriggerEvent, outcome string) {
	if err := s.write(ctx, trigger, outcome); err != nil {
		log.Printf("analytics: event=%s outcome=%s: %v", trigger.Event, outcome, err)
	}
}

func (s *RedisSink) write(ctx context.Context, trigger domain.TriggerEvent, outcome string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	pipe := s.client.Pipeline()
	for _, key := range keysFor(trigger, outcome) {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Counts returns the outcome counters for the hour containing t. Outcomes
// with no counter yet are reported as zero.
func (s *RedisSink) Counts(ctx context.Context, t time.Time, outcomes ...string) (map[string]int64, error) {
	counts := make(map[string]int64, len(outcomes))
	if len(outcomes) == 0 {
		return counts, nil
	}

	keys := make([]string, len(outcomes))
	for i, o := range outcomes {
		keys[i] = outcomeKey(o, t)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	for i, v := range vals {
		counts[outcomes[i]] = 0
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", keys[i], err)
		}
		counts[outcomes[i]] = n
	}
	return counts, nil
}

func keysFor(trigger domain.TriggerEvent, outcome string) []string {
	return []string{
		outcomeKey(outcome, trigger.CreatedAt),
		eventKey(trigger.Event, outcome, trigger.CreatedAt),
	}
}

func outcomeKey(outcome string, t time.Time) string {
	return fmt.Sprintf("%s:dispatch:%s:%s", keyPrefix, outcome, bucket(t))
}

func eventKey(event, outcome string, t time.Time) string {
	return fmt.Sprintf("%s:event:%s:%s:%s", keyPrefix, event, outcome, bucket(t))
}

func bucket(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}
