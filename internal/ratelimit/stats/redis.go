package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis writes decision counters into hashes:
//
//	<prefix>:total                  allowed / limited
//	<prefix>:minute:<yyyymmddHHMM>  allowed / limited, expires after ttl
//	<prefix>:class                  <class>:allowed / <class>:limited
//	<prefix>:route                  <route>:allowed / <route>:limited
//	<prefix>:key:<key>              allowed / limited, only with track keys
//
// It never stores admission state; limiting stays per process.
type Redis struct {
	rdb       redis.Cmdable
	prefix    string
	ttl       time.Duration
	trackKeys bool
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *Redis) { s.ttl = d }
}

func WithTrackKeys(track bool) RedisOption {
	return func(s *Redis) { s.trackKeys = track }
}

func NewRedis(rdb redis.Cmdable, opts ...RedisOption) *Redis {
	s := &Redis{
		rdb:    rdb,
		prefix: "courtgate:ratelimit",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Redis) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := outcome(ev.Limited)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), field, 1)

	bucket := s.minuteKey(at)
	pipe.HIncrBy(ctx, bucket, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucket, s.ttl)
	}

	pipe.HIncrBy(ctx, s.prefix+":class", ev.Class.String()+":"+field, 1)

	if r := strings.TrimSpace(ev.Route); r != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", r+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit stats: %w", err)
	}
	return nil
}

func (s *Redis) totalKey() string { return s.prefix + ":total" }

func (s *Redis) minuteKey(at time.Time) string {
	return s.prefix + ":minute:" + at.UTC().Format("200601021504")
}

func outcome(limited bool) string {
	if limited {
		return "limited"
	}
	return "allowed"
}
