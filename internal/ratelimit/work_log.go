package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/flowvane/creditdesk/internal/config"
)

const keyWorkLogOrg = "worklog:org:%s"

// WorkLogLimiter throttles work-log submissions per organization. A nil
// limiter (rate limiting disabled) allows everything.
type WorkLogLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWorkLogLimiter(cfg config.Config, client *redis.Client) *WorkLogLimiter {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil
	}
	return &WorkLogLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.WorkLogRate,
		burst:  cfg.RateLimit.WorkLogBurst,
	}
}

func (l *WorkLogLimiter) Allow(ctx context.Context, orgID string) (bool, error) {
	if l == nil {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWorkLogOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}

// NewRedisClient returns nil when no address is configured; every consumer
// treats a nil client as "feature off".
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     strings.TrimSpace(cfg.RedisPassword),
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}
