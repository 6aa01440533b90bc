package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaResult is the outcome of a daily quota check.
type QuotaResult struct {
	Allowed bool
	Used    int64
	Limit   int64
}

// QuotaTracker counts metered operations (autocompletions, audio synthesis)
// per account per UTC day via Redis. Active subscribers bypass the quota at
// the call site; the tracker itself only counts.
type QuotaTracker struct {
	rdb *redis.Client
}

// NewQuotaTracker creates a quota tracker. If rdb is nil, all checks pass.
func NewQuotaTracker(rdb *redis.Client) *QuotaTracker {
	return &QuotaTracker{rdb: rdb}
}

func dailyQuotaKey(uid string) string {
	day := time.Now().UTC().Format("2006-01-02")
	return fmt.Sprintf("chatrelay:quota:daily:%s:%s", uid, day)
}

// CheckDailyOps checks if the account is under its daily metered-operation
// limit.
func (q *QuotaTracker) CheckDailyOps(ctx context.Context, uid string, limit int64) (QuotaResult, error) {
	if q.rdb == nil {
		return QuotaResult{Allowed: true, Limit: limit}, nil
	}

	used, err := q.rdb.Get(ctx, dailyQuotaKey(uid)).Int64()
	if err != nil && err != redis.Nil {
		// Fail open on Redis errors
		return QuotaResult{Allowed: true, Limit: limit}, nil
	}

	return QuotaResult{
		Allowed: used < limit,
		Used:    used,
		Limit:   limit,
	}, nil
}

// RecordOp increments the account's daily metered-operation counter.
func (q *QuotaTracker) RecordOp(ctx context.Context, uid string) error {
	if q.rdb == nil {
		return nil
	}

	key := dailyQuotaKey(uid)
	pipe := q.rdb.Pipeline()
	pipe.Incr(ctx, key)
	// Expire at end of day UTC + 1 hour buffer
	now := time.Now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
