package ratelimit

import (
	"context"
	"strings"
	"testing"
)

func TestQuotaTracker_NilRedis_FailOpen(t *testing.T) {
	q := NewQuotaTracker(nil)
	result, err := q.CheckDailyOps(context.Background(), "user-1", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if result.Limit != 25 {
		t.Errorf("expected limit=25, got %d", result.Limit)
	}
}

func TestQuotaTracker_NilRedis_RecordOp(t *testing.T) {
	q := NewQuotaTracker(nil)
	// RecordOp should be a no-op with nil Redis
	err := q.RecordOp(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDailyQuotaKey_ScopedPerUserPerDay(t *testing.T) {
	key := dailyQuotaKey("user-1")
	if !strings.HasPrefix(key, "chatrelay:quota:daily:user-1:") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if key == dailyQuotaKey("user-2") {
		t.Error("keys for different users should differ")
	}
}
