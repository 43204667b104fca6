package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BillingCycleLockKey builds the redis key guarding one association's
// billing run.
func BillingCycleLockKey(associationID int64) string {
	return fmt.Sprintf("billing:assoc:%d:cycle:lock", associationID)
}

// ReconcileLockKey builds the redis key guarding ledger reconciliation.
func ReconcileLockKey(associationID int64) string {
	return fmt.Sprintf("ledger:assoc:%d:reconcile:lock", associationID)
}

// AcquireLock takes a best-effort distributed lock. Returns false when
// another worker holds it.
func AcquireLock(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// ReleaseLock drops the lock.
func ReleaseLock(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}
