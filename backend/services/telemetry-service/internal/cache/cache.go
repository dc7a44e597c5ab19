package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a time-to-live. Entries expire by elapsed
// time only; writes elsewhere never invalidate them.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
