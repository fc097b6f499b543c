package redisinfra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/pkg/id"
)

const leaseKeyPrefix = "portrait:lease:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that was re-acquired by another request is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leases hands out short exclusive leases per identity key.
type Leases struct {
	client redis.UniversalClient
}

func NewLeases(client redis.UniversalClient) *Leases {
	return &Leases{client: client}
}

// Acquire takes the lease for key for at most ttl. It returns ErrConflict
// when another holder has it. The returned release func is idempotent.
func (l *Leases) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error) {
	token := id.New()
	ok, err := l.client.SetNX(ctx, leaseKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("generation in progress for %s: %w", key, domain.ErrConflict)
	}
	released := false
	return func(ctx context.Context) {
		if released {
			return
		}
		released = true
		if err := releaseScript.Run(ctx, l.client, []string{leaseKeyPrefix + key}, token).Err(); err != nil {
			slog.Warn("lease release failed; held until expiry", "key", key, "err", err)
		}
	}, nil
}
