package port

import (
	"context"
	"time"

	"github.com/rl1809/pharmacy/internal/core/domain"
)

type CacheRepository interface {
	// AcquireLock takes key for ttl. It returns the owner token and false
	// when someone else already holds the key.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// ReleaseLock frees key only if token still owns it
	ReleaseLock(ctx context.Context, key, token string) error

	// GetPrincipal returns a cached principal, or nil on a miss
	GetPrincipal(ctx context.Context, key string) (*domain.Principal, error)

	SetPrincipal(ctx context.Context, key string, p domain.Principal, ttl time.Duration) error
}
