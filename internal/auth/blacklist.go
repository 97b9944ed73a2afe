package auth

import (
	"context"
	"time"

	"github.com/pongarena/authd/internal/cache"
)

const blacklistKeyPrefix = "auth:blacklist:"

// TokenBlacklist is the revocation set for refresh tokens, keyed by jti.
// Membership is the exception: tokens are valid unless listed here.
type TokenBlacklist interface {
	Add(ctx context.Context, jti string, ttl time.Duration) error
	Contains(ctx context.Context, jti string) (bool, error)
}

type storeBlacklist struct {
	store cache.Store
}

// NewStoreBlacklist wraps a shared cache store in a TokenBlacklist. Entries
// expire together with the token they revoke, which bounds the set's growth.
func NewStoreBlacklist(store cache.Store) TokenBlacklist {
	if store == nil {
		return nil
	}
	return &storeBlacklist{store: store}
}

func (b *storeBlacklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		// Token already expired; nothing left to revoke.
		return nil
	}
	return b.store.Set(ctx, blacklistKeyPrefix+jti, []byte("1"), ttl)
}

func (b *storeBlacklist) Contains(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	_, found, err := b.store.Get(ctx, blacklistKeyPrefix+jti)
	if err != nil {
		return false, err
	}
	return found, nil
}
