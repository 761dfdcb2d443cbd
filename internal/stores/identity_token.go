package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrIdentityTokenBackend = errors.New("identity token backend unavailable")

// IdentityTokenStore holds the external identity token obtained for a
// session. Entries live under <prefix>:<sessionID> and never outlive the
// session TTL they were written with.
type IdentityTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewIdentityTokenStore(redisClient redis.UniversalClient, prefix string) *IdentityTokenStore {
	if prefix == "" {
		prefix = "ait"
	}
	return &IdentityTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *IdentityTokenStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *IdentityTokenStore) Set(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.key(sessionID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityTokenBackend, err)
	}
	return nil
}

// Get returns "" without error when no token is stored.
func (s *IdentityTokenStore) Get(ctx context.Context, sessionID string) (string, error) {
	token, err := s.redis.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrIdentityTokenBackend, err)
	}
	return token, nil
}

func (s *IdentityTokenStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityTokenBackend, err)
	}
	return nil
}
