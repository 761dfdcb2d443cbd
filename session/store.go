package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
)

// Store keeps each session as one Redis hash whose TTL is the session's
// remaining lifetime.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess.SessionID == "" || sess.UserID == "" {
		return errors.New("session: id and user id are required")
	}
	ttl := time.Unix(sess.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return errors.New("session: already expired")
	}

	key := s.key(sess.SessionID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, sess.fields())
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get returns the session for sessionID. A session whose ExpiresAt passed
// before Redis evicted it is deleted and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	f, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(f) == 0 {
		return nil, ErrNotFound
	}

	sess, err := fromFields(sessionID, f)
	if err != nil {
		return nil, err
	}
	if sess.ExpiresAt <= s.now().Unix() {
		if _, err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes a session and reports whether it existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Ping checks Redis and reports the round trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	rtt := time.Since(start)
	if err != nil {
		return rtt, unavailable(err)
	}
	return rtt, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}
