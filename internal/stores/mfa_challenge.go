package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrMFAChallengeNotFound = errors.New("mfa challenge not found")
	ErrMFAChallengeExpired  = errors.New("mfa challenge expired")
	ErrMFAChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// Hash fields of a stored challenge.
const (
	fieldUser     = "uid"
	fieldIssued   = "iat"
	fieldExpires  = "exp"
	fieldAttempts = "attempts"
)

// MFAChallenge is the stored state behind an MFA challenge token.
type MFAChallenge struct {
	UserID    string
	IssuedAt  int64
	ExpiresAt int64
	Attempts  uint16
}

// saveScript writes a new challenge hash and its TTL together. It returns 0
// without writing when the key already exists.
var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'uid', ARGV[1], 'iat', ARGV[2], 'exp', ARGV[3], 'attempts', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// recordFailureScript increments the attempt counter of an existing
// challenge. It returns the new count, -1 when the challenge is missing,
// -2 when the limit was reached (the challenge is deleted) and -3 when the
// stored expiry has passed (the challenge is deleted).
var recordFailureScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'exp')
if not exp then
	return -1
end
if tonumber(ARGV[2]) > tonumber(exp) then
	redis.call('DEL', KEYS[1])
	return -3
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if n >= tonumber(ARGV[1]) then
	redis.call('DEL', KEYS[1])
	return -2
end
return n
`)

// MFAChallengeStore keeps pending challenges as Redis hashes under
// <prefix>:<token>. The key TTL matches the challenge expiry.
type MFAChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewMFAChallengeStore(redisClient redis.UniversalClient, prefix string) *MFAChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	return &MFAChallengeStore{redis: redisClient, prefix: prefix, now: time.Now}
}

func (s *MFAChallengeStore) key(token string) string {
	return s.prefix + ":" + token
}

// Save stores record under token. A token that already exists is reported
// as a backend failure and left untouched.
func (s *MFAChallengeStore) Save(ctx context.Context, token string, record *MFAChallenge, ttl time.Duration) error {
	fresh, err := saveScript.Run(ctx, s.redis, []string{s.key(token)},
		record.UserID, record.IssuedAt, record.ExpiresAt, int(record.Attempts), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return backendErr(err)
	}
	if fresh == 0 {
		return fmt.Errorf("%w: token collision", ErrMFAChallengeBackend)
	}
	return nil
}

func (s *MFAChallengeStore) Get(ctx context.Context, token string) (*MFAChallenge, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, backendErr(err)
	}
	if len(fields) == 0 {
		return nil, ErrMFAChallengeNotFound
	}

	record, err := parseChallenge(fields)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		s.redis.Del(ctx, s.key(token))
		return nil, ErrMFAChallengeExpired
	}
	return record, nil
}

// Delete reports whether the challenge existed. A false result after a
// successful verification means another request consumed it first.
func (s *MFAChallengeStore) Delete(ctx context.Context, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, backendErr(err)
	}
	return n > 0, nil
}

// RecordFailure counts a wrong code against the challenge. It reports true
// and deletes the challenge once maxAttempts is reached; otherwise the
// challenge stays valid with its original expiry.
func (s *MFAChallengeStore) RecordFailure(ctx context.Context, token string, maxAttempts int) (bool, error) {
	res, err := recordFailureScript.Run(ctx, s.redis, []string{s.key(token)}, maxAttempts, s.now().Unix()).Int64()
	if err != nil {
		return false, backendErr(err)
	}
	switch res {
	case -1:
		return false, ErrMFAChallengeNotFound
	case -2:
		return true, nil
	case -3:
		return false, ErrMFAChallengeExpired
	}
	return false, nil
}

func parseChallenge(fields map[string]string) (*MFAChallenge, error) {
	issued, err1 := strconv.ParseInt(fields[fieldIssued], 10, 64)
	expires, err2 := strconv.ParseInt(fields[fieldExpires], 10, 64)
	attempts, err3 := strconv.ParseUint(fields[fieldAttempts], 10, 16)
	if err := errors.Join(err1, err2, err3); err != nil || fields[fieldUser] == "" {
		return nil, fmt.Errorf("%w: malformed challenge record", ErrMFAChallengeBackend)
	}
	return &MFAChallenge{
		UserID:    fields[fieldUser],
		IssuedAt:  issued,
		ExpiresAt: expires,
		Attempts:  uint16(attempts),
	}, nil
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
}
