package session

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// ErrCorrupt is returned when a stored session hash is missing fields or
// holds values that do not parse.
var ErrCorrupt = errors.New("session record corrupt")

// Session is the server-side record behind an issued access token.
// Timestamps are unix seconds.
type Session struct {
	SessionID string
	UserID    string
	Email     string
	Name      string

	IPHash        [32]byte
	UserAgentHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}

// fields flattens s into the Redis hash layout. SessionID is the key and
// is not stored.
func (s *Session) fields() map[string]any {
	return map[string]any{
		"uid":     s.UserID,
		"email":   s.Email,
		"name":    s.Name,
		"ip":      hex.EncodeToString(s.IPHash[:]),
		"ua":      hex.EncodeToString(s.UserAgentHash[:]),
		"created": s.CreatedAt,
		"expires": s.ExpiresAt,
	}
}

func fromFields(id string, f map[string]string) (*Session, error) {
	s := &Session{
		SessionID: id,
		UserID:    f["uid"],
		Email:     f["email"],
		Name:      f["name"],
	}
	if s.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrCorrupt)
	}

	var err error
	if s.CreatedAt, err = strconv.ParseInt(f["created"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: created: %v", ErrCorrupt, err)
	}
	if s.ExpiresAt, err = strconv.ParseInt(f["expires"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: expires: %v", ErrCorrupt, err)
	}
	if err := decodeHash(f["ip"], &s.IPHash); err != nil {
		return nil, err
	}
	if err := decodeHash(f["ua"], &s.UserAgentHash); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeHash(v string, dst *[32]byte) error {
	n, err := hex.Decode(dst[:], []byte(v))
	if err != nil || n != len(dst) {
		return fmt.Errorf("%w: binding hash", ErrCorrupt)
	}
	return nil
}
