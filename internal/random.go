package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Raw byte lengths of the opaque tokens handed to clients.
const (
	challengeTokenBytes = 32
	ssoTokenBytes       = 32
	resetTokenBytes     = 20
)

// NewSessionID returns a random (version 4) UUID in canonical form.
func NewSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return id.String(), nil
}

// ValidSessionID reports whether s is a canonical version 4 UUID, which is
// the only form NewSessionID produces.
func ValidSessionID(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.String() == s
}

func NewChallengeToken() (string, error) { return opaqueToken(challengeTokenBytes) }

func NewSSOToken() (string, error) { return opaqueToken(ssoTokenBytes) }

// NewResetToken returns the raw reset token that goes into the mailed link.
// Only DigestResetToken of it is ever stored.
func NewResetToken() (string, error) { return opaqueToken(resetTokenBytes) }

func DigestResetToken(key []byte, rawToken string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(rawToken))
	return hex.EncodeToString(mac.Sum(nil))
}

func opaqueToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
