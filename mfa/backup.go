package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"strings"
)

// backupAlphabet has 32 symbols without 0/O and 1/I, so one random byte
// masked to 5 bits picks a symbol without bias.
const backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewBackupCode returns length random symbols from backupAlphabet.
func NewBackupCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = backupAlphabet[b&0x1f]
	}
	return string(buf), nil
}

// FormatBackupCode inserts a dash in the middle of codes of 8 or more
// symbols. CanonicalizeBackupCode undoes it.
func FormatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	half := len(code) / 2
	return code[:half] + "-" + code[half:]
}

func CanonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// BackupCodeHash is the stored form of a canonical code. The user ID is
// mixed in so equal codes of different users never share a hash.
func BackupCodeHash(userID, canonicalCode string) [32]byte {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(canonicalCode))
	var out [32]byte
	h.Sum(out[:0])
	return out
}
