package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	errTOTPAlgorithm = errors.New("mfa: unsupported totp algorithm")
	errTOTPDigits    = errors.New("mfa: totp digits must be between 6 and 9")
	errEmptySecret   = errors.New("mfa: empty totp secret")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPConfig holds RFC 6238 parameters. Zero values select a 30 second
// period, 6 digits, no skew and SHA1.
type TOTPConfig struct {
	Issuer    string
	Period    int
	Digits    int
	Skew      int
	Algorithm string
}

// TOTP generates and checks time-based one-time passwords.
type TOTP struct {
	issuer    string
	period    int64
	digits    int
	modulus   uint32
	skew      int64
	algorithm string
	newHash   func() hash.Hash
}

func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	t := &TOTP{
		issuer:    cfg.Issuer,
		period:    30,
		digits:    6,
		algorithm: strings.ToUpper(cfg.Algorithm),
	}
	if cfg.Period > 0 {
		t.period = int64(cfg.Period)
	}
	if cfg.Digits != 0 {
		t.digits = cfg.Digits
	}
	if t.digits < 6 || t.digits > 9 {
		return nil, errTOTPDigits
	}
	if cfg.Skew > 0 {
		t.skew = int64(cfg.Skew)
	}

	switch t.algorithm {
	case "", "SHA1":
		t.algorithm, t.newHash = "SHA1", sha1.New
	case "SHA256":
		t.newHash = sha256.New
	case "SHA512":
		t.newHash = sha512.New
	default:
		return nil, errTOTPAlgorithm
	}

	t.modulus = 1
	for i := 0; i < t.digits; i++ {
		t.modulus *= 10
	}
	return t, nil
}

// GenerateSecret returns a fresh 160-bit secret and its unpadded base32 form.
func (t *TOTP) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, secretEncoding.EncodeToString(raw), nil
}

// ProvisionURI returns the otpauth:// URI authenticator apps scan.
func (t *TOTP) ProvisionURI(secretBase32, account string) string {
	q := url.Values{
		"secret":    {secretBase32},
		"issuer":    {t.issuer},
		"period":    {strconv.FormatInt(t.period, 10)},
		"digits":    {strconv.Itoa(t.digits)},
		"algorithm": {t.algorithm},
	}
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + t.issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Code returns the code for the time step containing now.
func (t *TOTP) Code(secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errEmptySecret
	}
	return t.at(secret, now.Unix()/t.period), nil
}

// Verify checks code against every step within Skew of now. On a match it
// returns the matched step counter so callers can refuse replays.
func (t *TOTP) Verify(secret []byte, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != t.digits || strings.Trim(code, "0123456789") != "" {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errEmptySecret
	}

	current := now.Unix() / t.period
	for c := max(current-t.skew, 0); c <= current+t.skew; c++ {
		if subtle.ConstantTimeCompare([]byte(t.at(secret, c)), []byte(code)) == 1 {
			return true, c, nil
		}
	}
	return false, 0, nil
}

// at computes the HOTP value (RFC 4226) for counter.
func (t *TOTP) at(secret []byte, counter int64) string {
	mac := hmac.New(t.newHash, secret)
	_ = binary.Write(mac, binary.BigEndian, counter)
	sum := mac.Sum(nil)

	off := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", t.digits, value%t.modulus)
}
