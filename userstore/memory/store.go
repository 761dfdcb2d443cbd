package memory

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/authgate"
)

// Store is a mutex-guarded authgate.UserStore. Every write happens under
// one lock, which makes ConsumeSSOAuthToken and CompleteReset atomic.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*authgate.UserRecord
	byEmail map[string]string
}

var _ authgate.UserStore = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*authgate.UserRecord),
		byEmail: make(map[string]string),
	}
}

// Put inserts or replaces a user. The email is normalized before indexing.
func (s *Store) Put(user authgate.UserRecord) error {
	if user.UserID == "" {
		return errors.New("memory store: user id is required")
	}
	user.Email = authgate.NormalizeEmail(user.Email)
	if user.Email == "" {
		return errors.New("memory store: email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.byEmail[user.Email]; ok && owner != user.UserID {
		return errors.New("memory store: email already taken")
	}
	if prev, ok := s.byID[user.UserID]; ok && prev.Email != user.Email {
		delete(s.byEmail, prev.Email)
	}
	s.byID[user.UserID] = &user
	s.byEmail[user.Email] = user.UserID
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (authgate.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[authgate.NormalizeEmail(email)]
	if !ok {
		return authgate.UserRecord{}, authgate.ErrUserNotFound
	}
	return *s.byID[id], nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (authgate.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return authgate.UserRecord{}, authgate.ErrUserNotFound
	}
	return *u, nil
}

func (s *Store) GetUserByResetDigest(_ context.Context, digest string) (authgate.UserRecord, error) {
	if digest == "" {
		return authgate.UserRecord{}, authgate.ErrUserNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.ResetPasswordTokenDigest == digest {
			return *u, nil
		}
	}
	return authgate.UserRecord{}, authgate.ErrUserNotFound
}

func (s *Store) SetSSOAuthToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authgate.ErrUserNotFound
	}
	u.SSOAuthToken = token
	u.SSOAuthTokenExpiresAt = expiresAt
	return nil
}

func (s *Store) ConsumeSSOAuthToken(_ context.Context, userID, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return false, nil
	}
	if token == "" || u.SSOAuthToken == "" || !now.Before(u.SSOAuthTokenExpiresAt) {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(u.SSOAuthToken)) != 1 {
		return false, nil
	}
	u.SSOAuthToken = ""
	u.SSOAuthTokenExpiresAt = time.Time{}
	return true, nil
}

func (s *Store) ClearSSOAuthToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok || u.SSOAuthToken != token {
		return nil
	}
	u.SSOAuthToken = ""
	u.SSOAuthTokenExpiresAt = time.Time{}
	return nil
}

func (s *Store) SetResetPasswordToken(_ context.Context, userID, digest string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return authgate.ErrUserNotFound
	}
	u.ResetPasswordTokenDigest = digest
	u.ResetPasswordSentAt = sentAt
	return nil
}

func (s *Store) CompleteReset(_ context.Context, userID, digest, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok || digest == "" || u.ResetPasswordTokenDigest != digest {
		return authgate.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.Confirmed = true
	u.ResetPasswordTokenDigest = ""
	u.ResetPasswordSentAt = time.Time{}
	u.ConfirmationToken = ""
	return nil
}
