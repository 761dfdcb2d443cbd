package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func saveChallenge(t *testing.T, s *MFAChallengeStore, token string, ttl time.Duration) {
	t.Helper()
	now := time.Now()
	err := s.Save(context.Background(), token, &MFAChallenge{
		UserID:    "u1",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}, ttl)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestMFAChallengeSaveGetDelete(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewMFAChallengeStore(rdb, "")
	ctx := context.Background()

	saveChallenge(t, s, "tok", time.Minute)
	if !mr.Exists("amc:tok") {
		t.Fatal("expected challenge key under default prefix")
	}

	rec, err := s.Get(ctx, "tok")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.UserID != "u1" || rec.Attempts != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	deleted, err := s.Delete(ctx, "tok")
	if err != nil || !deleted {
		t.Fatalf("expected first delete to succeed, got %v %v", deleted, err)
	}
	deleted, err = s.Delete(ctx, "tok")
	if err != nil || deleted {
		t.Fatalf("expected second delete to report false, got %v %v", deleted, err)
	}

	if _, err := s.Get(ctx, "tok"); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("expected ErrMFAChallengeNotFound, got %v", err)
	}
}

func TestMFAChallengeSaveRejectsCollision(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewMFAChallengeStore(rdb, "amc")

	saveChallenge(t, s, "tok", time.Minute)
	err := s.Save(context.Background(), "tok", &MFAChallenge{UserID: "u2", ExpiresAt: time.Now().Add(time.Minute).Unix()}, time.Minute)
	if !errors.Is(err, ErrMFAChallengeBackend) {
		t.Fatalf("expected collision error, got %v", err)
	}
}

func TestMFAChallengeSaveWritesFieldsAndTTLTogether(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewMFAChallengeStore(rdb, "amc")

	saveChallenge(t, s, "tok", 90*time.Second)
	if ttl := mr.TTL("amc:tok"); ttl != 90*time.Second {
		t.Fatalf("expected key TTL 90s, got %v", ttl)
	}
	if got := mr.HGet("amc:tok", "attempts"); got != "0" {
		t.Fatalf("expected attempts field 0, got %q", got)
	}

	// A collision leaves the existing record and its TTL alone.
	mr.SetTTL("amc:tok", 30*time.Second)
	_ = s.Save(context.Background(), "tok", &MFAChallenge{UserID: "u2", ExpiresAt: time.Now().Add(time.Hour).Unix()}, time.Hour)
	if mr.HGet("amc:tok", "uid") != "u1" || mr.TTL("amc:tok") != 30*time.Second {
		t.Fatal("collision must not overwrite the stored challenge")
	}
}

func TestMFAChallengeExpiredByClock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewMFAChallengeStore(rdb, "amc")
	saveChallenge(t, s, "tok", time.Minute)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := s.Get(context.Background(), "tok"); !errors.Is(err, ErrMFAChallengeExpired) {
		t.Fatalf("expected ErrMFAChallengeExpired, got %v", err)
	}
	if mr.Exists("amc:tok") {
		t.Fatal("expected expired challenge to be removed")
	}
}

func TestMFAChallengeRecordFailureKeepsTokenUntilLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewMFAChallengeStore(rdb, "amc")
	ctx := context.Background()
	saveChallenge(t, s, "tok", time.Minute)

	for i := 1; i < 3; i++ {
		exceeded, err := s.RecordFailure(ctx, "tok", 3)
		if err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
		if exceeded {
			t.Fatalf("attempt %d should not exceed", i)
		}
		rec, err := s.Get(ctx, "tok")
		if err != nil {
			t.Fatalf("challenge should remain valid: %v", err)
		}
		if int(rec.Attempts) != i {
			t.Fatalf("expected %d attempts, got %d", i, rec.Attempts)
		}
	}

	exceeded, err := s.RecordFailure(ctx, "tok", 3)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !exceeded {
		t.Fatal("expected third failure to exceed")
	}
	if mr.Exists("amc:tok") {
		t.Fatal("expected challenge to be deleted after limit")
	}

	if _, err := s.RecordFailure(ctx, "tok", 3); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("expected ErrMFAChallengeNotFound, got %v", err)
	}
}

func TestMFAChallengeBackendError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewMFAChallengeStore(rdb, "amc")
	mr.Close()

	if _, err := s.Get(context.Background(), "tok"); !errors.Is(err, ErrMFAChallengeBackend) {
		t.Fatalf("expected ErrMFAChallengeBackend, got %v", err)
	}
}

func TestIdentityTokenLifecycle(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewIdentityTokenStore(rdb, "")
	ctx := context.Background()

	got, err := s.Get(ctx, "sid")
	if err != nil || got != "" {
		t.Fatalf("expected empty token, got %q %v", got, err)
	}

	if err := s.Set(ctx, "sid", "ext-token", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := mr.TTL("ait:sid"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	got, err = s.Get(ctx, "sid")
	if err != nil || got != "ext-token" {
		t.Fatalf("expected stored token, got %q %v", got, err)
	}

	if err := s.Delete(ctx, "sid"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if mr.Exists("ait:sid") {
		t.Fatal("expected token to be removed")
	}
	if err := s.Delete(ctx, "sid"); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
}

func TestIdentityTokenSkipsNonPositiveTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewIdentityTokenStore(rdb, "ait")

	if err := s.Set(context.Background(), "sid", "x", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if mr.Exists("ait:sid") {
		t.Fatal("expected no key for zero ttl")
	}
}

func TestMFAChallengeMalformedRecord(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewMFAChallengeStore(rdb, "amc")
	saveChallenge(t, s, "tok", time.Minute)

	mr.HSet("amc:tok", "exp", "later")
	if _, err := s.Get(context.Background(), "tok"); !errors.Is(err, ErrMFAChallengeBackend) {
		t.Fatalf("expected ErrMFAChallengeBackend, got %v", err)
	}
}
