// Package dedup implements the suppression window for repeated firings.
// Fingerprints of recently seen alerts live in a TTL key set; the atomic
// test-and-set on insert is the cross-process ordering primitive.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Diagnostic interface {
	Error(msg string, err error)
}

// Result of a TestAndSet call.
type Result int

const (
	// New means the fingerprint was not present and has been recorded.
	New Result = iota
	// Duplicate means the fingerprint was already present; its TTL is untouched.
	Duplicate
)

const keyPrefix = "dedup:"

// MinTTL is the floor for suppress windows; the store's TTL resolution is 1s.
const MinTTL = time.Second

type Service struct {
	mu   sync.RWMutex
	diag Diagnostic

	StorageService interface {
		Client() *redis.Client
	}

	client *redis.Client
}

func NewService(d Diagnostic) *Service {
	return &Service{diag: d}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = s.StorageService.Client()
	if s.client == nil {
		return errors.New("dedup: storage service not open")
	}
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	return nil
}

func (s *Service) c() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// TestAndSet atomically records the fingerprint unless it is already present.
// When present, the existing TTL is not refreshed.
func (s *Service) TestAndSet(ctx context.Context, fingerprint string, ttl time.Duration) (Result, error) {
	if fingerprint == "" {
		return New, errors.New("empty fingerprint")
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}
	set, err := s.c().SetNX(ctx, keyPrefix+fingerprint, "1", ttl).Result()
	if err != nil {
		return New, errors.Wrap(err, "dedup test-and-set")
	}
	if set {
		return New, nil
	}
	return Duplicate, nil
}

// Clear removes the fingerprint. Resolved alerts are never suppressed, so the
// processor clears instead of testing.
func (s *Service) Clear(ctx context.Context, fingerprint string) error {
	if err := s.c().Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return errors.Wrap(err, "dedup clear")
	}
	return nil
}

// SetTTL pins the fingerprint for the given window, inserting it if absent.
// Used to extend suppression after an acknowledge.
func (s *Service) SetTTL(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if err := s.c().Set(ctx, keyPrefix+fingerprint, "1", ttl).Err(); err != nil {
		return errors.Wrap(err, "dedup set ttl")
	}
	return nil
}
