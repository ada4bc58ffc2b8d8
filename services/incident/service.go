// Package incident persists per-incident lifecycle state in the shared
// key-value store. Records expire after seven days unless refreshed.
package incident

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Diagnostic interface {
	Error(msg string, err error)
}

type Service struct {
	mu   sync.RWMutex
	diag Diagnostic

	StorageService interface {
		Client() *redis.Client
	}

	dao DAO
}

func NewService(d Diagnostic) *Service {
	return &Service{diag: d}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	client := s.StorageService.Client()
	if client == nil {
		return errors.New("incident: storage service not open")
	}
	s.dao = newRecordKV(client)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dao = nil
	return nil
}

// Records returns the DAO. Valid only after Open.
func (s *Service) Records() DAO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dao
}
