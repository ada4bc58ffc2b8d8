// Package storage owns the shared key-value store client.
// Incident records and the dedup set both live in this store.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Diagnostic interface {
	Connected(addr string)

	Error(msg string, err error)
}

type Service struct {
	mu     sync.Mutex
	c      Config
	client *redis.Client
	diag   Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		c:    c,
		diag: d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts, err := redis.ParseURL(s.c.URL)
	if err != nil {
		return errors.Wrap(err, "parse storage url")
	}
	opts.PoolSize = s.c.PoolSize

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.Wrap(err, "ping storage")
	}
	s.client = client
	s.diag.Connected(opts.Addr)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Client returns the shared store client. Valid only after Open.
func (s *Service) Client() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
