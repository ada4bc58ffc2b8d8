// Package postgres owns the shared SQL database handle used by the audit
// log, the persisted rule config, and the troubleshooting guides.
package postgres

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

type Diagnostic interface {
	Connected()
	Disabled()

	Error(msg string, err error)
}

type Service struct {
	mu   sync.Mutex
	c    Config
	db   *sql.DB
	diag Diagnostic
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

	if !s.c.Enabled() {
		s.diag.Disabled()
		return nil
	}

	db, err := sql.Open("pgx", s.c.URL)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(s.c.MaxConns)
	db.SetMaxIdleConns(s.c.MaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "ping database")
	}

	s.db = db
	s.diag.Connected()
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the shared handle, or nil when no database is configured.
func (s *Service) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

func (s *Service) Enabled() bool {
	return s.c.Enabled()
}
