package audit

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sweepInterval is how often the retention sweep runs after the initial one.
const sweepInterval = time.Hour

var appendFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "incidentd",
	Subsystem: "audit",
	Name:      "append_failures_total",
	Help:      "Audit events dropped because the insert failed.",
})

// Event is one append-only lifecycle record.
type Event struct {
	AlertID        string
	Resource       string
	Status         string
	MessageID      string
	ChannelID      string
	Severity       string
	RuleName       string
	Source         string
	AcknowledgedBy string
	ResolvedBy     string
}

type Diagnostic interface {
	RetentionDisabled()
	SweepCompleted(deleted int64, took time.Duration)

	Error(msg string, err error)
}

// Service appends lifecycle events to the alert_events table and prunes old
// rows. Append never fails the caller: without a database it is a no-op, and
// insert errors are logged and counted.
type Service struct {
	mu sync.Mutex
	wg sync.WaitGroup

	ttl     time.Duration
	db      *sql.DB
	clock   clock.Clock
	closing chan struct{}

	PostgresService interface {
		DB() *sql.DB
		Enabled() bool
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	ttl, _ := ParseTTL(c.TTL)
	return &Service{
		ttl:   ttl,
		clock: clock.New(),
		diag:  d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PostgresService == nil || !s.PostgresService.Enabled() {
		return nil
	}
	s.db = s.PostgresService.DB()
	if err := s.ensureTable(context.Background()); err != nil {
		return err
	}

	s.closing = make(chan struct{})
	if s.ttl <= 0 {
		s.diag.RetentionDisabled()
		return nil
	}
	s.wg.Add(1)
	go s.retentionLoop()
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	if s.closing != nil {
		close(s.closing)
		s.closing = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Service) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alert_events (
			id bigserial PRIMARY KEY,
			alert_id text NOT NULL,
			resource text NOT NULL DEFAULT '',
			status text NOT NULL,
			message_id text NOT NULL DEFAULT '',
			channel_id text NOT NULL DEFAULT '',
			severity text NOT NULL DEFAULT '',
			rule_name text NOT NULL DEFAULT '',
			source text NOT NULL DEFAULT '',
			acknowledged_by text NOT NULL DEFAULT '',
			resolved_by text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL DEFAULT now()
		)`)
	return errors.Wrap(err, "create alert_events table")
}

// Append records an event. It never returns an error: failures are counted
// and logged so the alert pipeline is unaffected.
func (s *Service) Append(ctx context.Context, e Event) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO alert_events
			(alert_id, resource, status, message_id, channel_id, severity,
			 rule_name, source, acknowledged_by, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.AlertID, e.Resource, e.Status, e.MessageID, e.ChannelID, e.Severity,
		e.RuleName, e.Source, e.AcknowledgedBy, e.ResolvedBy)
	if err != nil {
		appendFailures.Inc()
		s.diag.Error("append audit event", err)
	}
}

func (s *Service) retentionLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()

	s.sweep()
	ticker := s.clock.Ticker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closing:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	start := s.clock.Now()
	cutoff := start.Add(-s.ttl)
	res, err := s.db.Exec(`DELETE FROM alert_events WHERE created_at < $1`, cutoff)
	if err != nil {
		s.diag.Error("retention sweep", err)
		return
	}
	deleted, _ := res.RowsAffected()
	s.diag.SweepCompleted(deleted, s.clock.Now().Sub(start))
}
