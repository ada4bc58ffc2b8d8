package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/incidenthq/incidentd/alert"
	"github.com/incidenthq/incidentd/services/incident"
	"github.com/incidenthq/incidentd/services/rules"
)

const (
	// tickInterval is how often the store is scanned.
	tickInterval = time.Minute
	// step is the per-level escalation threshold: level n fires after
	// (n+1)*step without a user-visible update.
	step = 5 * time.Minute
)

type Diagnostic interface {
	StartingService()
	StoppedService()
	Escalated(key, mention string, level int)

	Error(msg string, err error)
}

// Service pings responders for unacknowledged critical incidents. Each tick
// walks the incident store; a firing critical record whose rule lists
// mentions escalates one level every five minutes of silence.
type Service struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closing chan struct{}

	clock clock.Clock

	IncidentService interface {
		Records() incident.DAO
	}
	RulesService interface {
		Lookup(name string) (rules.Rule, bool)
	}
	ChatService interface {
		Escalate(ctx context.Context, rec incident.Record, mention string, level int) error
	}

	diag Diagnostic
}

func NewService(d Diagnostic) *Service {
	return &Service{
		clock: clock.New(),
		diag:  d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing != nil {
		return nil
	}
	s.closing = make(chan struct{})
	s.diag.StartingService()
	s.wg.Add(1)
	go s.run()
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
	s.diag.StoppedService()
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()

	ticker := s.clock.Ticker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closing:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	ctx := context.Background()
	records := s.IncidentService.Records()
	err := records.Walk(ctx, func(rec incident.Record) error {
		s.consider(ctx, records, rec)
		return nil
	})
	if err != nil {
		s.diag.Error("escalation scan", err)
	}
}

func (s *Service) consider(ctx context.Context, records incident.DAO, rec incident.Record) {
	if rec.State != incident.StateFiring || rec.Severity != alert.Critical {
		return
	}
	rule, ok := s.RulesService.Lookup(rec.RuleName)
	if !ok || len(rule.Mentions) == 0 {
		return
	}
	level := rec.MentionLevel
	if level >= len(rule.Mentions) {
		return
	}

	elapsed := s.clock.Now().Sub(rec.UpdatedAt)
	threshold := time.Duration(level+1) * step
	if elapsed < threshold {
		return
	}

	if err := s.ChatService.Escalate(ctx, rec, rule.Mentions[level], level); err != nil {
		// Retried on the next tick; the level is not burned.
		return
	}
	s.diag.Escalated(rec.Key, rule.Mentions[level], level)

	// UpdatedAt stays pinned to the last emission so each threshold is
	// measured from the same origin.
	rec.MentionLevel = level + 1
	if err := records.Put(ctx, rec); err != nil {
		s.diag.Error("persist mention level", err)
	}
}
