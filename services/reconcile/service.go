package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/incidenthq/incidentd/services/chat"
	"github.com/incidenthq/incidentd/services/incident"
)

const (
	// startDelay defers the first sweep so startup traffic settles.
	startDelay = 5 * time.Minute
	// sweepInterval spaces the following sweeps.
	sweepInterval = 30 * time.Minute
)

type Diagnostic interface {
	StartingService()
	StoppedService()
	OrphanDeleted(key, reason string)
	ThreadDetached(key, threadID string)
	SweepCompleted(scanned, deleted int)

	Error(msg string, err error)
}

// Service garbage-collects incident records whose chat mirror has vanished.
// Resolved records are left to their natural TTL. Transient chat errors are
// swallowed and retried on the next sweep; only typed gone responses delete
// state.
type Service struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closing chan struct{}

	clock clock.Clock

	IncidentService interface {
		Records() incident.DAO
	}
	ChatService interface {
		API() chat.API
		Guild() string
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

	delay := s.clock.Timer(startDelay)
	defer delay.Stop()
	select {
	case <-closing:
		return
	case <-delay.C:
	}
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
	ctx := context.Background()
	records := s.IncidentService.Records()
	api := s.ChatService.API()
	guild := s.ChatService.Guild()

	scanned, deleted := 0, 0
	err := records.Walk(ctx, func(rec incident.Record) error {
		scanned++
		if rec.State == incident.StateResolved {
			return nil
		}
		if s.reconcile(ctx, records, api, guild, rec) {
			deleted++
		}
		return nil
	})
	if err != nil {
		s.diag.Error("reconcile scan", err)
	}
	s.diag.SweepCompleted(scanned, deleted)
}

// reconcile checks one record against the chat mirror. Returns true when the
// record was deleted.
func (s *Service) reconcile(ctx context.Context, records incident.DAO, api chat.API, guild string, rec incident.Record) bool {
	ch, err := api.Channel(ctx, rec.ChannelID)
	switch {
	case chat.IsGone(err):
		return s.drop(ctx, records, rec, "channel gone")
	case err != nil:
		return false
	case guild != "" && ch.GuildID != guild:
		// Channels outside the configured guild are not ours to manage.
		return false
	case !ch.Sendable():
		return s.drop(ctx, records, rec, "channel not usable")
	}

	if _, err := api.Message(ctx, rec.ChannelID, rec.MessageID); err != nil {
		if chat.IsGone(err) {
			return s.drop(ctx, records, rec, "message gone")
		}
		return false
	}

	if rec.ThreadID != "" {
		if _, err := api.Channel(ctx, rec.ThreadID); chat.IsGone(err) {
			threadID := rec.ThreadID
			rec.ThreadID = ""
			if err := records.Put(ctx, rec); err != nil {
				s.diag.Error("detach thread", err)
				return false
			}
			s.diag.ThreadDetached(rec.Key, threadID)
		}
	}
	return false
}

func (s *Service) drop(ctx context.Context, records incident.DAO, rec incident.Record, reason string) bool {
	if err := records.Delete(ctx, rec.Key); err != nil {
		s.diag.Error("delete orphaned incident", err)
		return false
	}
	s.diag.OrphanDeleted(rec.Key, reason)
	return true
}
