package processor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/incidenthq/incidentd/alert"
	"github.com/incidenthq/incidentd/services/audit"
	"github.com/incidenthq/incidentd/services/dedup"
	"github.com/incidenthq/incidentd/services/incident"
	"github.com/incidenthq/incidentd/services/rules"
)

// Reuse windows: a repeat firing outside these is a fresh incident.
const (
	ResolveReuseWindow = 30 * time.Minute
	AckReuseWindow     = 90 * time.Minute
)

var (
	received = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentd",
		Subsystem: "processor",
		Name:      "alerts_received_total",
		Help:      "Canonical alerts handed to the processor.",
	})
	sent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentd",
		Subsystem: "processor",
		Name:      "alerts_sent_total",
		Help:      "Alerts mirrored into chat.",
	})
	suppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "incidentd",
		Subsystem: "processor",
		Name:      "alerts_suppressed_total",
		Help:      "Alerts dropped before the chat emit.",
	}, []string{"reason"})
)

type Diagnostic interface {
	Suppressed(key, reason string)
	ExpiredRecordDropped(key string, state string)
	Emitted(key, messageID string)

	Error(msg string, err error)
}

// Service runs the per-alert pipeline: rule lookup, dedup gate, lifecycle
// expiry, chat emit, audit.
type Service struct {
	clock clock.Clock

	RulesService interface {
		Lookup(name string) (rules.Rule, bool)
	}
	DedupService interface {
		TestAndSet(ctx context.Context, fingerprint string, ttl time.Duration) (dedup.Result, error)
		Clear(ctx context.Context, fingerprint string) error
	}
	IncidentService interface {
		Records() incident.DAO
	}
	ChatService interface {
		Emit(ctx context.Context, a alert.Alert, rule rules.Rule) (incident.Record, error)
	}
	AuditService interface {
		Append(ctx context.Context, e audit.Event)
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
	return nil
}

func (s *Service) Close() error {
	return nil
}

// Process handles one canonical alert end to end. Chat and audit failures are
// absorbed: the source retransmits, and dedup is already settled.
func (s *Service) Process(ctx context.Context, a alert.Alert) {
	received.Inc()
	key := a.IncidentKey()

	rule, ok := s.RulesService.Lookup(a.RuleName)
	if !ok || rule.ChannelID == "" {
		suppressed.WithLabelValues("no_config").Inc()
		s.diag.Suppressed(key, "no_config")
		return
	}
	if a.ChannelID == "" {
		a.ChannelID = rule.ChannelID
	}

	if a.Status == alert.Resolved {
		// Resolutions are never suppressed; the fingerprint is freed so the
		// next firing posts immediately.
		if err := s.DedupService.Clear(ctx, a.ID); err != nil {
			s.diag.Error("clear dedup", err)
		}
	} else {
		res, err := s.DedupService.TestAndSet(ctx, a.ID, rule.SuppressWindow())
		if err != nil {
			s.diag.Error("dedup test-and-set", err)
			return
		}
		if res == dedup.Duplicate {
			suppressed.WithLabelValues("dedup").Inc()
			s.diag.Suppressed(key, "dedup")
			return
		}
	}

	s.expireStale(ctx, key)

	rec, err := s.ChatService.Emit(ctx, a, rule)
	if err != nil {
		s.diag.Error("chat emit", err)
		return
	}
	sent.Inc()
	s.diag.Emitted(key, rec.MessageID)

	s.AuditService.Append(ctx, audit.Event{
		AlertID:        a.ID,
		Resource:       a.Resource,
		Status:         string(a.Status),
		MessageID:      rec.MessageID,
		ChannelID:      rec.ChannelID,
		Severity:       string(a.Severity),
		RuleName:       a.RuleName,
		Source:         a.Source,
		AcknowledgedBy: rec.AcknowledgedBy,
		ResolvedBy:     rec.ResolvedBy,
	})
}

// expireStale deletes a prior record that resolved more than 30 minutes ago
// or was acknowledged more than 90 minutes ago, so the incoming alert starts
// a fresh incident instead of reviving a finished one.
func (s *Service) expireStale(ctx context.Context, key string) {
	records := s.IncidentService.Records()
	rec, err := records.Get(ctx, key)
	if err == incident.ErrNoIncidentExists {
		return
	}
	if err != nil {
		s.diag.Error("load incident for expiry", err)
		return
	}

	now := s.clock.Now()
	expired := false
	switch rec.State {
	case incident.StateResolved:
		expired = !rec.ResolvedAt.IsZero() && now.Sub(rec.ResolvedAt) > ResolveReuseWindow
	case incident.StateAcknowledged:
		expired = !rec.AcknowledgedAt.IsZero() && now.Sub(rec.AcknowledgedAt) > AckReuseWindow
	}
	if !expired {
		return
	}
	if err := records.Delete(ctx, key); err != nil {
		s.diag.Error("delete expired incident", err)
		return
	}
	s.diag.ExpiredRecordDropped(key, string(rec.State))
}
