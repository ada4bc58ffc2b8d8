package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/incidenthq/incidentd/alert"
	"github.com/incidenthq/incidentd/services/httpd"
	"github.com/incidenthq/incidentd/services/rules"
)

var (
	queued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentd",
		Subsystem: "webhook",
		Name:      "alerts_queued_total",
		Help:      "Webhook alerts handed to the worker pool.",
	})
	dropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "incidentd",
		Subsystem: "webhook",
		Name:      "alerts_dropped_total",
		Help:      "Webhook alerts dropped because the pool backlog was full.",
	})
)

type Diagnostic interface {
	BatchReceived(count int)
	AlertDropped(key string)

	Error(msg string, err error)
}

// Service accepts monitoring webhooks and feeds the processor. The HTTP
// handler answers immediately; normalization results are processed by a
// small worker pool so a burst cannot stall the ingress.
type Service struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	queue   chan alert.Alert
	source  string
	workers int

	ProcessorService interface {
		Process(ctx context.Context, a alert.Alert)
	}
	RulesService interface {
		Lookup(name string) (rules.Rule, bool)
	}
	HTTPDService interface {
		AddRoutes(routes []httpd.Route) error
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		queue:   make(chan alert.Alert, c.QueueSize),
		source:  c.Source,
		workers: c.Workers,
		diag:    d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s.HTTPDService.AddRoutes([]httpd.Route{
		{
			Name:        "webhook-alerts",
			Method:      "POST",
			Pattern:     "/alerts",
			HandlerFunc: s.handleAlerts,
		},
	})
}

// Close drains the backlog: queued alerts are still processed before the
// workers exit.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.queue != nil {
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for a := range s.queue {
		s.ProcessorService.Process(context.Background(), a)
	}
}

func (s *Service) handleAlerts(w http.ResponseWriter, req *http.Request) {
	var p Payload
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		// Malformed payloads are acknowledged to avoid poison-pill retries.
		s.diag.Error("decode webhook payload", err)
		httpd.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	s.diag.BatchReceived(len(p.Alerts))

	for _, item := range p.Alerts {
		a := Normalize(item, p, s.source, s.RulesService.Lookup)
		select {
		case s.queue <- a:
			queued.Inc()
		default:
			dropped.Inc()
			s.diag.AlertDropped(a.IncidentKey())
		}
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
