// Package server assembles the services into one daemon and owns their
// startup and shutdown order.
package server

import (
	"github.com/pkg/errors"

	"github.com/incidenthq/incidentd/services/audit"
	"github.com/incidenthq/incidentd/services/chat"
	"github.com/incidenthq/incidentd/services/dedup"
	"github.com/incidenthq/incidentd/services/diagnostic"
	"github.com/incidenthq/incidentd/services/escalation"
	"github.com/incidenthq/incidentd/services/guides"
	"github.com/incidenthq/incidentd/services/httpd"
	"github.com/incidenthq/incidentd/services/incident"
	"github.com/incidenthq/incidentd/services/postgres"
	"github.com/incidenthq/incidentd/services/processor"
	"github.com/incidenthq/incidentd/services/reconcile"
	"github.com/incidenthq/incidentd/services/rules"
	"github.com/incidenthq/incidentd/services/sqs"
	"github.com/incidenthq/incidentd/services/storage"
	"github.com/incidenthq/incidentd/services/webhook"
)

// Service is the lifecycle every hosted service implements.
type Service interface {
	Open() error
	Close() error
}

// Server is the assembled daemon. Services open in append order and close in
// reverse.
type Server struct {
	config  *Config
	version string

	Services []Service
	opened   int

	Diagnostics *diagnostic.Service
	HTTPD       *httpd.Service

	err chan error
}

func New(c *Config, version string) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	s := &Server{
		config:  c,
		version: version,
		err:     make(chan error, 1),
	}

	diag := diagnostic.NewService(c.Logging)
	s.Diagnostics = diag
	s.append(diag)

	storageSvc := storage.NewService(c.Storage, diag.NewStorageHandler())
	s.append(storageSvc)

	postgresSvc := postgres.NewService(c.Postgres, diag.NewPostgresHandler())
	s.append(postgresSvc)

	dedupSvc := dedup.NewService(diag.NewDedupHandler())
	dedupSvc.StorageService = storageSvc
	s.append(dedupSvc)

	incidentSvc := incident.NewService(diag.NewIncidentHandler())
	incidentSvc.StorageService = storageSvc
	s.append(incidentSvc)

	httpdSvc := httpd.NewService(c.HTTP, diag.NewHTTPDHandler())
	httpdSvc.Handler.Version = version
	httpdSvc.Handler.DiagnosticService = diag
	s.HTTPD = httpdSvc

	rulesSvc := rules.NewService(c.Rules, diag.NewRulesHandler())
	rulesSvc.PostgresService = postgresSvc
	rulesSvc.HTTPDService = httpdSvc
	s.append(rulesSvc)

	guidesSvc := guides.NewService(diag.NewGuidesHandler())
	guidesSvc.PostgresService = postgresSvc
	guidesSvc.HTTPDService = httpdSvc
	s.append(guidesSvc)

	auditSvc := audit.NewService(c.Audit, diag.NewAuditHandler())
	auditSvc.PostgresService = postgresSvc
	s.append(auditSvc)

	chatSvc := chat.NewService(c.Chat, diag.NewChatHandler())
	chatSvc.IncidentService = incidentSvc
	chatSvc.DedupService = dedupSvc
	chatSvc.RulesService = rulesSvc
	chatSvc.GuidesService = guidesSvc
	s.append(chatSvc)

	processorSvc := processor.NewService(diag.NewProcessorHandler())
	processorSvc.RulesService = rulesSvc
	processorSvc.DedupService = dedupSvc
	processorSvc.IncidentService = incidentSvc
	processorSvc.ChatService = chatSvc
	processorSvc.AuditService = auditSvc
	s.append(processorSvc)

	webhookSvc := webhook.NewService(c.Webhook, diag.NewWebhookHandler())
	webhookSvc.ProcessorService = processorSvc
	webhookSvc.RulesService = rulesSvc
	webhookSvc.HTTPDService = httpdSvc
	s.append(webhookSvc)

	escalationSvc := escalation.NewService(diag.NewEscalationHandler())
	escalationSvc.IncidentService = incidentSvc
	escalationSvc.RulesService = rulesSvc
	escalationSvc.ChatService = chatSvc
	s.append(escalationSvc)

	reconcileSvc := reconcile.NewService(diag.NewReconcileHandler())
	reconcileSvc.IncidentService = incidentSvc
	reconcileSvc.ChatService = chatSvc
	s.append(reconcileSvc)

	sqsSvc := sqs.NewService(c.SQS, diag.NewSQSHandler())
	sqsSvc.ProcessorService = processorSvc
	s.append(sqsSvc)

	// The listener starts last so the API only answers once everything
	// behind it is open.
	s.append(httpdSvc)

	return s, nil
}

func (s *Server) append(svc Service) {
	s.Services = append(s.Services, svc)
}

func (s *Server) Open() error {
	for i, svc := range s.Services {
		if err := svc.Open(); err != nil {
			s.opened = i
			s.closeOpened()
			return errors.Wrapf(err, "open service %T", svc)
		}
	}
	s.opened = len(s.Services)
	s.watchServices()
	return nil
}

func (s *Server) Close() error {
	return s.closeOpened()
}

func (s *Server) closeOpened() error {
	var last error
	for i := s.opened - 1; i >= 0; i-- {
		if err := s.Services[i].Close(); err != nil {
			last = errors.Wrapf(err, "close service %T", s.Services[i])
		}
	}
	s.opened = 0
	return last
}

// watchServices forwards the first terminal service error.
func (s *Server) watchServices() {
	go func() {
		s.err <- <-s.HTTPD.Err()
	}()
}

// Err returns a channel receiving a fatal error from a hosted service.
func (s *Server) Err() <-chan error {
	return s.err
}
