package httpd

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Diagnostic interface {
	StartingService()
	StoppedService()
	ListeningOn(addr string)
	AuthenticationEnabled(enabled bool)

	HTTP(method, uri, remoteAddr string, status int, duration time.Duration)

	Error(msg string, err error)
}

type Service struct {
	mu sync.Mutex

	addr            string
	shutdownTimeout time.Duration

	ln     net.Listener
	server *http.Server
	err    chan error

	Handler *Handler

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		addr:            c.BindAddress,
		shutdownTimeout: time.Duration(c.ShutdownTimeout),
		err:             make(chan error, 1),
		Handler:         NewHandler(c, d),
		diag:            d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diag.StartingService()
	s.diag.AuthenticationEnabled(s.Handler.requireAuthentication)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr)
	}
	s.ln = ln
	s.diag.ListeningOn(ln.Addr().String())

	s.server = &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.serve()
	return nil
}

func (s *Service) serve() {
	err := s.server.Serve(s.ln)
	if err != nil && err != http.ErrServerClosed {
		s.err <- errors.Wrapf(err, "listener failed addr=%s", s.addr)
	} else {
		s.err <- nil
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.diag.StoppedService()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

// Err returns a channel receiving the terminal error of the listener.
func (s *Service) Err() <-chan error {
	return s.err
}

// AddRoutes registers routes owned by other services.
func (s *Service) AddRoutes(routes []Route) error {
	return s.Handler.AddRoutes(routes)
}

func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
