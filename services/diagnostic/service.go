package diagnostic

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service owns the process-wide logger. Each service receives its own
// handler implementing that service's Diagnostic interface; handlers share
// the logger and differ only in their "service" field.
type Service struct {
	mu     sync.RWMutex
	c      Config
	level  zap.AtomicLevel
	logger *zap.Logger
}

func NewService(c Config) *Service {
	return &Service{
		c:     c,
		level: zap.NewAtomicLevel(),
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lvl, err := zapcore.ParseLevel(s.c.Level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", s.c.Level)
	}
	s.level.SetLevel(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if s.c.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), s.level)
	s.logger = zap.New(core)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logger == nil {
		return nil
	}
	// Sync errors on stderr are expected on some platforms.
	_ = s.logger.Sync()
	s.logger = nil
	return nil
}

// SetLevel changes the minimum emitted level at runtime.
func (s *Service) SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", name)
	}
	s.level.SetLevel(lvl)
	return nil
}

func (s *Service) named(service string) *zap.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := s.logger
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("service", service))
}
