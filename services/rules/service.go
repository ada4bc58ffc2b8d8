package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

type Diagnostic interface {
	LoadedFromFile(path string, count int)
	LoadedFromDatabase(count int)
	MergedFileOverDatabase(added int)
	Reloaded(count int)
	Pushed(count int)

	Error(msg string, err error)
}

// Service owns the alert rule config. The file at Config.Path is the seed;
// when a database is available the persisted copy is merged with the file on
// startup (file entries win) and all later pushes write through to it.
type Service struct {
	mu sync.RWMutex

	path  string
	rules map[string]Rule
	raw   []byte

	dao ConfigDAO

	PostgresService interface {
		DB() *sql.DB
		Enabled() bool
	}
	HTTPDService interface {
		AddRoutes(routes []Route) error
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		path: c.Path,
		diag: d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileRaw, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrapf(err, "read rule config %s", s.path)
	}
	fileRules, err := ParseConfig(fileRaw)
	if err != nil {
		return errors.Wrapf(err, "parse rule config %s", s.path)
	}
	s.diag.LoadedFromFile(s.path, len(fileRules))

	if s.PostgresService != nil && s.PostgresService.Enabled() {
		s.dao = newConfigSQL(s.PostgresService.DB())
		if err := s.bootstrapFromDB(fileRaw, fileRules); err != nil {
			return err
		}
	} else {
		s.rules = fileRules
		s.raw = fileRaw
	}

	return s.HTTPDService.AddRoutes(s.routes())
}

// bootstrapFromDB merges the file config over the persisted config, persists
// the merged result, and caches it. File entries take precedence so that a
// redeploy with an updated file always wins.
func (s *Service) bootstrapFromDB(fileRaw []byte, fileRules map[string]Rule) error {
	ctx := context.Background()
	if err := s.dao.(*configSQL).ensureTable(ctx); err != nil {
		return err
	}

	dbRaw, err := s.dao.Load(ctx)
	if err != nil {
		return err
	}
	if dbRaw == nil {
		if err := s.dao.Save(ctx, fileRaw); err != nil {
			return err
		}
		s.rules = fileRules
		s.raw = fileRaw
		return nil
	}

	dbRules, err := ParseConfig(dbRaw)
	if err != nil {
		// A corrupt persisted copy must not keep the service down.
		s.diag.Error("discarding invalid persisted config", err)
		dbRules = nil
	}
	s.diag.LoadedFromDatabase(len(dbRules))

	merged := make(map[string]Rule, len(dbRules)+len(fileRules))
	for name, r := range dbRules {
		merged[name] = r
	}
	added := 0
	for name, r := range fileRules {
		if _, ok := merged[name]; !ok {
			added++
		}
		merged[name] = r
	}
	s.diag.MergedFileOverDatabase(added)

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, "encode merged config")
	}
	if err := s.dao.Save(ctx, mergedRaw); err != nil {
		return err
	}
	s.rules = merged
	s.raw = mergedRaw
	return nil
}

func (s *Service) Close() error {
	return nil
}

// Lookup returns the rule for name. Matching is exact: unnamed webhook
// alerts arrive with the literal name "default", so a "default" entry is a
// catch-all for those without shadowing any other name.
func (s *Service) Lookup(name string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[name]
	return r, ok
}

// Snapshot returns the raw JSON of the active config.
func (s *Service) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// ReloadFromFile re-reads the config file and replaces the active rule set.
// The active set is untouched when the file is missing or invalid.
func (s *Service) ReloadFromFile() (int, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0, errors.Wrapf(err, "read rule config %s", s.path)
	}
	rules, err := ParseConfig(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parse rule config %s", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dao != nil {
		if err := s.dao.Save(context.Background(), raw); err != nil {
			return 0, err
		}
	}
	s.rules = rules
	s.raw = raw
	s.diag.Reloaded(len(rules))
	return len(rules), nil
}

// Push validates raw, persists it when a database is available, and replaces
// the active rule set.
func (s *Service) Push(raw []byte) (int, error) {
	rules, err := ParseConfig(raw)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dao != nil {
		if err := s.dao.Save(context.Background(), raw); err != nil {
			return 0, err
		}
	}
	s.rules = rules
	s.raw = raw
	s.diag.Pushed(len(rules))
	return len(rules), nil
}
