package guides

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/incidenthq/incidentd/services/httpd"
	"github.com/pkg/errors"
)

// MaxChunkLen is the longest message a chat post may carry.
const MaxChunkLen = 2000

type Diagnostic interface {
	GuideSaved(ruleName string, by string)

	Error(msg string, err error)
}

// Service stores troubleshooting guides and serves them over the API and to
// the chat mirror. Without a database the service stays up but every
// operation reports ErrNoGuideExists or 503.
type Service struct {
	mu  sync.Mutex
	dao DAO

	PostgresService interface {
		DB() *sql.DB
		Enabled() bool
	}
	HTTPDService interface {
		AddRoutes(routes []httpd.Route) error
	}

	diag Diagnostic
}

func NewService(d Diagnostic) *Service {
	return &Service{diag: d}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PostgresService != nil && s.PostgresService.Enabled() {
		dao := newGuideSQL(s.PostgresService.DB())
		if err := dao.ensureTable(context.Background()); err != nil {
			return err
		}
		s.dao = dao
	}
	return s.HTTPDService.AddRoutes(s.routes())
}

func (s *Service) Close() error {
	return nil
}

func (s *Service) enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dao != nil
}

// Guide returns the guide for ruleName.
func (s *Service) Guide(ctx context.Context, ruleName string) (Guide, error) {
	if !s.enabled() {
		return Guide{}, ErrNoGuideExists
	}
	return s.dao.Get(ctx, ruleName)
}

// Chunk splits content into pieces no longer than max runes, preferring line
// boundaries so chat posts stay readable.
func Chunk(content string, max int) []string {
	if max <= 0 {
		max = MaxChunkLen
	}
	var out []string
	var b strings.Builder
	for _, line := range strings.SplitAfter(content, "\n") {
		for len([]rune(line)) > max {
			r := []rune(line)
			if b.Len() > 0 {
				out = append(out, b.String())
				b.Reset()
			}
			out = append(out, string(r[:max]))
			line = string(r[max:])
		}
		if len([]rune(b.String()))+len([]rune(line)) > max {
			out = append(out, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func (s *Service) routes() []httpd.Route {
	return []httpd.Route{
		{
			Name:        "guides-get",
			Method:      "GET",
			Pattern:     "/troubleshooting-guide",
			HandlerFunc: s.handleGet,
		},
		{
			Name:        "guides-put",
			Method:      "POST",
			Pattern:     "/troubleshooting-guide",
			HandlerFunc: s.handlePut,
		},
	}
}

func (s *Service) handleGet(w http.ResponseWriter, req *http.Request) {
	if !s.enabled() {
		httpd.HttpError(w, "guide storage requires a database", http.StatusServiceUnavailable)
		return
	}
	ruleName := req.URL.Query().Get("alertType")
	if ruleName == "" {
		all, err := s.dao.All(req.Context())
		if err != nil {
			s.diag.Error("list guides", err)
			httpd.HttpError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{"guides": all})
		return
	}
	g, err := s.dao.Get(req.Context(), ruleName)
	if errors.Is(err, ErrNoGuideExists) {
		httpd.HttpError(w, "no guide for "+ruleName, http.StatusNotFound)
		return
	}
	if err != nil {
		s.diag.Error("get guide", err)
		httpd.HttpError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, g)
}

func (s *Service) handlePut(w http.ResponseWriter, req *http.Request) {
	if !s.enabled() {
		httpd.HttpError(w, "guide storage requires a database", http.StatusServiceUnavailable)
		return
	}
	var g Guide
	if err := json.NewDecoder(req.Body).Decode(&g); err != nil {
		httpd.HttpError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if g.RuleName == "" || g.Content == "" {
		httpd.HttpError(w, "alertType and content are required", http.StatusBadRequest)
		return
	}
	if err := s.dao.Put(req.Context(), g); err != nil {
		s.diag.Error("put guide", err)
		httpd.HttpError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.diag.GuideSaved(g.RuleName, g.UpdatedBy)
	httpd.WriteJSON(w, http.StatusOK, map[string]bool{"saved": true})
}
