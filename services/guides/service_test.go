package guides

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/incidenthq/incidentd/services/httpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDiag struct{}

func (testDiag) GuideSaved(string, string)   {}
func (testDiag) Error(msg string, err error) {}

type routeSink struct {
	routes []httpd.Route
}

func (s *routeSink) AddRoutes(routes []httpd.Route) error {
	s.routes = append(s.routes, routes...)
	return nil
}

func (s *routeSink) handler(name string) http.HandlerFunc {
	for _, r := range s.routes {
		if r.Name == name {
			return r.HandlerFunc
		}
	}
	return nil
}

type fakePostgres struct {
	db *sql.DB
}

func (f fakePostgres) DB() *sql.DB   { return f.db }
func (f fakePostgres) Enabled() bool { return f.db != nil }

func newMockedService(t *testing.T) (*Service, sqlmock.Sqlmock, *routeSink) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS troubleshooting_guides").
		WillReturnResult(sqlmock.NewResult(0, 0))

	sink := &routeSink{}
	s := NewService(testDiag{})
	s.PostgresService = fakePostgres{db: db}
	s.HTTPDService = sink
	require.NoError(t, s.Open())
	return s, mock, sink
}

func TestService_GuideRoundTrip(t *testing.T) {
	s, mock, _ := newMockedService(t)
	defer s.Close()

	mock.ExpectExec("INSERT INTO troubleshooting_guides").
		WithArgs("HighCPU", "check the dashboards", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.dao.Put(context.Background(), Guide{
		RuleName:  "HighCPU",
		Content:   "check the dashboards",
		UpdatedBy: "alice",
	}))

	now := time.Now()
	mock.ExpectQuery("SELECT rule_name, content, updated_by, updated_at").
		WithArgs("HighCPU").
		WillReturnRows(sqlmock.NewRows([]string{"rule_name", "content", "updated_by", "updated_at"}).
			AddRow("HighCPU", "check the dashboards", "alice", now))
	g, err := s.Guide(context.Background(), "HighCPU")
	require.NoError(t, err)
	assert.Equal(t, "check the dashboards", g.Content)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_GuideMissing(t *testing.T) {
	s, mock, _ := newMockedService(t)
	defer s.Close()

	mock.ExpectQuery("SELECT rule_name, content, updated_by, updated_at").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"rule_name", "content", "updated_by", "updated_at"}))
	_, err := s.Guide(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoGuideExists)
}

func TestService_DisabledWithoutDatabase(t *testing.T) {
	sink := &routeSink{}
	s := NewService(testDiag{})
	s.HTTPDService = sink
	require.NoError(t, s.Open())
	defer s.Close()

	_, err := s.Guide(context.Background(), "any")
	assert.ErrorIs(t, err, ErrNoGuideExists)

	w := httptest.NewRecorder()
	sink.handler("guides-get")(w, httptest.NewRequest("GET", "/troubleshooting-guide?alertType=x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	sink.handler("guides-put")(w, httptest.NewRequest("POST", "/troubleshooting-guide",
		strings.NewReader(`{"alertType": "x", "content": "y"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPI_PutValidation(t *testing.T) {
	s, _, sink := newMockedService(t)
	defer s.Close()

	w := httptest.NewRecorder()
	sink.handler("guides-put")(w, httptest.NewRequest("POST", "/troubleshooting-guide",
		strings.NewReader(`{"alertType": "", "content": "y"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	sink.handler("guides-put")(w, httptest.NewRequest("POST", "/troubleshooting-guide",
		strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChunk(t *testing.T) {
	t.Run("short content is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello\nworld"}, Chunk("hello\nworld", 100))
	})

	t.Run("splits on line boundaries", func(t *testing.T) {
		content := "aaaa\nbbbb\ncccc"
		chunks := Chunk(content, 10)
		assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc"}, chunks)
	})

	t.Run("hard-splits overlong lines", func(t *testing.T) {
		chunks := Chunk(strings.Repeat("x", 25), 10)
		assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
	})

	t.Run("reassembles to the original", func(t *testing.T) {
		content := "line one\nline two\n" + strings.Repeat("y", 45) + "\nline four"
		chunks := Chunk(content, 20)
		assert.Equal(t, content, strings.Join(chunks, ""))
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), 20)
		}
	})
}
