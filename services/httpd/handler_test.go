package httpd

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDiag struct{}

func (testDiag) StartingService()                                {}
func (testDiag) StoppedService()                                 {}
func (testDiag) ListeningOn(string)                              {}
func (testDiag) AuthenticationEnabled(bool)                      {}
func (testDiag) HTTP(string, string, string, int, time.Duration) {}
func (testDiag) Error(string, error)                             {}

type fakeLevels struct {
	set string
}

func (f *fakeLevels) SetLevel(name string) error {
	switch name {
	case "debug", "info", "warn", "error":
		f.set = name
		return nil
	}
	return errors.Errorf("unknown log level %q", name)
}

func newTestHandler(t *testing.T, c Config) *Handler {
	t.Helper()
	h := NewHandler(c, testDiag{})
	h.Version = "1.2.3"
	return h
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(t, Config{})

	w := get(h, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"version":"1.2.3"`)
}

func TestHandler_Authentication(t *testing.T) {
	h := newTestHandler(t, Config{AuthToken: "secret"})
	require.NoError(t, h.AddRoutes([]Route{{
		Name:    "echo",
		Method:  "GET",
		Pattern: "/echo",
		HandlerFunc: func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
		},
	}}))

	assert.Equal(t, http.StatusUnauthorized, get(h, "/echo", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/echo", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(h, "/echo", "secret").Code)

	// Health and metrics stay open for probes and scrapers.
	assert.Equal(t, http.StatusOK, get(h, "/health", "").Code)
	assert.Equal(t, http.StatusOK, get(h, "/metrics", "").Code)
}

func TestHandler_DuplicateRoute(t *testing.T) {
	h := newTestHandler(t, Config{})
	r := Route{
		Name:        "dup",
		Method:      "GET",
		Pattern:     "/dup",
		HandlerFunc: func(w http.ResponseWriter, _ *http.Request) {},
	}
	require.NoError(t, h.AddRoutes([]Route{r}))
	assert.Error(t, h.AddRoutes([]Route{r}))
}

func TestHandler_NotFound(t *testing.T) {
	h := newTestHandler(t, Config{})
	w := get(h, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestHandler_LogLevel(t *testing.T) {
	h := newTestHandler(t, Config{})
	levels := &fakeLevels{}
	h.DiagnosticService = levels

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/loglevel", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, post(`{"level":"debug"}`).Code)
	assert.Equal(t, "debug", levels.set)

	assert.Equal(t, http.StatusBadRequest, post(`{"level":"loud"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)
}
