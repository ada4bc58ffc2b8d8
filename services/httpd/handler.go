package httpd

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/influxdata/httprouter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
	// NoAuth exempts the route from bearer authentication.
	NoAuth bool
}

// Handler dispatches API requests. Routes are added by the services that own
// them; the handler contributes authentication, request logging, and the
// built-in health and metrics endpoints.
type Handler struct {
	mu     sync.Mutex
	router *httprouter.Router
	routes map[string]Route

	requireAuthentication bool
	authToken             string

	loggingEnabled bool
	diag           Diagnostic

	Version string
	started time.Time

	// DiagnosticService handles runtime log-level changes.
	DiagnosticService interface {
		SetLevel(name string) error
	}
}

func NewHandler(c Config, d Diagnostic) *Handler {
	h := &Handler{
		router:                httprouter.New(),
		routes:                make(map[string]Route),
		requireAuthentication: c.AuthToken != "",
		authToken:             c.AuthToken,
		loggingEnabled:        c.LogEnabled,
		diag:                  d,
		started:               time.Now(),
	}
	h.router.NotFound = http.HandlerFunc(h.serve404)
	h.router.MethodNotAllowed = http.HandlerFunc(h.serve405)

	h.mustAddRoutes([]Route{
		{
			Name:        "health",
			Method:      "GET",
			Pattern:     "/health",
			HandlerFunc: h.serveHealth,
			NoAuth:      true,
		},
		{
			Name:        "metrics",
			Method:      "GET",
			Pattern:     "/metrics",
			HandlerFunc: promhttp.Handler().ServeHTTP,
			NoAuth:      true,
		},
		{
			Name:        "log-level",
			Method:      "POST",
			Pattern:     "/loglevel",
			HandlerFunc: h.serveLogLevel,
		},
	})
	return h
}

func (h *Handler) mustAddRoutes(routes []Route) {
	if err := h.AddRoutes(routes); err != nil {
		panic(err)
	}
}

func (h *Handler) AddRoutes(routes []Route) error {
	for _, r := range routes {
		if err := h.addRoute(r); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) addRoute(r Route) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := r.Method + " " + r.Pattern
	if _, ok := h.routes[key]; ok {
		return errors.Errorf("route exists: %s", key)
	}
	h.routes[key] = r
	h.router.HandlerFunc(r.Method, r.Pattern, h.wrap(r))
	return nil
}

func (h *Handler) wrap(r Route) http.HandlerFunc {
	inner := r.HandlerFunc
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		if h.requireAuthentication && !r.NoAuth && !h.authenticated(req) {
			HttpError(sw, "unauthorized", http.StatusUnauthorized)
		} else {
			inner(sw, req)
		}

		if h.loggingEnabled {
			h.diag.HTTP(req.Method, req.URL.Path, req.RemoteAddr, sw.status, time.Since(start))
		}
	}
}

func (h *Handler) authenticated(req *http.Request) bool {
	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return strings.TrimPrefix(auth, prefix) == h.authToken
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.router.ServeHTTP(w, req)
}

func (h *Handler) serveHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.Version,
		"uptime":  time.Since(h.started).String(),
	})
}

func (h *Handler) serveLogLevel(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		HttpError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if h.DiagnosticService == nil {
		HttpError(w, "log level is not adjustable", http.StatusServiceUnavailable)
		return
	}
	if err := h.DiagnosticService.SetLevel(body.Level); err != nil {
		HttpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) serve404(w http.ResponseWriter, _ *http.Request) {
	HttpError(w, "not found", http.StatusNotFound)
}

func (h *Handler) serve405(w http.ResponseWriter, _ *http.Request) {
	HttpError(w, "method not allowed", http.StatusMethodNotAllowed)
}

// WriteJSON writes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HttpError writes a JSON error body with the given status.
func HttpError(w http.ResponseWriter, msg string, status int) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
