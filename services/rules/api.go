package rules

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/incidenthq/incidentd/services/httpd"
)

// Route mirrors httpd.Route so other packages only import this one.
type Route = httpd.Route

const maxConfigBody = 1 << 20

func (s *Service) routes() []Route {
	return []Route{
		{
			Name:        "rules-reload-get",
			Method:      "GET",
			Pattern:     "/reload",
			HandlerFunc: s.handleReload,
		},
		{
			Name:        "rules-reload",
			Method:      "POST",
			Pattern:     "/reload",
			HandlerFunc: s.handleReload,
		},
		{
			Name:        "rules-get-config",
			Method:      "GET",
			Pattern:     "/get-config",
			HandlerFunc: s.handleGetConfig,
		},
		{
			Name:        "rules-push-config",
			Method:      "POST",
			Pattern:     "/push-config",
			HandlerFunc: s.handlePushConfig,
		},
	}
}

func (s *Service) handleReload(w http.ResponseWriter, _ *http.Request) {
	count, err := s.ReloadFromFile()
	if err != nil {
		s.diag.Error("reload failed", err)
		httpd.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"entries": count,
	})
}

func (s *Service) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	httpd.WriteJSON(w, http.StatusOK, map[string]json.RawMessage{
		"config": json.RawMessage(s.Snapshot()),
	})
}

func (s *Service) handlePushConfig(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxConfigBody))
	if err != nil {
		httpd.HttpError(w, "read body", http.StatusBadRequest)
		return
	}
	if _, err := ParseConfig(raw); err != nil {
		httpd.HttpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.Push(raw)
	if err != nil {
		s.diag.Error("push failed", err)
		httpd.HttpError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	httpd.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pushed": true,
		"rules":  count,
	})
}
