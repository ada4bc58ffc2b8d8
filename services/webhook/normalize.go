package webhook

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/incidenthq/incidentd/alert"
	"github.com/incidenthq/incidentd/services/rules"
)

// Payload is the monitoring webhook batch body.
type Payload struct {
	Status            string            `json:"status"`
	Alerts            []PayloadAlert    `json:"alerts"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
}

type PayloadAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
	Fingerprint string            `json:"fingerprint"`
}

// Normalize converts one webhook item into a canonical alert. lookup resolves
// the rule used for the Key info and hidden-label treatment; it may return
// false when no rule matches.
func Normalize(item PayloadAlert, common Payload, source string, lookup func(name string) (rules.Rule, bool)) alert.Alert {
	labels := merged(common.CommonLabels, item.Labels)
	annotations := merged(common.CommonAnnotations, item.Annotations)

	ruleName := labels["alertname"]
	if ruleName == "" {
		ruleName = labels["alert_type"]
	}
	if ruleName == "" {
		ruleName = "default"
	}

	a := alert.Alert{
		ID:       item.Fingerprint,
		RuleName: ruleName,
		Resource: firstNonEmpty(labels["instance"], labels["DBInstanceIdentifier"], labels["resource"]),
		Status:   alert.Firing,
		Severity: alert.ParseSeverity(labels["severity"]),
		Title:    ruleName,
		Source:   source,
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("%s-%d-%s", ruleName, item.StartsAt.Unix(), uuid.NewString()[:8])
	}
	if item.Status == "resolved" {
		a.Status = alert.Resolved
	}

	a.Description = alert.Sanitize(firstNonEmpty(annotations["summary"], annotations["description"], "No description"))

	rule, _ := lookup(ruleName)
	if keyInfo := keyInfoValue(labels, rule.ImportantLabels); keyInfo != "" {
		a.AddField("Key info", keyInfo)
	}
	for _, name := range sortedKeys(labels) {
		if name == "alertname" || rule.HidesLabel(name) || contains(rule.ImportantLabels, name) {
			continue
		}
		a.AddField(name, alert.Sanitize(labels[name]))
	}
	for _, name := range sortedKeys(annotations) {
		if name == "summary" || name == "description" || rule.HidesLabel(name) {
			continue
		}
		a.AddField(name, alert.Sanitize(annotations[name]))
	}

	if alert.MeaningfulTime(item.StartsAt) {
		a.StartedAt = item.StartsAt
	}
	if a.Status == alert.Resolved && alert.MeaningfulTime(item.EndsAt) {
		a.ResolvedAt = item.EndsAt
	}
	return a
}

// keyInfoValue concatenates the rule's important labels in insertion order.
func keyInfoValue(labels map[string]string, important []string) string {
	var parts []string
	for _, name := range important {
		if v := labels[name]; v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", name, alert.Sanitize(v)))
		}
	}
	return strings.Join(parts, " | ")
}

func merged(common, own map[string]string) map[string]string {
	out := make(map[string]string, len(common)+len(own))
	for k, v := range common {
		out[k] = v
	}
	for k, v := range own {
		out[k] = v
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
