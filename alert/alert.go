package alert

import (
	"strings"
	"time"
)

// Status is the source-reported state of an alert.
type Status string

const (
	Firing   Status = "firing"
	Resolved Status = "resolved"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	Critical Severity = "critical"
	High     Severity = "high"
	Warning  Severity = "warning"
	Info     Severity = "info"
)

// ParseSeverity normalizes a source severity string.
// Unknown or empty values map to Warning.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case Critical:
		return Critical
	case High:
		return High
	case Warning:
		return Warning
	case Info:
		return Info
	default:
		return Warning
	}
}

// Field is a single labelled value rendered on the chat message.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const (
	// MaxFields bounds the number of fields carried by an alert.
	MaxFields = 20
	// MaxFieldValueLen bounds the rune length of a single field value.
	MaxFieldValueLen = 1024
)

// Alert is the canonical internal payload produced by every ingress adapter
// and consumed by the processor.
type Alert struct {
	// ID is the stable fingerprint supplied by the source.
	ID string
	// Resource is an optional secondary dimension (host, database instance, ...).
	Resource string
	// RuleName is the configuration lookup key.
	RuleName string

	Status   Status
	Severity Severity

	Title       string
	Description string
	Fields      []Field

	StartedAt  time.Time
	ResolvedAt time.Time

	// ChannelID is the resolved chat destination.
	ChannelID string
	// Source tags the ingestion origin, e.g. "grafana" or "sns".
	Source string
}

// DefaultResource is used in incident keys when an alert carries no resource.
const DefaultResource = "default"

// IncidentKey identifies the incident an alert belongs to.
// Repeated firings of the same logical alert share a key.
func (a Alert) IncidentKey() string {
	r := a.Resource
	if r == "" {
		r = DefaultResource
	}
	return a.ID + ":" + r
}

// AddField appends a field, enforcing the count and value-length bounds.
func (a *Alert) AddField(name, value string) {
	if len(a.Fields) >= MaxFields {
		return
	}
	if r := []rune(value); len(r) > MaxFieldValueLen {
		value = string(r[:MaxFieldValueLen])
	}
	a.Fields = append(a.Fields, Field{Name: name, Value: value})
}
