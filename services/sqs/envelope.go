package sqs

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/incidenthq/incidentd/alert"
)

// Envelope is the SNS notification wrapper SQS delivers.
type Envelope struct {
	Type              string                      `json:"Type"`
	MessageID         string                      `json:"MessageId"`
	Subject           string                      `json:"Subject"`
	Message           string                      `json:"Message"`
	Timestamp         string                      `json:"Timestamp"`
	MessageAttributes map[string]MessageAttribute `json:"MessageAttributes"`
}

type MessageAttribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// innerMessage is the union of CloudWatch alarm and EventBridge shapes found
// inside the envelope Message.
type innerMessage struct {
	AlarmName       string `json:"AlarmName"`
	NewStateValue   string `json:"NewStateValue"`
	NewStateReason  string `json:"NewStateReason"`
	AlarmDescription string `json:"AlarmDescription"`

	DetailType string `json:"detail-type"`
	Source     string `json:"source"`
	EventName  string `json:"eventName"`
	Detail     struct {
		Resource  string   `json:"resource"`
		Resources []string `json:"resources"`
		State     struct {
			Value string `json:"value"`
		} `json:"state"`
	} `json:"detail"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// ParseEnvelope converts one SNS envelope into a canonical alert.
func ParseEnvelope(body []byte) (alert.Alert, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return alert.Alert{}, errors.Wrap(err, "decode sns envelope")
	}

	var inner innerMessage
	// The inner message is free-form; a non-JSON body still yields an alert.
	_ = json.Unmarshal([]byte(env.Message), &inner)

	name := eventName(env, inner)

	a := alert.Alert{
		ID:       firstNonEmpty(inner.AlarmName, env.MessageID, uuid.NewString()),
		RuleName: name,
		Resource: resource(inner),
		Status:   alert.Firing,
		Severity: alert.Warning,
		Title:    name,
		Source:   "sns",
	}
	if inner.NewStateValue == "OK" || inner.Detail.State.Value == "OK" {
		a.Status = alert.Resolved
	}
	a.Description = alert.Sanitize(firstNonEmpty(inner.NewStateReason, inner.AlarmDescription, "No description"))
	if inner.AlarmName != "" {
		a.AddField("Alarm", inner.AlarmName)
	}
	if inner.Source != "" {
		a.AddField("Event source", inner.Source)
	}
	return a, nil
}

// eventName derives the rule lookup name, normalizing whitespace to
// underscores.
func eventName(env Envelope, inner innerMessage) string {
	candidates := []string{
		env.Subject,
		env.MessageAttributes["event_type"].Value,
		env.MessageAttributes["rule_name"].Value,
		inner.DetailType,
		inner.Source,
		inner.EventName,
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return whitespaceRe.ReplaceAllString(c, "_")
		}
	}
	return "sns"
}

func resource(inner innerMessage) string {
	if inner.AlarmName != "" {
		return inner.AlarmName
	}
	if inner.Detail.Resource != "" {
		return inner.Detail.Resource
	}
	if len(inner.Detail.Resources) > 0 {
		return inner.Detail.Resources[0]
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
