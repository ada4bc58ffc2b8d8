package rules

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// DefaultSuppressWindow applies when a rule does not set suppress_window_ms.
const DefaultSuppressWindow = 5 * time.Minute

// Rule maps an alert name to its destination and behavior.
type Rule struct {
	ChannelID        string   `json:"channel_id"`
	SuppressWindowMS int64    `json:"suppress_window_ms,omitempty"`
	ImportantLabels  []string `json:"important_labels,omitempty"`
	HiddenLabels     []string `json:"hidden_labels,omitempty"`
	ThumbnailURL     string   `json:"thumbnail_url,omitempty"`
	Mentions         []string `json:"mentions,omitempty"`
}

// SuppressWindow returns the dedup TTL for this rule.
func (r Rule) SuppressWindow() time.Duration {
	if r.SuppressWindowMS <= 0 {
		return DefaultSuppressWindow
	}
	return time.Duration(r.SuppressWindowMS) * time.Millisecond
}

// HidesLabel reports whether the label is excluded from chat fields.
func (r Rule) HidesLabel(name string) bool {
	for _, h := range r.HiddenLabels {
		if h == name {
			return true
		}
	}
	return false
}

// ParseConfig validates raw JSON rule config and returns the typed rule set.
// The input must be a JSON object mapping rule names to rule objects; each
// entry needs a string channel_id. Mentions are filtered to string elements;
// other optional fields must carry their declared types.
func ParseConfig(raw []byte) (map[string]Rule, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var top interface{}
	if err := dec.Decode(&top); err != nil {
		return nil, errors.Wrap(err, "invalid config JSON")
	}
	obj, ok := top.(map[string]interface{})
	if !ok {
		return nil, errors.New("config must be a JSON object of rule entries")
	}

	out := make(map[string]Rule, len(obj))
	for name, v := range obj {
		entry, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("rule %q must be an object", name)
		}
		var r Rule
		ch, ok := entry["channel_id"].(string)
		if !ok || ch == "" {
			return nil, errors.Errorf("rule %q must have a string channel_id", name)
		}
		r.ChannelID = ch

		if v, present := entry["suppress_window_ms"]; present {
			n, ok := v.(json.Number)
			if !ok {
				return nil, errors.Errorf("rule %q: suppress_window_ms must be a number", name)
			}
			ms, err := n.Int64()
			if err != nil || ms < 0 {
				return nil, errors.Errorf("rule %q: invalid suppress_window_ms %v", name, v)
			}
			r.SuppressWindowMS = ms
		}
		if v, present := entry["thumbnail_url"]; present {
			u, ok := v.(string)
			if !ok {
				return nil, errors.Errorf("rule %q: thumbnail_url must be a string", name)
			}
			r.ThumbnailURL = u
		}
		var err error
		if r.ImportantLabels, err = stringList(entry, "important_labels"); err != nil {
			return nil, errors.Wrapf(err, "rule %q", name)
		}
		if r.HiddenLabels, err = stringList(entry, "hidden_labels"); err != nil {
			return nil, errors.Wrapf(err, "rule %q", name)
		}
		// Mentions tolerate malformed elements: anything non-string is dropped.
		if v, present := entry["mentions"]; present {
			list, ok := v.([]interface{})
			if !ok {
				return nil, errors.Errorf("rule %q: mentions must be an array", name)
			}
			for _, m := range list {
				if s, ok := m.(string); ok {
					r.Mentions = append(r.Mentions, s)
				}
			}
		}
		out[name] = r
	}
	return out, nil
}

func stringList(entry map[string]interface{}, key string) ([]string, error) {
	v, present := entry[key]
	if !present {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.Errorf("%s must be an array of strings", key)
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, errors.Errorf("%s must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
