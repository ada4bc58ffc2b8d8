package incident

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/incidenthq/incidentd/alert"
)

var (
	ErrNoIncidentExists = errors.New("no incident exists")
)

// State of an incident's lifecycle. A record moves from firing through
// optional acknowledged to at most one resolved before deletion.
type State string

const (
	StateFiring       State = "firing"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
)

// Record is the persisted per-incident state, keyed by the incident key.
//
// UpdatedAt is the last user-visible emission time, not the last write time.
// The escalation loop computes mention thresholds from it, so only the chat
// mirror may advance it.
type Record struct {
	Key string `json:"key"`
	// AlertID is the source fingerprint the dedup service keys on. The
	// incident key appends the resource, which may itself contain colons,
	// so the fingerprint cannot be recovered from the key.
	AlertID   string `json:"alert_id"`
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`

	State    State          `json:"state"`
	RuleName string         `json:"rule_name"`
	Severity alert.Severity `json:"severity"`

	UpdatedAt time.Time `json:"updated_at"`

	AcknowledgedBy string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitzero"`
	ResolvedBy     string    `json:"resolved_by,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitzero"`

	// MentionLevel indexes the next responder to ping; monotonically
	// non-decreasing while the record stays in firing.
	MentionLevel int `json:"mention_level"`
}

const (
	keyPrefix = "alert:"
	// RecordTTL is refreshed on every put.
	RecordTTL = 7 * 24 * time.Hour
	scanCount = 100
)

// DAO is the data access object for incident records.
type DAO interface {
	// Get retrieves a record. ErrNoIncidentExists is returned when absent.
	Get(ctx context.Context, key string) (Record, error)

	// Put stores the record under its key, refreshing the TTL.
	// Put never injects timestamps; callers own UpdatedAt.
	Put(ctx context.Context, r Record) error

	// Delete removes a record. Deleting a non-existent record is not an error.
	Delete(ctx context.Context, key string) error

	// Walk enumerates every record with an incremental cursor, never locking
	// the whole keyspace. fn returning an error stops the walk.
	Walk(ctx context.Context, fn func(Record) error) error
}

// Key/value store backed implementation of the DAO.
type recordKV struct {
	client *redis.Client
}

func newRecordKV(client *redis.Client) *recordKV {
	return &recordKV{client: client}
}

func (kv *recordKV) Get(ctx context.Context, key string) (Record, error) {
	data, err := kv.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return Record{}, ErrNoIncidentExists
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "get incident")
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, errors.Wrapf(err, "decode incident %q", key)
	}
	return r, nil
}

func (kv *recordKV) Put(ctx context.Context, r Record) error {
	if r.Key == "" {
		return errors.New("incident record missing key")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode incident")
	}
	if err := kv.client.Set(ctx, keyPrefix+r.Key, data, RecordTTL).Err(); err != nil {
		return errors.Wrap(err, "put incident")
	}
	return nil
}

func (kv *recordKV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "delete incident")
	}
	return nil
}

func (kv *recordKV) Walk(ctx context.Context, fn func(Record) error) error {
	var cursor uint64
	for {
		keys, next, err := kv.client.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			return errors.Wrap(err, "scan incidents")
		}
		for _, k := range keys {
			data, err := kv.client.Get(ctx, k).Bytes()
			if err == redis.Nil {
				// Expired between scan and get.
				continue
			}
			if err != nil {
				return errors.Wrap(err, "get incident during walk")
			}
			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				// Skip undecodable records rather than abort the sweep.
				continue
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
