package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidenthq/incidentd/alert"
	"github.com/incidenthq/incidentd/services/audit"
	"github.com/incidenthq/incidentd/services/dedup"
	"github.com/incidenthq/incidentd/services/incident"
	"github.com/incidenthq/incidentd/services/rules"
)

type nopDiag struct{}

func (nopDiag) Suppressed(key, reason string)             {}
func (nopDiag) ExpiredRecordDropped(key string, s string) {}
func (nopDiag) Emitted(key, messageID string)             {}
func (nopDiag) Error(msg string, err error)               {}

type dedupDiag struct{}

func (dedupDiag) Error(msg string, err error) {}

type staticStorage struct {
	client *redis.Client
}

func (s staticStorage) Client() *redis.Client { return s.client }

type memDAO struct {
	mu      sync.Mutex
	records map[string]incident.Record
}

func newMemDAO() *memDAO {
	return &memDAO{records: make(map[string]incident.Record)}
}

func (d *memDAO) Get(_ context.Context, key string) (incident.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[key]
	if !ok {
		return incident.Record{}, incident.ErrNoIncidentExists
	}
	return r, nil
}

func (d *memDAO) Put(_ context.Context, r incident.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[r.Key] = r
	return nil
}

func (d *memDAO) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, key)
	return nil
}

func (d *memDAO) Walk(_ context.Context, fn func(incident.Record) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

type staticIncidents struct {
	dao incident.DAO
}

func (s staticIncidents) Records() incident.DAO { return s.dao }

type staticRules map[string]rules.Rule

func (r staticRules) Lookup(name string) (rules.Rule, bool) {
	rule, ok := r[name]
	return rule, ok
}

// fakeChat records every emit and maintains the incident record the way the
// real mirror does: reuse on existing key, create otherwise.
type fakeChat struct {
	mu     sync.Mutex
	dao    *memDAO
	emits  []alert.Alert
	nextID int
}

func (c *fakeChat) Emit(ctx context.Context, a alert.Alert, rule rules.Rule) (incident.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, a)

	key := a.IncidentKey()
	rec, err := c.dao.Get(ctx, key)
	if err != nil {
		c.nextID++
		rec = incident.Record{
			Key:       key,
			MessageID: string(rune('a' + c.nextID)),
			ChannelID: a.ChannelID,
		}
	}
	if a.Status == alert.Resolved {
		rec.State = incident.StateResolved
		rec.ResolvedAt = time.Now()
	} else {
		rec.State = incident.StateFiring
	}
	rec.RuleName = a.RuleName
	rec.Severity = a.Severity
	rec.UpdatedAt = time.Now()
	if err := c.dao.Put(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *fakeAudit) Append(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

type fixture struct {
	svc     *Service
	mr      *miniredis.Miniredis
	dao     *memDAO
	chat    *fakeChat
	audit   *fakeAudit
	clock   *clock.Mock
	dedupSv *dedup.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	dedupSvc := dedup.NewService(dedupDiag{})
	dedupSvc.StorageService = staticStorage{client: client}
	require.NoError(t, dedupSvc.Open())

	dao := newMemDAO()
	mockClock := clock.NewMock()

	s := NewService(nopDiag{})
	s.clock = mockClock
	s.RulesService = staticRules{
		"HighCPU": {ChannelID: "c1", SuppressWindowMS: 300000},
	}
	s.DedupService = dedupSvc
	s.IncidentService = staticIncidents{dao: dao}
	chat := &fakeChat{dao: dao}
	s.ChatService = chat
	auditSink := &fakeAudit{}
	s.AuditService = auditSink

	return &fixture{
		svc:     s,
		mr:      mr,
		dao:     dao,
		chat:    chat,
		audit:   auditSink,
		clock:   mockClock,
		dedupSv: dedupSvc,
	}
}

func firing() alert.Alert {
	return alert.Alert{
		ID:       "fp1",
		RuleName: "HighCPU",
		Status:   alert.Firing,
		Severity: alert.Critical,
		Source:   "grafana",
	}
}

func TestProcess_FirstFiring(t *testing.T) {
	f := newFixture(t)
	sentBefore := testutil.ToFloat64(sent)

	f.svc.Process(context.Background(), firing())

	rec, err := f.dao.Get(context.Background(), "fp1:default")
	require.NoError(t, err)
	assert.Equal(t, incident.StateFiring, rec.State)
	assert.NotEmpty(t, rec.MessageID)

	assert.True(t, f.mr.Exists("dedup:fp1"))
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, "fp1", f.audit.events[0].AlertID)
	assert.Equal(t, rec.MessageID, f.audit.events[0].MessageID)

	assert.Equal(t, sentBefore+1, testutil.ToFloat64(sent))
}

func TestProcess_ImmediateDuplicateSuppressed(t *testing.T) {
	f := newFixture(t)

	f.svc.Process(context.Background(), firing())
	ttlBefore := f.mr.TTL("dedup:fp1")

	f.svc.Process(context.Background(), firing())

	assert.Len(t, f.chat.emits, 1)
	assert.Len(t, f.audit.events, 1)
	assert.Equal(t, ttlBefore, f.mr.TTL("dedup:fp1"))
}

func TestProcess_ResolveClearsDedupAndNeverSuppressed(t *testing.T) {
	f := newFixture(t)

	f.svc.Process(context.Background(), firing())
	require.True(t, f.mr.Exists("dedup:fp1"))

	resolved := firing()
	resolved.Status = alert.Resolved
	f.svc.Process(context.Background(), resolved)

	assert.False(t, f.mr.Exists("dedup:fp1"))
	assert.Len(t, f.chat.emits, 2)

	rec, err := f.dao.Get(context.Background(), "fp1:default")
	require.NoError(t, err)
	assert.Equal(t, incident.StateResolved, rec.State)
	assert.False(t, rec.ResolvedAt.IsZero())
}

func TestProcess_RepeatWithinResolveWindowReusesRecord(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.dao.records["fp1:default"] = incident.Record{
		Key:        "fp1:default",
		MessageID:  "m-old",
		State:      incident.StateResolved,
		ResolvedAt: now.Add(-10 * time.Minute),
	}

	f.svc.Process(context.Background(), firing())

	rec, err := f.dao.Get(context.Background(), "fp1:default")
	require.NoError(t, err)
	assert.Equal(t, "m-old", rec.MessageID)
	assert.Equal(t, incident.StateFiring, rec.State)
}

func TestProcess_StaleResolvedRecordDeleted(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.dao.records["fp1:default"] = incident.Record{
		Key:        "fp1:default",
		MessageID:  "m-old",
		State:      incident.StateResolved,
		ResolvedAt: now.Add(-31 * time.Minute),
	}

	f.svc.Process(context.Background(), firing())

	rec, err := f.dao.Get(context.Background(), "fp1:default")
	require.NoError(t, err)
	assert.NotEqual(t, "m-old", rec.MessageID)
	assert.Equal(t, incident.StateFiring, rec.State)
}

func TestProcess_StaleAckRecordDeleted(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.dao.records["fp1:default"] = incident.Record{
		Key:            "fp1:default",
		MessageID:      "m-old",
		State:          incident.StateAcknowledged,
		AcknowledgedAt: now.Add(-91 * time.Minute),
	}

	f.svc.Process(context.Background(), firing())

	rec, err := f.dao.Get(context.Background(), "fp1:default")
	require.NoError(t, err)
	assert.NotEqual(t, "m-old", rec.MessageID)
}

func TestProcess_FreshAckRecordReused(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.dao.records["fp1:default"] = incident.Record{
		Key:            "fp1:default",
		MessageID:      "m-old",
		State:          incident.StateAcknowledged,
		AcknowledgedAt: now.Add(-30 * time.Minute),
	}

	f.svc.Process(context.Background(), firing())

	rec, err := f.dao.Get(context.Background(), "fp1:default")
	require.NoError(t, err)
	assert.Equal(t, "m-old", rec.MessageID)
}

func TestProcess_NoConfigSuppressed(t *testing.T) {
	f := newFixture(t)

	a := firing()
	a.RuleName = "Unknown"
	f.svc.Process(context.Background(), a)

	assert.Empty(t, f.chat.emits)
	assert.Empty(t, f.audit.events)
	assert.False(t, f.mr.Exists("dedup:fp1"))
}

func TestProcess_ChannelFromRule(t *testing.T) {
	f := newFixture(t)

	f.svc.Process(context.Background(), firing())
	require.Len(t, f.chat.emits, 1)
	assert.Equal(t, "c1", f.chat.emits[0].ChannelID)
}
