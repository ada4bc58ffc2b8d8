package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidenthq/incidentd/services/chat"
	"github.com/incidenthq/incidentd/services/incident"
)

type nopDiag struct{}

func (nopDiag) StartingService()                  {}
func (nopDiag) StoppedService()                   {}
func (nopDiag) OrphanDeleted(key, reason string)  {}
func (nopDiag) ThreadDetached(key, thread string) {}
func (nopDiag) SweepCompleted(scanned, n int)     {}
func (nopDiag) Error(msg string, err error)       {}

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
	snapshot := make([]incident.Record, 0, len(d.records))
	for _, r := range d.records {
		snapshot = append(snapshot, r)
	}
	d.mu.Unlock()
	for _, r := range snapshot {
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

// fakeAPI serves channels and messages from maps; anything absent is gone.
type fakeAPI struct {
	channels map[string]chat.Channel
	messages map[string]bool // messageID present
	chanErr  error
}

func (f *fakeAPI) Channel(_ context.Context, id string) (chat.Channel, error) {
	if f.chanErr != nil {
		return chat.Channel{}, f.chanErr
	}
	ch, ok := f.channels[id]
	if !ok {
		return chat.Channel{}, &chat.APIError{Status: 404, Code: chat.CodeUnknownChannel}
	}
	return ch, nil
}

func (f *fakeAPI) Message(_ context.Context, channelID, messageID string) (chat.Message, error) {
	if !f.messages[messageID] {
		return chat.Message{}, &chat.APIError{Status: 404, Code: chat.CodeUnknownMessage}
	}
	return chat.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeAPI) CreateMessage(_ context.Context, _ string, _ chat.MessagePayload) (chat.Message, error) {
	return chat.Message{}, nil
}

func (f *fakeAPI) EditMessage(_ context.Context, _, _ string, _ chat.MessagePayload) (chat.Message, error) {
	return chat.Message{}, nil
}

func (f *fakeAPI) StartThread(_ context.Context, _, _, _ string) (chat.Channel, error) {
	return chat.Channel{}, nil
}

type staticChat struct {
	api   chat.API
	guild string
}

func (s staticChat) API() chat.API { return s.api }
func (s staticChat) Guild() string { return s.guild }

func newTestService(dao *memDAO, api *fakeAPI) *Service {
	s := NewService(nopDiag{})
	s.IncidentService = staticIncidents{dao: dao}
	s.ChatService = staticChat{api: api}
	return s
}

func record(key string, state incident.State) incident.Record {
	return incident.Record{
		Key:       key,
		MessageID: "m-" + key,
		ChannelID: "c1",
		ThreadID:  "t-" + key,
		State:     state,
	}
}

func healthyAPI() *fakeAPI {
	return &fakeAPI{
		channels: map[string]chat.Channel{
			"c1": {ID: "c1", Type: chat.ChannelGuildText},
		},
		messages: map[string]bool{},
	}
}

func TestSweep_KeepsHealthyIncident(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	rec := record("fp1:default", incident.StateFiring)
	api.messages[rec.MessageID] = true
	api.channels[rec.ThreadID] = chat.Channel{ID: rec.ThreadID, Type: chat.ChannelPublicThread}
	require.NoError(t, dao.Put(context.Background(), rec))

	newTestService(dao, api).sweep()

	_, err := dao.Get(context.Background(), rec.Key)
	assert.NoError(t, err)
}

func TestSweep_DeletesWhenMessageGone(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	rec := record("fp1:default", incident.StateFiring)
	require.NoError(t, dao.Put(context.Background(), rec))

	newTestService(dao, api).sweep()

	_, err := dao.Get(context.Background(), rec.Key)
	assert.ErrorIs(t, err, incident.ErrNoIncidentExists)
}

func TestSweep_DeletesWhenChannelGone(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	delete(api.channels, "c1")
	rec := record("fp1:default", incident.StateFiring)
	require.NoError(t, dao.Put(context.Background(), rec))

	newTestService(dao, api).sweep()

	_, err := dao.Get(context.Background(), rec.Key)
	assert.ErrorIs(t, err, incident.ErrNoIncidentExists)
}

func TestSweep_DeletesWhenChannelNotUsable(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	api.channels["c1"] = chat.Channel{ID: "c1", Type: chat.ChannelDM}
	rec := record("fp1:default", incident.StateFiring)
	api.messages[rec.MessageID] = true
	require.NoError(t, dao.Put(context.Background(), rec))

	newTestService(dao, api).sweep()

	_, err := dao.Get(context.Background(), rec.Key)
	assert.ErrorIs(t, err, incident.ErrNoIncidentExists)
}

func TestSweep_DetachesLostThreadOnly(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	rec := record("fp1:default", incident.StateFiring)
	api.messages[rec.MessageID] = true
	// Thread missing from api.channels: gone.
	require.NoError(t, dao.Put(context.Background(), rec))

	newTestService(dao, api).sweep()

	got, err := dao.Get(context.Background(), rec.Key)
	require.NoError(t, err)
	assert.Empty(t, got.ThreadID)
	assert.Equal(t, rec.MessageID, got.MessageID)
}

func TestSweep_SkipsResolved(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	// Mirror entirely gone, but the record is resolved.
	delete(api.channels, "c1")
	rec := record("fp1:default", incident.StateResolved)
	require.NoError(t, dao.Put(context.Background(), rec))

	newTestService(dao, api).sweep()

	_, err := dao.Get(context.Background(), rec.Key)
	assert.NoError(t, err)
}

func TestSweep_SkipsForeignGuildChannels(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	// Thread channel in another guild: unusable type, but not ours to drop.
	api.channels["c1"] = chat.Channel{ID: "c1", Type: chat.ChannelPublicThread, GuildID: "g2"}
	rec := record("fp1:default", incident.StateFiring)
	require.NoError(t, dao.Put(context.Background(), rec))

	s := newTestService(dao, api)
	s.ChatService = staticChat{api: api, guild: "g1"}
	s.sweep()

	_, err := dao.Get(context.Background(), rec.Key)
	assert.NoError(t, err)

	// The same channel in the configured guild is still reconciled away.
	api.channels["c1"] = chat.Channel{ID: "c1", Type: chat.ChannelPublicThread, GuildID: "g1"}
	s.sweep()
	_, err = dao.Get(context.Background(), rec.Key)
	assert.ErrorIs(t, err, incident.ErrNoIncidentExists)
}

func TestSweep_TransientErrorKeepsRecord(t *testing.T) {
	dao := newMemDAO()
	api := healthyAPI()
	api.chanErr = &chat.APIError{Status: 500}
	rec := record("fp1:default", incident.StateFiring)
	require.NoError(t, dao.Put(context.Background(), rec))

	newTestService(dao, api).sweep()

	_, err := dao.Get(context.Background(), rec.Key)
	assert.NoError(t, err)
}
