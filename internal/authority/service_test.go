package authority

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/store"
	"github.com/protocard/protosync/models"
)

// memoryRepos is an in-memory stand-in for the SQLite repositories, faithful
// to their contracts: append-only versions, gap-free order keys, journaled
// responses.
type memoryRepos struct {
	mu       sync.Mutex
	entities map[string]bool // id -> deleted
	versions map[string][]models.Record
	journal  map[string][]byte
}

func newMemoryRepos() *memoryRepos {
	return &memoryRepos{
		entities: make(map[string]bool),
		versions: make(map[string][]models.Record),
		journal:  make(map[string][]byte),
	}
}

func (m *memoryRepos) Create(ctx context.Context, entityID, snapshotID string, content models.Content, createdAt time.Time) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := models.Record{EntityID: entityID, SnapshotID: snapshotID, OrderKey: 1, CreatedAt: createdAt, Content: content}
	m.entities[entityID] = false
	m.versions[entityID] = []models.Record{rec}
	return rec, nil
}

func (m *memoryRepos) Append(ctx context.Context, entityID, snapshotID string, content models.Content, deleted bool, createdAt time.Time) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tombstoned, ok := m.entities[entityID]
	if !ok {
		return models.Record{}, store.ErrEntityNotFound
	}
	if tombstoned {
		return models.Record{}, store.ErrEntityDeleted
	}

	history := m.versions[entityID]
	rec := models.Record{
		EntityID:   entityID,
		SnapshotID: snapshotID,
		OrderKey:   history[len(history)-1].OrderKey + 1,
		CreatedAt:  createdAt,
		Content:    content,
	}
	m.versions[entityID] = append(history, rec)
	if deleted {
		m.entities[entityID] = true
	}
	return rec, nil
}

func (m *memoryRepos) Get(ctx context.Context, entityID string) (models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tombstoned, ok := m.entities[entityID]
	if !ok || tombstoned {
		return models.Record{}, store.ErrEntityNotFound
	}
	history := m.versions[entityID]
	return history[len(history)-1], nil
}

func (m *memoryRepos) List(ctx context.Context) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Record, 0, len(m.entities))
	for id, tombstoned := range m.entities {
		if tombstoned {
			continue
		}
		history := m.versions[id]
		out = append(out, history[len(history)-1])
	}
	return out, nil
}

func (m *memoryRepos) History(ctx context.Context, entityID string) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[entityID], nil
}

func (m *memoryRepos) Lookup(ctx context.Context, messageID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.journal[messageID]
	if !ok {
		return nil, store.ErrMessageNotProcessed
	}
	return stored, nil
}

func (m *memoryRepos) Record(ctx context.Context, messageID, ackID string, response []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal[messageID] = response
	return nil
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []models.PushEvent
}

func (c *captureBroadcaster) Broadcast(ev models.PushEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureBroadcaster) all() []models.PushEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.PushEvent, len(c.events))
	copy(out, c.events)
	return out
}

func newTestService() (*Service, *memoryRepos, *captureBroadcaster) {
	repos := newMemoryRepos()
	broadcaster := &captureBroadcaster{}
	svc := NewService(&store.Repositories{Protocards: repos, Messages: repos}, broadcaster, logger.Nop())
	return svc, repos, broadcaster
}

func createRequest(messageID, body string) models.Request {
	return models.Request{
		ID:      messageID,
		Op:      models.OpCreate,
		Content: &models.Content{TextBody: body},
	}
}

func TestService_CreateMintsServerIdentifiers(t *testing.T) {
	svc, _, broadcaster := newTestService()

	resp, err := svc.Create(context.Background(), createRequest("mgt_1", "hello"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "mgt_1", resp.ID, "response echoes the idempotency key")
	require.NotNil(t, resp.Result)
	assert.Regexp(t, "^pce_", resp.Result.EntityID)
	assert.Regexp(t, "^pcs_", resp.Result.SnapshotID)
	assert.Regexp(t, "^mga_", resp.Meta.AckID)
	assert.Equal(t, int64(1), resp.Result.OrderKey)

	events := broadcaster.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEntityCreated, events[0].Type)
}

func TestService_CreateReplayReturnsOriginalResponse(t *testing.T) {
	svc, _, broadcaster := newTestService()

	first, err := svc.Create(context.Background(), createRequest("mgt_1", "hello"))
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), createRequest("mgt_1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, first.Result.EntityID, second.Result.EntityID)
	assert.Equal(t, first.Meta.AckID, second.Meta.AckID, "replay returns the journaled ack, not a new one")
	assert.Len(t, broadcaster.all(), 1, "replay does not rebroadcast")

	listing, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, listing.Results, 1, "replay does not duplicate the entity")
}

func TestService_CreateValidation(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), models.Request{ID: "mgt_1", Op: models.OpCreate})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(context.Background(), createRequest("not-a-message-id", "x"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_UpdateAssignsIncreasingOrderKeys(t *testing.T) {
	svc, _, _ := newTestService()

	created, err := svc.Create(context.Background(), createRequest("mgt_1", "v1"))
	require.NoError(t, err)
	entityID := created.Result.EntityID

	for i, body := range []string{"v2", "v3"} {
		resp, err := svc.Update(context.Background(), entityID, models.Request{
			ID:      "mgt_u" + body,
			Op:      models.OpUpdate,
			Content: &models.Content{TextBody: body},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+2), resp.Result.OrderKey)
	}

	history, err := svc.History(context.Background(), entityID)
	require.NoError(t, err)
	assert.Len(t, history.Results, 3)
}

func TestService_UpdateUnknownEntity(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Update(context.Background(), "pce_missing", models.Request{
		ID:      "mgt_1",
		Op:      models.OpUpdate,
		Content: &models.Content{TextBody: "x"},
	})
	assert.ErrorIs(t, err, store.ErrEntityNotFound)
}

func TestService_DeleteTombstonesAndBroadcasts(t *testing.T) {
	svc, _, broadcaster := newTestService()

	created, err := svc.Create(context.Background(), createRequest("mgt_1", "doomed"))
	require.NoError(t, err)
	entityID := created.Result.EntityID

	resp, err := svc.Delete(context.Background(), entityID, models.Request{ID: "mgt_2", Op: models.OpDelete})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Result, "delete acks carry no record")

	listing, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listing.Results)

	// further mutations on the tombstone fail
	_, err = svc.Update(context.Background(), entityID, models.Request{
		ID:      "mgt_3",
		Op:      models.OpUpdate,
		Content: &models.Content{TextBody: "too late"},
	})
	assert.ErrorIs(t, err, store.ErrEntityDeleted)

	events := broadcaster.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventEntityDeleted, events[1].Type)
	assert.Equal(t, entityID, events[1].Result.EntityID)
}

func TestService_DeleteReplay(t *testing.T) {
	svc, _, _ := newTestService()

	created, err := svc.Create(context.Background(), createRequest("mgt_1", "x"))
	require.NoError(t, err)
	entityID := created.Result.EntityID

	first, err := svc.Delete(context.Background(), entityID, models.Request{ID: "mgt_2", Op: models.OpDelete})
	require.NoError(t, err)

	// the retried delete must not fail on the already-tombstoned entity
	second, err := svc.Delete(context.Background(), entityID, models.Request{ID: "mgt_2", Op: models.OpDelete})
	require.NoError(t, err)
	assert.Equal(t, first.Meta.AckID, second.Meta.AckID)
}
