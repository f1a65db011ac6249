package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocard/protosync/internal/ident"
	"github.com/protocard/protosync/internal/ledger"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/track"
	"github.com/protocard/protosync/models"
)

type harness struct {
	ids     *ident.Service
	ledger  *ledger.Ledger
	machine *track.Machine
	handler *Handler
}

func newHarness() *harness {
	ids := ident.NewService()
	ledg := ledger.New(ids)
	machine := track.NewMachine()
	return &harness{
		ids:     ids,
		ledger:  ledg,
		machine: machine,
		handler: NewHandler(ledg, machine, logger.Nop()),
	}
}

func record(serverID string, orderKey int64, body string) *models.Record {
	return &models.Record{
		EntityID:   serverID,
		SnapshotID: "pcs_push",
		OrderKey:   orderKey,
		CreatedAt:  time.Now(),
		Content:    models.Content{TextBody: body},
	}
}

// syncedEntity seeds a mapped, synced entity as if its create had been acked.
func (h *harness) syncedEntity(t *testing.T, serverID string, body string) ident.EntityID {
	t.Helper()
	entity, snapshot := h.ledger.CreateEntity(models.Content{TextBody: body})
	require.NoError(t, h.ledger.MapServerEntity(entity.ID, ident.ServerEntityID(serverID)))
	require.NoError(t, h.ledger.MarkAcked(snapshot.ID, "pcs_seed", 1, time.Now()))
	msgID := h.ids.NewMessageID()
	require.NoError(t, h.machine.BeginCreate(entity.ID, msgID))
	require.NoError(t, h.machine.Settle(entity.ID, msgID))
	return entity.ID
}

func TestApply_HeartbeatIsIgnored(t *testing.T) {
	h := newHarness()
	h.handler.Apply(models.PushEvent{Type: models.EventHeartbeat})
	h.handler.Apply(models.PushEvent{Type: models.EventConnected})
	assert.Empty(t, h.ledger.List())
}

func TestApply_AdoptsUnknownEntity(t *testing.T) {
	h := newHarness()
	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityCreated,
		Result: record("pce_remote", 1, "from elsewhere"),
	})

	entityID, ok := h.ledger.Resolve("pce_remote")
	require.True(t, ok)

	st, ok := h.machine.Get(entityID)
	require.True(t, ok)
	assert.Equal(t, track.StatusSynced, st.Status)

	current, ok := h.ledger.Current(entityID)
	require.True(t, ok)
	assert.Equal(t, "from elsewhere", current.Content.TextBody)
	assert.True(t, current.Acked())
}

func TestApply_UpdatesMappedSyncedEntity(t *testing.T) {
	h := newHarness()
	entityID := h.syncedEntity(t, "pce_1", "v1")

	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityUpdated,
		Result: record("pce_1", 2, "v2"),
	})

	current, ok := h.ledger.Current(entityID)
	require.True(t, ok)
	assert.Equal(t, "v2", current.Content.TextBody)
}

func TestApply_StaleEventIsDiscarded(t *testing.T) {
	h := newHarness()
	entityID := h.syncedEntity(t, "pce_1", "v1")

	// replay of the already-acked order key
	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityUpdated,
		Result: record("pce_1", 1, "old"),
	})

	current, _ := h.ledger.Current(entityID)
	assert.Equal(t, "v1", current.Content.TextBody)
	assert.Len(t, h.ledger.History(entityID), 1)
}

func TestApply_RemoteDeleteRemovesEntity(t *testing.T) {
	h := newHarness()
	entityID := h.syncedEntity(t, "pce_1", "v1")

	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityDeleted,
		Result: &models.Record{EntityID: "pce_1"},
	})

	_, ok := h.ledger.Current(entityID)
	assert.False(t, ok)
	_, tracked := h.machine.Get(entityID)
	assert.False(t, tracked)
}

func TestApply_UnmappedEventDeferredWhilePendingCreate(t *testing.T) {
	h := newHarness()

	// a local create is in flight; an unmapped broadcast may be its echo
	entity, _ := h.ledger.CreateEntity(models.Content{TextBody: "mine"})
	require.NoError(t, h.machine.BeginCreate(entity.ID, h.ids.NewMessageID()))

	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityCreated,
		Result: record("pce_mystery", 1, "theirs"),
	})

	_, adopted := h.ledger.Resolve("pce_mystery")
	assert.False(t, adopted, "event must wait until the pending create resolves")

	// the create acks and maps; the lane drains
	require.NoError(t, h.ledger.MapServerEntity(entity.ID, "pce_mine"))
	st, _ := h.machine.Get(entity.ID)
	require.NoError(t, h.machine.Settle(entity.ID, st.Pending))

	h.handler.Resolved(entity.ID)

	entityID, adopted := h.ledger.Resolve("pce_mystery")
	require.True(t, adopted, "held event replays once no create is pending")
	current, _ := h.ledger.Current(entityID)
	assert.Equal(t, "theirs", current.Content.TextBody)
}

func TestApply_OwnBroadcastDiscardedAfterAck(t *testing.T) {
	h := newHarness()

	entity, snapshot := h.ledger.CreateEntity(models.Content{TextBody: "mine"})
	msgID := h.ids.NewMessageID()
	require.NoError(t, h.machine.BeginCreate(entity.ID, msgID))

	// the authority broadcasts our own create before the ack lands
	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityCreated,
		Result: record("pce_mine", 1, "mine"),
	})

	// ack arrives: mapping recorded, lane drains
	require.NoError(t, h.ledger.MapServerEntity(entity.ID, "pce_mine"))
	require.NoError(t, h.ledger.MarkAcked(snapshot.ID, "pcs_1", 1, time.Now()))
	require.NoError(t, h.machine.Settle(entity.ID, msgID))
	h.handler.Resolved(entity.ID)

	// the replayed broadcast resolves to ourselves and is stale
	assert.Len(t, h.ledger.History(entity.ID), 1, "no duplicate entity, no duplicate snapshot")
	resolved, _ := h.ledger.Resolve("pce_mine")
	assert.Equal(t, entity.ID, resolved)
}

func TestApply_EventParkedBehindLocalMutation(t *testing.T) {
	h := newHarness()
	entityID := h.syncedEntity(t, "pce_1", "v1")

	// local update in flight
	_, err := h.ledger.AppendSnapshot(entityID, models.Content{TextBody: "local"}, false)
	require.NoError(t, err)
	msgID := h.ids.NewMessageID()
	require.NoError(t, h.machine.BeginUpdate(entityID, msgID))

	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityUpdated,
		Result: record("pce_1", 5, "remote older"),
	})
	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityUpdated,
		Result: record("pce_1", 6, "remote newest"),
	})

	current, _ := h.ledger.Current(entityID)
	assert.Equal(t, "local", current.Content.TextBody, "remote change must not interleave with the in-flight update")

	// update acks with server order key 4, lane drains
	require.NoError(t, h.machine.Settle(entityID, msgID))
	h.handler.Resolved(entityID)

	current, _ = h.ledger.Current(entityID)
	assert.Equal(t, "remote newest", current.Content.TextBody, "only the newest parked event replays")
}

func TestApply_RemoteDeleteAppliesDespiteLocalMutation(t *testing.T) {
	h := newHarness()
	entityID := h.syncedEntity(t, "pce_1", "v1")

	_, err := h.ledger.AppendSnapshot(entityID, models.Content{TextBody: "local"}, false)
	require.NoError(t, err)
	require.NoError(t, h.machine.BeginUpdate(entityID, h.ids.NewMessageID()))

	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityDeleted,
		Result: &models.Record{EntityID: "pce_1"},
	})

	_, ok := h.ledger.Current(entityID)
	assert.False(t, ok)
	_, tracked := h.machine.Get(entityID)
	assert.False(t, tracked)
}

func TestBootstrap_AdoptsFullListing(t *testing.T) {
	h := newHarness()

	h.handler.Bootstrap([]models.Record{
		*record("pce_a", 3, "alpha"),
		*record("pce_b", 1, "beta"),
	})

	assert.Len(t, h.ledger.List(), 2)
	for _, serverID := range []ident.ServerEntityID{"pce_a", "pce_b"} {
		entityID, ok := h.ledger.Resolve(serverID)
		require.True(t, ok)
		st, _ := h.machine.Get(entityID)
		assert.Equal(t, track.StatusSynced, st.Status)
	}
}

func TestApply_MalformedEventDropped(t *testing.T) {
	h := newHarness()
	h.handler.Apply(models.PushEvent{Type: models.EventEntityCreated})
	h.handler.Apply(models.PushEvent{
		Type:   models.EventEntityCreated,
		Result: &models.Record{EntityID: "bogus"},
	})
	h.handler.Apply(models.PushEvent{Type: "something.else", Result: record("pce_x", 1, "x")})
	assert.Empty(t, h.ledger.List())
}
