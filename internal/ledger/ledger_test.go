package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocard/protosync/internal/ident"
	"github.com/protocard/protosync/models"
)

func newTestLedger() *Ledger {
	return New(ident.NewService())
}

func TestLedger_CreateEntity(t *testing.T) {
	l := newTestLedger()

	entity, snapshot := l.CreateEntity(models.Content{TextBody: "x"})

	assert.True(t, ident.Validate(entity.ID.String(), ident.KindEntity))
	assert.Equal(t, entity.ID, snapshot.EntityID)
	assert.Equal(t, int64(1), snapshot.OrderKey)
	assert.False(t, snapshot.Acked())

	current, ok := l.Current(entity.ID)
	require.True(t, ok)
	assert.Equal(t, "x", current.Content.TextBody)
}

func TestLedger_OrderKeysAreGapFreeAndIncreasing(t *testing.T) {
	l := newTestLedger()
	entity, _ := l.CreateEntity(models.Content{TextBody: "v1"})

	for i := 2; i <= 10; i++ {
		_, err := l.AppendSnapshot(entity.ID, models.Content{TextBody: "v"}, false)
		require.NoError(t, err)
	}

	history := l.History(entity.ID)
	require.Len(t, history, 10)
	for i, snapshot := range history {
		assert.Equal(t, int64(i+1), snapshot.OrderKey, "order keys must be gap-free")
	}
}

func TestLedger_AppendSnapshot_UnknownEntity(t *testing.T) {
	l := newTestLedger()

	_, err := l.AppendSnapshot("pcf_missing", models.Content{}, false)
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestLedger_AppendSnapshot_AfterTombstone(t *testing.T) {
	l := newTestLedger()
	entity, _ := l.CreateEntity(models.Content{TextBody: "x"})

	_, err := l.AppendSnapshot(entity.ID, models.Content{}, true)
	require.NoError(t, err)

	_, ok := l.Current(entity.ID)
	assert.False(t, ok, "tombstoned entity has no current snapshot")

	_, err = l.AppendSnapshot(entity.ID, models.Content{TextBody: "y"}, false)
	assert.ErrorIs(t, err, ErrEntityDeleted)
}

func TestLedger_MarkAcked_IsIdempotent(t *testing.T) {
	l := newTestLedger()
	entity, snapshot := l.CreateEntity(models.Content{TextBody: "x"})

	ackedAt := time.Now()
	require.NoError(t, l.MarkAcked(snapshot.ID, "pcs_1", 7, ackedAt))

	first, ok := l.Current(entity.ID)
	require.True(t, ok)

	// re-acking the same snapshot must not change anything
	require.NoError(t, l.MarkAcked(snapshot.ID, "pcs_other", 99, time.Now()))

	second, ok := l.Current(entity.ID)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, ident.ServerSnapshotID("pcs_1"), second.ServerID)
	assert.Equal(t, int64(7), second.ServerOrderKey)
}

func TestLedger_MarkAcked_UnknownSnapshot(t *testing.T) {
	l := newTestLedger()

	err := l.MarkAcked("pct_missing", "pcs_1", 1, time.Now())
	assert.ErrorIs(t, err, ErrUnknownSnapshot)
}

func TestLedger_MapServerEntity(t *testing.T) {
	l := newTestLedger()
	entity, _ := l.CreateEntity(models.Content{TextBody: "x"})

	require.NoError(t, l.MapServerEntity(entity.ID, "pce_5"))
	require.NoError(t, l.MapServerEntity(entity.ID, "pce_5"), "mapping is idempotent")

	resolved, ok := l.Resolve("pce_5")
	require.True(t, ok)
	assert.Equal(t, entity.ID, resolved)

	got, ok := l.Entity(entity.ID)
	require.True(t, ok)
	assert.Equal(t, ident.ServerEntityID("pce_5"), got.ServerID)
}

func TestLedger_AdoptRemote(t *testing.T) {
	l := newTestLedger()

	rec := models.Record{
		EntityID:   "pce_9",
		SnapshotID: "pcs_9",
		OrderKey:   1,
		CreatedAt:  time.Now(),
		Content:    models.Content{TextBody: "from elsewhere"},
	}
	entity, snapshot, err := l.AdoptRemote(rec)
	require.NoError(t, err)
	assert.True(t, entity.Synced())
	assert.True(t, snapshot.Acked())
	assert.Equal(t, int64(1), snapshot.ServerOrderKey)

	// adopting the same record again resolves to the existing entity
	again, _, err := l.AdoptRemote(rec)
	require.NoError(t, err)
	assert.Equal(t, entity.ID, again.ID)
}

func TestLedger_ApplyRemote_RejectsStaleOrderKey(t *testing.T) {
	l := newTestLedger()
	entity, _, err := l.AdoptRemote(models.Record{
		EntityID: "pce_9", SnapshotID: "pcs_9", OrderKey: 5,
		Content: models.Content{TextBody: "v5"},
	})
	require.NoError(t, err)

	applied, err := l.ApplyRemote(entity.ID, models.Record{
		EntityID: "pce_9", SnapshotID: "pcs_8", OrderKey: 5,
		Content: models.Content{TextBody: "stale"},
	}, false)
	require.NoError(t, err)
	assert.False(t, applied, "equal server order key must not apply")

	current, ok := l.Current(entity.ID)
	require.True(t, ok)
	assert.Equal(t, "v5", current.Content.TextBody)

	applied, err = l.ApplyRemote(entity.ID, models.Record{
		EntityID: "pce_9", SnapshotID: "pcs_10", OrderKey: 6,
		Content: models.Content{TextBody: "v6"},
	}, false)
	require.NoError(t, err)
	assert.True(t, applied)

	current, _ = l.Current(entity.ID)
	assert.Equal(t, "v6", current.Content.TextBody)
}

func TestLedger_ApplyRemote_Delete(t *testing.T) {
	l := newTestLedger()
	entity, _, err := l.AdoptRemote(models.Record{
		EntityID: "pce_9", SnapshotID: "pcs_9", OrderKey: 1,
		Content: models.Content{TextBody: "x"},
	})
	require.NoError(t, err)

	applied, err := l.ApplyRemote(entity.ID, models.Record{EntityID: "pce_9"}, true)
	require.NoError(t, err)
	assert.True(t, applied)

	_, ok := l.Current(entity.ID)
	assert.False(t, ok)

	// a second delete for an already tombstoned entity is a no-op
	applied, err = l.ApplyRemote(entity.ID, models.Record{EntityID: "pce_9"}, true)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestLedger_List(t *testing.T) {
	l := newTestLedger()
	a, _ := l.CreateEntity(models.Content{TextBody: "a"})
	l.CreateEntity(models.Content{TextBody: "b"})

	_, err := l.AppendSnapshot(a.ID, models.Content{}, true)
	require.NoError(t, err)

	list := l.List()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Content.TextBody)
}
