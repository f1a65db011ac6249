// Package ledger stores protocard entities and their snapshots. The ledger
// is append-only: content never changes in place, a new snapshot is appended
// and becomes current. It also owns the mapping between client-minted and
// server-minted entity identifiers.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/protocard/protosync/internal/ident"
	"github.com/protocard/protosync/models"
)

var (
	// ErrUnknownEntity is returned when the target entity does not exist.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrEntityDeleted is returned when the target entity is tombstoned.
	ErrEntityDeleted = errors.New("entity deleted")
	// ErrUnknownSnapshot is returned when an ack references a snapshot the
	// ledger never produced.
	ErrUnknownSnapshot = errors.New("unknown snapshot")
)

// Ledger is the single shared mutable structure of the engine. It is only
// ever mutated through its own methods; UI code reads it through the engine
// facade.
type Ledger struct {
	ids *ident.Service

	mu         sync.RWMutex
	entities   map[ident.EntityID]*models.Entity
	snapshots  map[ident.EntityID][]models.Snapshot
	bySnapshot map[ident.SnapshotID]ident.EntityID
	byServer   map[ident.ServerEntityID]ident.EntityID
}

// New constructs an empty Ledger that mints identifiers through ids.
func New(ids *ident.Service) *Ledger {
	return &Ledger{
		ids:        ids,
		entities:   make(map[ident.EntityID]*models.Entity),
		snapshots:  make(map[ident.EntityID][]models.Snapshot),
		bySnapshot: make(map[ident.SnapshotID]ident.EntityID),
		byServer:   make(map[ident.ServerEntityID]ident.EntityID),
	}
}

// CreateEntity mints a new entity and its first snapshot (order key 1) in
// one atomic local step.
func (l *Ledger) CreateEntity(content models.Content) (models.Entity, models.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entity := models.Entity{
		ID:        l.ids.NewEntityID(),
		CreatedAt: now,
	}
	snapshot := models.Snapshot{
		ID:        l.ids.NewSnapshotID(),
		EntityID:  entity.ID,
		OrderKey:  1,
		CreatedAt: now,
		Content:   content,
	}

	l.entities[entity.ID] = &entity
	l.snapshots[entity.ID] = []models.Snapshot{snapshot}
	l.bySnapshot[snapshot.ID] = entity.ID

	return entity, snapshot
}

// AppendSnapshot appends a new version of the entity's content. The order
// key is always the previous one plus one, keeping per-entity sequences
// gap-free and strictly increasing. A tombstone snapshot terminates the
// entity's visible lifecycle without removing its history.
//
// This is the only way content changes; there is no in-place update.
func (l *Ledger) AppendSnapshot(entityID ident.EntityID, content models.Content, tombstone bool) (models.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entity, ok := l.entities[entityID]
	if !ok {
		return models.Snapshot{}, ErrUnknownEntity
	}
	if entity.Deleted {
		return models.Snapshot{}, ErrEntityDeleted
	}

	history := l.snapshots[entityID]
	snapshot := models.Snapshot{
		ID:        l.ids.NewSnapshotID(),
		EntityID:  entityID,
		OrderKey:  history[len(history)-1].OrderKey + 1,
		CreatedAt: time.Now(),
		Deleted:   tombstone,
		Content:   content,
	}

	l.snapshots[entityID] = append(history, snapshot)
	l.bySnapshot[snapshot.ID] = entityID
	if tombstone {
		entity.Deleted = true
	}

	return snapshot, nil
}

// Current returns the highest-order-key snapshot of the entity, or false if
// the entity is unknown or its current snapshot is a tombstone.
func (l *Ledger) Current(entityID ident.EntityID) (models.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.current(entityID)
}

func (l *Ledger) current(entityID ident.EntityID) (models.Snapshot, bool) {
	history, ok := l.snapshots[entityID]
	if !ok || len(history) == 0 {
		return models.Snapshot{}, false
	}

	last := history[len(history)-1]
	if last.Deleted {
		return models.Snapshot{}, false
	}
	return last, true
}

// Entity returns the entity record for entityID.
func (l *Ledger) Entity(entityID ident.EntityID) (models.Entity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entity, ok := l.entities[entityID]
	if !ok {
		return models.Entity{}, false
	}
	return *entity, true
}

// List returns the current snapshot of every live entity.
func (l *Ledger) List() []models.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Snapshot, 0, len(l.entities))
	for id := range l.entities {
		if snapshot, ok := l.current(id); ok {
			out = append(out, snapshot)
		}
	}
	return out
}

// MarkAcked records the authority's acknowledgment of a snapshot. Re-acking
// an already acknowledged snapshot is a no-op, so replayed acks cannot
// corrupt the ledger.
func (l *Ledger) MarkAcked(snapshotID ident.SnapshotID, serverID ident.ServerSnapshotID, serverOrderKey int64, serverCreatedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entityID, ok := l.bySnapshot[snapshotID]
	if !ok {
		return ErrUnknownSnapshot
	}

	history := l.snapshots[entityID]
	for i := range history {
		if history[i].ID != snapshotID {
			continue
		}
		if history[i].Acked() {
			return nil
		}
		history[i].ServerID = serverID
		history[i].ServerOrderKey = serverOrderKey
		history[i].ServerCreatedAt = serverCreatedAt
		return nil
	}
	return ErrUnknownSnapshot
}

// MapServerEntity links a client-minted entity identifier to the identifier
// the authority assigned on create. The client identifier stays the stable
// lookup key for the session; the mapping is additive and idempotent.
func (l *Ledger) MapServerEntity(entityID ident.EntityID, serverID ident.ServerEntityID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entity, ok := l.entities[entityID]
	if !ok {
		return ErrUnknownEntity
	}
	if entity.ServerID == serverID {
		return nil
	}

	entity.ServerID = serverID
	l.byServer[serverID] = entityID
	return nil
}

// Resolve translates a server entity identifier into the local one, if the
// mapping is known.
func (l *Ledger) Resolve(serverID ident.ServerEntityID) (ident.EntityID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entityID, ok := l.byServer[serverID]
	return entityID, ok
}

// AdoptRemote creates a local entity and snapshot for a record first seen in
// a push event, already carrying its server identifiers. The snapshot is
// acknowledged from birth.
func (l *Ledger) AdoptRemote(rec models.Record) (models.Entity, models.Snapshot, error) {
	serverEntityID, ok := ident.ParseServerEntityID(rec.EntityID)
	if !ok {
		return models.Entity{}, models.Snapshot{}, ErrUnknownEntity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, mapped := l.byServer[serverEntityID]; mapped {
		entity := *l.entities[existing]
		snapshot, _ := l.current(existing)
		return entity, snapshot, nil
	}

	now := time.Now()
	entity := models.Entity{
		ID:        l.ids.NewEntityID(),
		ServerID:  serverEntityID,
		CreatedAt: now,
	}
	serverSnapshotID, _ := ident.ParseServerSnapshotID(rec.SnapshotID)
	snapshot := models.Snapshot{
		ID:              l.ids.NewSnapshotID(),
		EntityID:        entity.ID,
		OrderKey:        1,
		CreatedAt:       now,
		Content:         rec.Content,
		ServerID:        serverSnapshotID,
		ServerOrderKey:  rec.OrderKey,
		ServerCreatedAt: rec.CreatedAt,
	}

	l.entities[entity.ID] = &entity
	l.snapshots[entity.ID] = []models.Snapshot{snapshot}
	l.bySnapshot[snapshot.ID] = entity.ID
	l.byServer[serverEntityID] = entity.ID

	return entity, snapshot, nil
}

// ApplyRemote appends a remote change to a mapped entity, but only when the
// record's server order key is strictly newer than the current snapshot's.
// Replays of the same push event are therefore no-ops. It reports whether
// the record was applied.
func (l *Ledger) ApplyRemote(entityID ident.EntityID, rec models.Record, deleted bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entity, ok := l.entities[entityID]
	if !ok {
		return false, ErrUnknownEntity
	}
	if entity.Deleted {
		return false, nil
	}

	history := l.snapshots[entityID]
	last := history[len(history)-1]
	if !deleted && rec.OrderKey <= last.ServerOrderKey {
		return false, nil
	}

	serverSnapshotID, _ := ident.ParseServerSnapshotID(rec.SnapshotID)
	snapshot := models.Snapshot{
		ID:              l.ids.NewSnapshotID(),
		EntityID:        entityID,
		OrderKey:        last.OrderKey + 1,
		CreatedAt:       time.Now(),
		Deleted:         deleted,
		Content:         rec.Content,
		ServerID:        serverSnapshotID,
		ServerOrderKey:  rec.OrderKey,
		ServerCreatedAt: rec.CreatedAt,
	}
	if deleted {
		snapshot.Content = last.Content
		entity.Deleted = true
	}

	l.snapshots[entityID] = append(history, snapshot)
	l.bySnapshot[snapshot.ID] = entityID
	return true, nil
}

// History returns a copy of the entity's full snapshot history in order-key
// order.
func (l *Ledger) History(entityID ident.EntityID) []models.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := l.snapshots[entityID]
	out := make([]models.Snapshot, len(history))
	copy(out, history)
	return out
}
