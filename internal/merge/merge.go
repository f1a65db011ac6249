// Package merge folds push-channel events from the remote authority into the
// local ledger and sync states. Remote changes never interleave with an
// entity's own in-flight mutation: events for busy entities are parked and
// replayed once the entity settles, and the newest parked event wins.
package merge

import (
	"sync"

	"github.com/protocard/protosync/internal/ident"
	"github.com/protocard/protosync/internal/ledger"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/track"
	"github.com/protocard/protosync/models"
)

// Handler applies inbound push events. Safe for concurrent use; the push
// client calls Apply from its read loop while the outbox calls Resolved from
// its dispatch goroutines.
type Handler struct {
	ledger  *ledger.Ledger
	machine *track.Machine
	logger  *logger.Logger

	mu sync.Mutex
	// events for server entities we cannot map yet, held while one of our
	// own creates is unacknowledged: the event may be the broadcast of that
	// very create, and adopting it would duplicate the entity
	unmapped map[ident.ServerEntityID]models.PushEvent
	// latest event per busy mapped entity, replayed on settle
	parked map[ident.EntityID]models.PushEvent
}

// NewHandler constructs a Handler merging into ledg and machine.
func NewHandler(ledg *ledger.Ledger, machine *track.Machine, log *logger.Logger) *Handler {
	return &Handler{
		ledger:   ledg,
		machine:  machine,
		logger:   log.Component("merge"),
		unmapped: make(map[ident.ServerEntityID]models.PushEvent),
		parked:   make(map[ident.EntityID]models.PushEvent),
	}
}

// Apply merges one push event. Unknown event types and heartbeats are
// discarded; malformed events are logged and dropped rather than surfaced,
// the stream must keep flowing.
func (h *Handler) Apply(ev models.PushEvent) {
	switch ev.Type {
	case models.EventHeartbeat, models.EventConnected:
		return
	case models.EventEntityCreated, models.EventEntityUpdated, models.EventEntityDeleted:
	default:
		h.logger.Warn().Str("type", ev.Type).Msg("ignoring unknown push event type")
		return
	}

	if ev.Result == nil {
		h.logger.Warn().Str("type", ev.Type).Msg("push event without result")
		return
	}
	serverID, ok := ident.ParseServerEntityID(ev.Result.EntityID)
	if !ok {
		h.logger.Warn().Str("entity_id", ev.Result.EntityID).Msg("push event with malformed entity id")
		return
	}

	entityID, mapped := h.ledger.Resolve(serverID)
	if !mapped {
		h.applyUnmapped(serverID, ev)
		return
	}
	h.applyMapped(entityID, ev)
}

// applyUnmapped handles events for entities with no local mapping. While any
// of our own creates is unacknowledged the event is held back: it may be the
// authority broadcasting that create back at us before the ack lands. Only
// the newest event per server entity is kept.
func (h *Handler) applyUnmapped(serverID ident.ServerEntityID, ev models.PushEvent) {
	if h.machine.AnyCreating("") {
		h.mu.Lock()
		h.unmapped[serverID] = ev
		h.mu.Unlock()
		h.logger.Debug().Str("server_id", serverID.String()).Msg("deferring unmapped push event behind pending create")
		return
	}

	if ev.Type == models.EventEntityDeleted {
		// never knew it, nothing to delete
		return
	}
	h.adopt(ev)
}

func (h *Handler) adopt(ev models.PushEvent) {
	entity, _, err := h.ledger.AdoptRemote(*ev.Result)
	if err != nil {
		h.logger.Error().Err(err).Str("entity_id", ev.Result.EntityID).Msg("adopting remote entity")
		return
	}
	if err := h.machine.AdoptSynced(entity.ID); err != nil {
		// already tracked: the ledger deduplicated a concurrent adopt
		h.logger.Debug().Err(err).Str("entity_id", entity.ID.String()).Msg("entity already tracked on adopt")
	}
	h.logger.Info().
		Str("entity_id", entity.ID.String()).
		Str("server_id", ev.Result.EntityID).
		Msg("adopted remote entity")
}

// applyMapped merges an event for a known entity. A remote delete always
// applies: the authority decides existence, and a local in-flight mutation
// against a deleted entity is doomed anyway. Other events wait until the
// entity has no unacknowledged mutation of its own.
func (h *Handler) applyMapped(entityID ident.EntityID, ev models.PushEvent) {
	if ev.Type == models.EventEntityDeleted {
		h.applyRemoteDelete(entityID, ev)
		return
	}

	if st, tracked := h.machine.Get(entityID); tracked && st.Status != track.StatusSynced {
		h.mu.Lock()
		h.parked[entityID] = ev
		h.mu.Unlock()
		h.logger.Debug().
			Str("entity_id", entityID.String()).
			Str("status", string(st.Status)).
			Msg("parking push event behind local mutation")
		return
	}

	applied, err := h.ledger.ApplyRemote(entityID, *ev.Result, false)
	if err != nil {
		h.logger.Error().Err(err).Str("entity_id", entityID.String()).Msg("applying remote change")
		return
	}
	if !applied {
		h.logger.Debug().
			Str("entity_id", entityID.String()).
			Int64("order_key", ev.Result.OrderKey).
			Msg("discarding stale or replayed push event")
	}
}

func (h *Handler) applyRemoteDelete(entityID ident.EntityID, ev models.PushEvent) {
	h.mu.Lock()
	delete(h.parked, entityID)
	h.mu.Unlock()

	if _, err := h.ledger.ApplyRemote(entityID, *ev.Result, true); err != nil {
		h.logger.Error().Err(err).Str("entity_id", entityID.String()).Msg("applying remote delete")
		return
	}
	if err := h.machine.Remove(entityID); err != nil {
		h.logger.Debug().Err(err).Str("entity_id", entityID.String()).Msg("removing remotely deleted entity")
	}
	h.logger.Info().Str("entity_id", entityID.String()).Msg("entity deleted remotely")
}

// Resolved is called by the outbox whenever an entity's lane drains. Parked
// events for that entity replay immediately; once no create is pending
// anymore the held unmapped events replay too, now resolvable against the
// fresh identifier mapping.
func (h *Handler) Resolved(entityID ident.EntityID) {
	h.mu.Lock()
	parked, hadParked := h.parked[entityID]
	delete(h.parked, entityID)

	var held []models.PushEvent
	if !h.machine.AnyCreating("") {
		for serverID, ev := range h.unmapped {
			held = append(held, ev)
			delete(h.unmapped, serverID)
		}
	}
	h.mu.Unlock()

	if hadParked {
		h.Apply(parked)
	}
	for _, ev := range held {
		h.Apply(ev)
	}
}

// Bootstrap folds the authority's full listing into an empty session. Records
// already mapped locally are merged through the usual path, new ones are
// adopted as synced.
func (h *Handler) Bootstrap(records []models.Record) {
	for i := range records {
		h.Apply(models.PushEvent{Type: models.EventEntityUpdated, Result: &records[i]})
	}
	h.logger.Info().Int("records", len(records)).Msg("bootstrap merge complete")
}
