// Package engine is the public facade of the synchronization engine. It wires
// the identifier service, the snapshot ledger, the per-entity sync states, the
// outbound queue and the push-event merger behind a small mutation API: every
// mutation applies locally first and is reconciled with the remote authority
// in the background.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/protocard/protosync/internal/adapter"
	"github.com/protocard/protosync/internal/config"
	"github.com/protocard/protosync/internal/ident"
	"github.com/protocard/protosync/internal/ledger"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/merge"
	"github.com/protocard/protosync/internal/outbox"
	"github.com/protocard/protosync/internal/push"
	"github.com/protocard/protosync/internal/track"
	"github.com/protocard/protosync/internal/workers"
	"github.com/protocard/protosync/models"
)

// ErrUnknownEntity is returned for operations on entities the engine does not
// track.
var ErrUnknownEntity = errors.New("unknown entity")

// Card is the read-model view of one protocard handed to callers: the current
// content plus the entity's synchronization state.
type Card struct {
	Snapshot models.Snapshot
	State    track.State
}

// Engine coordinates all local state and background reconciliation for one
// session.
type Engine struct {
	ids     *ident.Service
	ledger  *ledger.Ledger
	machine *track.Machine
	queue   *outbox.Queue
	merger  *merge.Handler

	transport adapter.Transport
	source    push.Source
	cfg       config.Engine
	logger    *logger.Logger

	// serializes the ledger+machine+queue steps of each mutation
	mu sync.Mutex

	runCtx context.Context
	cancel context.CancelFunc
	jobs   *workers.Workers
}

// New constructs an Engine with the real HTTP transport and websocket push
// stream from cfg.
func New(cfg config.Engine, log *logger.Logger) (*Engine, error) {
	if cfg.PushAddress == "" {
		cfg.PushAddress = cfg.ServerAddress
	}

	transport, err := adapter.NewHTTPTransport(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}
	source, err := push.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("building push client: %w", err)
	}
	return NewWithTransport(transport, source, cfg, log), nil
}

// NewWithTransport constructs an Engine on top of explicit transport and push
// implementations.
func NewWithTransport(transport adapter.Transport, source push.Source, cfg config.Engine, log *logger.Logger) *Engine {
	ids := ident.NewService()
	ledg := ledger.New(ids)
	machine := track.NewMachine()
	queue := outbox.New(transport, ledg, machine, cfg, log)
	merger := merge.NewHandler(ledg, machine, log)
	queue.OnSettled(merger.Resolved)

	return &Engine{
		ids:       ids,
		ledger:    ledg,
		machine:   machine,
		queue:     queue,
		merger:    merger,
		transport: transport,
		source:    source,
		cfg:       cfg,
		logger:    log.Component("engine"),
	}
}

// Start brings up background reconciliation: it fetches the authority's
// current records, merges them, then keeps the push stream and the periodic
// refresh running until Stop. A failed initial fetch is not fatal, the
// session starts from local state and catches up through the stream.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.cancel = context.WithCancel(ctx)

	if records, err := e.transport.List(e.runCtx); err != nil {
		e.logger.Warn().Err(err).Msg("initial listing failed, starting from local state")
	} else {
		e.merger.Bootstrap(records)
	}

	var jobs []workers.Worker
	if e.source != nil {
		jobs = append(jobs, &pushJob{source: e.source, merger: e.merger, logger: e.logger})
	}
	if e.cfg.RefreshInterval > 0 {
		jobs = append(jobs, &refreshJob{
			transport: e.transport,
			merger:    e.merger,
			interval:  e.cfg.RefreshInterval,
			logger:    e.logger,
		})
	}

	e.jobs = workers.New(jobs...)
	e.jobs.Run(e.runCtx)
}

// Stop cancels background work and waits for in-flight messages to resolve.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.queue.Wait()
	if e.jobs != nil {
		e.jobs.Wait()
	}
}

// Create mints a new protocard, visible immediately, and queues its create
// message. The returned entity carries the client-minted identifier callers
// use for all further operations, no matter what identifier the authority
// later assigns.
func (e *Engine) Create(content models.Content) (models.Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entity, snapshot := e.ledger.CreateEntity(content)
	msg := models.OutboundMessage{
		ID:         e.ids.NewMessageID(),
		EntityID:   entity.ID,
		SnapshotID: snapshot.ID,
		Op:         models.OpCreate,
		Payload:    content,
	}
	if err := e.machine.BeginCreate(entity.ID, msg.ID); err != nil {
		return models.Entity{}, err
	}

	e.queue.Enqueue(e.background(), msg)
	return entity, nil
}

// Update appends a new version of the protocard's content and queues its
// update message. Updates issued while an earlier message is unacknowledged
// coalesce behind it; updates on an errored entity are rejected until the
// caller retries.
func (e *Engine) Update(entityID ident.EntityID, content models.Content) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.machine.Get(entityID)
	if !ok {
		return ErrUnknownEntity
	}
	switch st.Status {
	case track.StatusSynced, track.StatusCreating, track.StatusUpdating:
	default:
		return fmt.Errorf("%w: update while %s", track.ErrIllegalTransition, st.Status)
	}

	snapshot, err := e.ledger.AppendSnapshot(entityID, content, false)
	if err != nil {
		return err
	}
	msg := models.OutboundMessage{
		ID:         e.ids.NewMessageID(),
		EntityID:   entityID,
		SnapshotID: snapshot.ID,
		Op:         models.OpUpdate,
		Payload:    content,
	}
	if err := e.machine.BeginUpdate(entityID, msg.ID); err != nil {
		return err
	}

	e.queue.Enqueue(e.background(), msg)
	return nil
}

// Delete tombstones the protocard locally and queues its delete message. A
// delete issued while the create is still unacknowledged waits for the create
// to resolve; the entity disappears from listings immediately either way.
func (e *Engine) Delete(entityID ident.EntityID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.machine.Get(entityID)
	if !ok {
		return ErrUnknownEntity
	}
	switch st.Status {
	case track.StatusSynced, track.StatusCreating, track.StatusUpdating:
	case track.StatusDeleting:
		return nil
	default:
		return fmt.Errorf("%w: delete while %s", track.ErrIllegalTransition, st.Status)
	}

	current, ok := e.ledger.Current(entityID)
	if !ok {
		return ErrUnknownEntity
	}
	if _, err := e.ledger.AppendSnapshot(entityID, current.Content, true); err != nil {
		return err
	}

	msg := models.OutboundMessage{
		ID:       e.ids.NewMessageID(),
		EntityID: entityID,
		Op:       models.OpDelete,
	}
	if err := e.machine.BeginDelete(entityID, msg.ID); err != nil {
		return err
	}

	e.queue.Enqueue(e.background(), msg)
	return nil
}

// Retry re-issues the failed mutation of an errored entity under a freshly
// minted message identifier. It is the only way out of the error state. The
// message is resolved against the ledger before the state transition
// commits, so a retry that cannot proceed leaves the entity in error. When a
// queued delete tombstoned the local head while the failure was pending, the
// retry re-issues the delete in place of the failed operation; if that
// failed operation was the create itself, the entity never reached the
// authority and is simply dropped from the active set.
func (e *Engine) Retry(entityID ident.EntityID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.machine.Get(entityID)
	if !ok {
		return track.ErrUnknownEntity
	}
	if st.Status != track.StatusError {
		return fmt.Errorf("%w: retry while %s", track.ErrIllegalTransition, st.Status)
	}

	current, live := e.ledger.Current(entityID)
	msg := models.OutboundMessage{
		ID:       e.ids.NewMessageID(),
		EntityID: entityID,
	}
	switch {
	case !live && st.FailedOp == string(models.OpCreate):
		return e.machine.Remove(entityID)
	case !live || st.FailedOp == string(models.OpDelete):
		msg.Op = models.OpDelete
	case st.FailedOp == string(models.OpCreate):
		msg.Op = models.OpCreate
		msg.SnapshotID = current.ID
		msg.Payload = current.Content
	default:
		msg.Op = models.OpUpdate
		msg.SnapshotID = current.ID
		msg.Payload = current.Content
	}

	if err := e.machine.Retry(entityID, msg.ID, string(msg.Op)); err != nil {
		return err
	}

	e.queue.Enqueue(e.background(), msg)
	return nil
}

// Get returns the current view of one protocard.
func (e *Engine) Get(entityID ident.EntityID) (Card, bool) {
	st, ok := e.machine.Get(entityID)
	if !ok {
		return Card{}, false
	}

	snapshot, live := e.ledger.Current(entityID)
	if !live {
		switch {
		case st.Status == track.StatusError && st.LastGood != "":
			for _, s := range e.ledger.History(entityID) {
				if s.ID == st.LastGood {
					snapshot = s
					break
				}
			}
		case st.Status == track.StatusDeleting:
			// the head is already a tombstone; render the content being
			// deleted instead of an empty snapshot
			history := e.ledger.History(entityID)
			for i := len(history) - 1; i >= 0; i-- {
				if !history[i].Deleted {
					snapshot = history[i]
					break
				}
			}
		default:
			return Card{}, false
		}
	}
	return Card{Snapshot: snapshot, State: st}, true
}

// List returns the current view of every live protocard.
func (e *Engine) List() []Card {
	out := make([]Card, 0)
	for _, snapshot := range e.ledger.List() {
		st, ok := e.machine.Get(snapshot.EntityID)
		if !ok {
			continue
		}
		out = append(out, Card{Snapshot: snapshot, State: st})
	}
	return out
}

// History returns the full snapshot history of one protocard in order-key
// order.
func (e *Engine) History(entityID ident.EntityID) []models.Snapshot {
	return e.ledger.History(entityID)
}

// Subscribe registers fn to observe every sync state transition, including
// the terminal gone notification when an entity leaves the active set.
func (e *Engine) Subscribe(fn func(track.State)) {
	e.machine.Subscribe(fn)
}

// Flush blocks until every queued message has resolved. Shutdown and test
// helper.
func (e *Engine) Flush() {
	e.queue.Wait()
}

func (e *Engine) background() context.Context {
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}
