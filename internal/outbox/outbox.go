// Package outbox turns sync state transitions into idempotent, retryable
// messages to the remote authority. Delivery is serialized per entity: at
// most one message is in flight for an entity at a time, and a newer payload
// enqueued behind an in-flight message supersedes any older queued one, so
// stale edits are coalesced instead of duplicated.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sethvargo/go-retry"

	"github.com/protocard/protosync/internal/adapter"
	"github.com/protocard/protosync/internal/config"
	"github.com/protocard/protosync/internal/ident"
	"github.com/protocard/protosync/internal/ledger"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/internal/track"
	"github.com/protocard/protosync/models"
)

// ErrNoServerID is returned when an update or delete must be sent for an
// entity whose create was never acknowledged. The outbox's lane ordering
// makes this unreachable in normal operation.
var ErrNoServerID = errors.New("entity has no server id")

// lane serializes outbound delivery for one entity.
type lane struct {
	inflight *models.OutboundMessage
	queued   *models.OutboundMessage
}

// Queue owns all outbound messages. It is the only writer of the ledger's
// server-identifier fields.
type Queue struct {
	transport adapter.Transport
	ledger    *ledger.Ledger
	machine   *track.Machine
	cfg       config.Engine
	logger    *logger.Logger

	mu    sync.Mutex
	lanes map[ident.EntityID]*lane

	onSettled func(ident.EntityID)

	wg sync.WaitGroup
}

// New constructs a Queue delivering through transport and recording results
// in ledg and machine.
func New(transport adapter.Transport, ledg *ledger.Ledger, machine *track.Machine, cfg config.Engine, log *logger.Logger) *Queue {
	return &Queue{
		transport: transport,
		ledger:    ledg,
		machine:   machine,
		cfg:       cfg,
		logger:    log.Component("outbox"),
		lanes:     make(map[ident.EntityID]*lane),
	}
}

// OnSettled registers a hook invoked after an entity's lane drains (its last
// message acknowledged, nothing queued). The merge handler uses it to replay
// push events deferred while the local mutation was in flight.
func (q *Queue) OnSettled(fn func(ident.EntityID)) {
	q.onSettled = fn
}

// Enqueue accepts one outbound message for delivery. If the entity has a
// message in flight the new one waits behind it; a message already waiting
// is superseded — its payload will never be sent.
func (q *Queue) Enqueue(ctx context.Context, msg models.OutboundMessage) {
	msg.Status = models.MessagePending

	q.mu.Lock()
	ln := q.lanes[msg.EntityID]
	if ln == nil {
		ln = &lane{}
		q.lanes[msg.EntityID] = ln
	}

	if ln.inflight != nil {
		if ln.queued != nil {
			q.logger.Debug().
				Str("entity_id", msg.EntityID.String()).
				Str("superseded", ln.queued.ID.String()).
				Str("by", msg.ID.String()).
				Msg("coalescing queued message")
		}
		ln.queued = &msg
		q.mu.Unlock()
		return
	}

	ln.inflight = &msg
	q.mu.Unlock()

	q.wg.Add(1)
	go q.dispatch(ctx, msg)
}

// Wait blocks until all in-flight and queued messages have resolved. Test
// and shutdown helper.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) dispatch(ctx context.Context, msg models.OutboundMessage) {
	defer q.wg.Done()

	req, err := q.buildRequest(msg)
	if err == nil {
		err = q.sendWithRetry(ctx, req, &msg)
	}
	if err != nil {
		q.fail(msg, err)
		return
	}

	q.advance(ctx, msg)
}

// buildRequest resolves the server-side identifier at send time: a message
// queued behind a create learns the server id only once the create acks.
func (q *Queue) buildRequest(msg models.OutboundMessage) (models.Request, error) {
	req := models.Request{
		ID: msg.ID.String(),
		Op: msg.Op,
	}

	switch msg.Op {
	case models.OpCreate:
		payload := msg.Payload
		req.Content = &payload
	case models.OpUpdate:
		payload := msg.Payload
		req.Content = &payload
		fallthrough
	case models.OpDelete:
		entity, ok := q.ledger.Entity(msg.EntityID)
		if !ok || !entity.Synced() {
			return models.Request{}, fmt.Errorf("%w: %s", ErrNoServerID, msg.EntityID)
		}
		req.EntityID = entity.ServerID.String()
	}

	return req, nil
}

// sendWithRetry delivers req, retrying transient and protocol failures with
// capped exponential backoff up to the configured attempt ceiling. Each
// attempt is bounded by the per-request timeout; a timeout counts as a
// transient failure.
func (q *Queue) sendWithRetry(ctx context.Context, req models.Request, msg *models.OutboundMessage) error {
	backoff := retry.NewExponential(q.cfg.BackoffBase)
	backoff = retry.WithCappedDuration(q.cfg.BackoffCap, backoff)
	backoff = retry.WithMaxRetries(uint64(q.cfg.MaxAttempts-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.RequestTimeout)
		defer cancel()

		msg.Attempts++
		resp, err := q.transport.Send(attemptCtx, req)
		if err != nil {
			var failure *adapter.Failure
			if errors.As(err, &failure) && failure.Retryable() {
				q.logger.Debug().
					Str("message_id", req.ID).
					Int("attempt", msg.Attempts).
					Str("kind", failure.Kind.String()).
					Msg("send attempt failed, will retry")
				return retry.RetryableError(err)
			}
			return err
		}

		q.recordAck(*msg, resp)
		return nil
	})
}

// recordAck correlates the response with the message that produced it and
// writes the authority-assigned identifiers into the ledger. The ledger's
// idempotent MarkAcked makes a replayed ack harmless.
func (q *Queue) recordAck(msg models.OutboundMessage, resp models.Response) {
	if resp.ID != msg.ID.String() {
		q.logger.Warn().
			Str("message_id", msg.ID.String()).
			Str("echoed_id", resp.ID).
			Msg("ack correlation mismatch, applying by request context")
	}

	if msg.Op == models.OpDelete || resp.Result == nil {
		return
	}
	rec := *resp.Result

	if msg.Op == models.OpCreate {
		serverEntityID, ok := ident.ParseServerEntityID(rec.EntityID)
		if !ok {
			q.logger.Error().Str("entity_id", rec.EntityID).Msg("ack carries malformed server entity id")
			return
		}
		if err := q.ledger.MapServerEntity(msg.EntityID, serverEntityID); err != nil {
			q.logger.Error().Err(err).Str("entity_id", msg.EntityID.String()).Msg("mapping server entity id")
			return
		}
	}

	serverSnapshotID, ok := ident.ParseServerSnapshotID(rec.SnapshotID)
	if !ok {
		q.logger.Error().Str("snapshot_id", rec.SnapshotID).Msg("ack carries malformed server snapshot id")
		return
	}
	if err := q.ledger.MarkAcked(msg.SnapshotID, serverSnapshotID, rec.OrderKey, rec.CreatedAt); err != nil {
		q.logger.Error().Err(err).Str("snapshot_id", msg.SnapshotID.String()).Msg("marking snapshot acked")
	}
}

// advance moves the entity's sync state past the acknowledged message and
// dispatches the next queued one, if any.
func (q *Queue) advance(ctx context.Context, msg models.OutboundMessage) {
	q.mu.Lock()
	ln := q.lanes[msg.EntityID]
	next := ln.queued
	ln.queued = nil
	if next != nil {
		ln.inflight = next
	} else {
		delete(q.lanes, msg.EntityID)
	}
	q.mu.Unlock()

	switch {
	case msg.Op == models.OpDelete:
		if err := q.machine.Remove(msg.EntityID); err != nil {
			q.logger.Error().Err(err).Str("entity_id", msg.EntityID.String()).Msg("removing deleted entity")
		}
	case next != nil:
		if err := q.machine.Progress(msg.EntityID, msg.ID, next.ID); err != nil {
			q.logger.Error().Err(err).Str("entity_id", msg.EntityID.String()).Msg("progressing sync state")
		}
	default:
		if err := q.machine.Settle(msg.EntityID, msg.ID); err != nil {
			q.logger.Error().Err(err).Str("entity_id", msg.EntityID.String()).Msg("settling sync state")
		}
		if q.onSettled != nil {
			q.onSettled(msg.EntityID)
		}
	}

	if next != nil {
		q.wg.Add(1)
		go q.dispatch(ctx, *next)
	}
}

// fail abandons the message and everything queued behind it, moving the
// entity to the error state with its last known good snapshot so the UI can
// keep rendering it.
func (q *Queue) fail(msg models.OutboundMessage, cause error) {
	q.mu.Lock()
	ln := q.lanes[msg.EntityID]
	if ln != nil && ln.queued != nil {
		q.logger.Debug().
			Str("entity_id", msg.EntityID.String()).
			Str("queued", ln.queued.ID.String()).
			Msg("dropping queued message after failure")
	}
	delete(q.lanes, msg.EntityID)
	q.mu.Unlock()

	q.logger.Error().
		Err(cause).
		Str("entity_id", msg.EntityID.String()).
		Str("message_id", msg.ID.String()).
		Int("attempts", msg.Attempts).
		Msg("outbound message abandoned")

	var lastGood ident.SnapshotID
	if current, ok := q.ledger.Current(msg.EntityID); ok {
		lastGood = current.ID
	}
	if err := q.machine.Fail(msg.EntityID, string(msg.Op), cause.Error(), lastGood); err != nil {
		q.logger.Error().Err(err).Str("entity_id", msg.EntityID.String()).Msg("failing sync state")
	}
}
