// Package track owns the per-entity synchronization state. Exactly one
// State exists per active entity; it governs which mutations are legal and
// what the caller may assume about durability. States are derived bookkeeping
// and are never persisted.
package track

import (
	"errors"
	"fmt"
	"sync"

	"github.com/protocard/protosync/internal/ident"
)

// Status is the synchronization status of one entity.
type Status string

const (
	// StatusSynced: the current snapshot is acknowledged by the authority.
	StatusSynced Status = "synced"
	// StatusCreating: the entity exists only locally; its create message is
	// unacknowledged.
	StatusCreating Status = "creating"
	// StatusUpdating: an update message is in flight or queued.
	StatusUpdating Status = "updating"
	// StatusDeleting: a delete message is in flight or queued.
	StatusDeleting Status = "deleting"
	// StatusError: the last mutation failed unrecoverably; the entity still
	// renders its last known good snapshot and waits for an explicit retry.
	StatusError Status = "error"
	// StatusGone is emitted to subscribers when an entity leaves the active
	// set (delete acknowledged, or deleted remotely). It is never stored.
	StatusGone Status = "gone"
)

var (
	// ErrUnknownEntity is returned for transitions on entities the machine
	// does not track.
	ErrUnknownEntity = errors.New("entity not tracked")
	// ErrIllegalTransition is returned when the requested transition is not
	// permitted from the entity's current status.
	ErrIllegalTransition = errors.New("illegal sync state transition")
)

// State is the synchronization state of one entity.
//
// Pending is the idempotency key of the in-flight message, LastAcked the key
// of the last acknowledged one. LastGood references (never copies) the
// ledger snapshot an errored entity can still render.
type State struct {
	EntityID  ident.EntityID
	Status    Status
	LastAcked ident.MessageID
	Pending   ident.MessageID
	FailedOp  string // operation to re-issue on retry, set while in error
	ErrText   string
	LastGood  ident.SnapshotID
}

// Machine tracks the states of all active entities and notifies subscribers
// on every transition.
type Machine struct {
	mu     sync.RWMutex
	states map[ident.EntityID]State
	subs   []func(State)
}

// NewMachine returns an empty state machine.
func NewMachine() *Machine {
	return &Machine{states: make(map[ident.EntityID]State)}
}

// Subscribe registers fn to be called after every state transition. The
// callback receives a copy of the new state; for entities leaving the active
// set the copy carries StatusGone.
func (m *Machine) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Get returns the state of an entity.
func (m *Machine) Get(entityID ident.EntityID) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[entityID]
	return st, ok
}

// All returns a copy of every tracked state.
func (m *Machine) All() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	return out
}

// AnyCreating reports whether any entity currently has an unacknowledged
// create. The merge handler uses this to defer unmapped push events that may
// belong to one of our own pending creates.
func (m *Machine) AnyCreating(exclude ident.EntityID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, st := range m.states {
		if id == exclude {
			continue
		}
		if st.Status == StatusCreating {
			return true
		}
	}
	return false
}

// BeginCreate transitions an untracked entity to creating, before any
// network attempt is made.
func (m *Machine) BeginCreate(entityID ident.EntityID, msgID ident.MessageID) error {
	m.mu.Lock()
	if _, exists := m.states[entityID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: create of tracked entity %s", ErrIllegalTransition, entityID)
	}
	st := State{EntityID: entityID, Status: StatusCreating, Pending: msgID}
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

// AdoptSynced registers an entity first seen through the push channel as
// already synced.
func (m *Machine) AdoptSynced(entityID ident.EntityID) error {
	m.mu.Lock()
	if _, exists := m.states[entityID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: adopt of tracked entity %s", ErrIllegalTransition, entityID)
	}
	st := State{EntityID: entityID, Status: StatusSynced}
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

// BeginUpdate records the intent to update. From synced the entity moves to
// updating with msgID pending. While a message is already unacknowledged
// (creating or updating) the status is unchanged: the new payload queues
// behind the in-flight message in the outbox and Pending keeps naming the
// in-flight one. Updates are illegal while deleting or in error.
func (m *Machine) BeginUpdate(entityID ident.EntityID, msgID ident.MessageID) error {
	m.mu.Lock()
	st, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEntity
	}

	switch st.Status {
	case StatusSynced:
		st.Status = StatusUpdating
		st.Pending = msgID
	case StatusCreating, StatusUpdating:
		// coalesced behind the in-flight message
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: update while %s", ErrIllegalTransition, st.Status)
	}
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

// BeginDelete records the intent to delete. Legal from synced, creating and
// updating; a delete issued while an earlier message is unacknowledged waits
// behind it in the outbox. Deleting twice is a no-op.
func (m *Machine) BeginDelete(entityID ident.EntityID, msgID ident.MessageID) error {
	m.mu.Lock()
	st, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEntity
	}

	switch st.Status {
	case StatusSynced:
		st.Status = StatusDeleting
		st.Pending = msgID
	case StatusCreating, StatusUpdating:
		st.Status = StatusDeleting
	case StatusDeleting:
		m.mu.Unlock()
		return nil
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: delete while %s", ErrIllegalTransition, st.Status)
	}
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

// Settle acknowledges msgID with nothing further queued: the entity returns
// to synced.
func (m *Machine) Settle(entityID ident.EntityID, msgID ident.MessageID) error {
	m.mu.Lock()
	st, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEntity
	}
	if st.Status != StatusCreating && st.Status != StatusUpdating {
		m.mu.Unlock()
		return fmt.Errorf("%w: settle while %s", ErrIllegalTransition, st.Status)
	}

	st.Status = StatusSynced
	st.LastAcked = msgID
	st.Pending = ""
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

// Progress acknowledges ackedID while the next queued message nextID becomes
// in-flight. The status is unchanged: the entity is still syncing, just with
// a newer pending message.
func (m *Machine) Progress(entityID ident.EntityID, ackedID, nextID ident.MessageID) error {
	m.mu.Lock()
	st, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEntity
	}

	st.LastAcked = ackedID
	st.Pending = nextID
	if st.Status == StatusCreating {
		// the create acked; whatever is queued is an update or delete
		st.Status = StatusUpdating
	}
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

// Remove drops an entity from the active set after its delete was
// acknowledged or applied remotely. Subscribers observe StatusGone.
func (m *Machine) Remove(entityID ident.EntityID) error {
	m.mu.Lock()
	st, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEntity
	}
	delete(m.states, entityID)
	m.mu.Unlock()

	st.Status = StatusGone
	st.Pending = ""
	m.notify(st)
	return nil
}

// Fail moves an entity to the error state. lastGood references the snapshot
// the UI can keep rendering; failedOp names the operation a retry should
// re-issue.
func (m *Machine) Fail(entityID ident.EntityID, failedOp, errText string, lastGood ident.SnapshotID) error {
	m.mu.Lock()
	st, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEntity
	}

	st.Status = StatusError
	st.FailedOp = failedOp
	st.ErrText = errText
	st.LastGood = lastGood
	st.Pending = ""
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

// Retry re-enters the outbound path from the error state with a freshly
// generated message identifier. op names the operation being re-issued and
// determines the target status; it is usually the failed operation, but the
// caller may substitute a delete when a queued delete tombstoned the local
// head while the failure was pending. A failed identifier is never reused
// for a different payload.
func (m *Machine) Retry(entityID ident.EntityID, msgID ident.MessageID, op string) error {
	m.mu.Lock()
	st, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownEntity
	}
	if st.Status != StatusError {
		m.mu.Unlock()
		return fmt.Errorf("%w: retry while %s", ErrIllegalTransition, st.Status)
	}

	switch op {
	case "create":
		st.Status = StatusCreating
	case "delete":
		st.Status = StatusDeleting
	default:
		st.Status = StatusUpdating
	}
	st.Pending = msgID
	st.FailedOp = ""
	st.ErrText = ""
	m.states[entityID] = st
	m.mu.Unlock()

	m.notify(st)
	return nil
}

func (m *Machine) notify(st State) {
	m.mu.RLock()
	subs := make([]func(State), len(m.subs))
	copy(subs, m.subs)
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(st)
	}
}
