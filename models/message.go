package models

import "github.com/protocard/protosync/internal/ident"

// Operation tags the kind of mutation an outbound message carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// MessageStatus is the delivery state of an outbound message.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageAcked   MessageStatus = "acked"
	MessageFailed  MessageStatus = "failed"
)

// OutboundMessage records one attempt at one logical mutation. Its ID is the
// idempotency key: stable across retries of the same mutation, never reused
// for a different payload. A message is never mutated after reaching
// MessageAcked.
type OutboundMessage struct {
	ID         ident.MessageID
	EntityID   ident.EntityID
	SnapshotID ident.SnapshotID // snapshot the message carries; empty for deletes
	Op         Operation
	Payload    Content
	Status     MessageStatus
	Attempts   int
	AckID      ident.AckID
}
