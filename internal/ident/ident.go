// Package ident generates and validates the namespaced identifiers used by
// the sync engine. Every identifier carries a short prefix that encodes both
// its provenance (client-minted vs. server-minted) and its role (entity,
// snapshot, message, ack), so an identifier of one kind cannot be passed
// where another is expected without an explicit conversion.
//
// Client and server identifiers for the same logical object live in separate
// namespaces for the whole session. The ledger links them through a mapping;
// identifiers are never renamed or reused across namespaces.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// Kind enumerates the identifier namespaces the engine works with.
type Kind int

const (
	// KindEntity is a client-minted protocard entity identifier.
	KindEntity Kind = iota
	// KindSnapshot is a client-minted protocard snapshot identifier.
	KindSnapshot
	// KindMessage is a client-minted outbound message identifier, used as
	// the idempotency key for one logical mutation.
	KindMessage
	// KindServerEntity is a server-minted protocard entity identifier.
	KindServerEntity
	// KindServerSnapshot is a server-minted protocard snapshot identifier.
	KindServerSnapshot
	// KindAck is a server-minted acknowledgment identifier.
	KindAck
)

var prefixes = map[Kind]string{
	KindEntity:         "pcf_",
	KindSnapshot:       "pct_",
	KindMessage:        "mgt_",
	KindServerEntity:   "pce_",
	KindServerSnapshot: "pcs_",
	KindAck:            "mga_",
}

// Prefix returns the namespace prefix for kind, or an empty string for an
// unknown kind.
func Prefix(kind Kind) string {
	return prefixes[kind]
}

// EntityID identifies a protocard entity minted on this client.
type EntityID string

// SnapshotID identifies a protocard snapshot minted on this client.
type SnapshotID string

// MessageID is the idempotency key of one outbound mutation.
type MessageID string

// ServerEntityID identifies a protocard entity as known to the remote
// authority.
type ServerEntityID string

// ServerSnapshotID identifies a protocard snapshot as known to the remote
// authority.
type ServerSnapshotID string

// AckID is the authority-assigned identifier of one acknowledgment.
type AckID string

func (id EntityID) String() string         { return string(id) }
func (id SnapshotID) String() string       { return string(id) }
func (id MessageID) String() string        { return string(id) }
func (id ServerEntityID) String() string   { return string(id) }
func (id ServerSnapshotID) String() string { return string(id) }
func (id AckID) String() string            { return string(id) }

// Service mints identifiers for the client-side namespaces and validates
// identifiers of any namespace. It is stateless and safe for concurrent use.
type Service struct{}

// NewService returns an identifier Service.
func NewService() *Service {
	return &Service{}
}

// NewEntityID mints a client-origin entity identifier.
func (s *Service) NewEntityID() EntityID {
	return EntityID(prefixes[KindEntity] + uuid.NewString())
}

// NewSnapshotID mints a client-origin snapshot identifier.
func (s *Service) NewSnapshotID() SnapshotID {
	return SnapshotID(prefixes[KindSnapshot] + uuid.NewString())
}

// NewMessageID mints a fresh idempotency key for one logical mutation. The
// same key is reused across retries of that mutation, but never for a
// different payload.
func (s *Service) NewMessageID() MessageID {
	return MessageID(prefixes[KindMessage] + uuid.NewString())
}

// NewServerEntityID mints a server-origin entity identifier. Only the
// reference authority calls this; a real client never mints server IDs.
func (s *Service) NewServerEntityID() ServerEntityID {
	return ServerEntityID(prefixes[KindServerEntity] + uuid.NewString())
}

// NewServerSnapshotID mints a server-origin snapshot identifier.
func (s *Service) NewServerSnapshotID() ServerSnapshotID {
	return ServerSnapshotID(prefixes[KindServerSnapshot] + uuid.NewString())
}

// NewAckID mints an acknowledgment identifier.
func (s *Service) NewAckID() AckID {
	return AckID(prefixes[KindAck] + uuid.NewString())
}

// Validate reports whether raw belongs to the expected namespace. It returns
// false instead of an error so callers on hot paths can branch without
// error plumbing.
func Validate(raw string, kind Kind) bool {
	prefix, ok := prefixes[kind]
	if !ok {
		return false
	}
	return strings.HasPrefix(raw, prefix) && len(raw) > len(prefix)
}

// ParseServerEntityID converts a raw wire identifier into a ServerEntityID,
// reporting false if it is not in the server entity namespace.
func ParseServerEntityID(raw string) (ServerEntityID, bool) {
	if !Validate(raw, KindServerEntity) {
		return "", false
	}
	return ServerEntityID(raw), true
}

// ParseServerSnapshotID converts a raw wire identifier into a
// ServerSnapshotID, reporting false if it is not in the server snapshot
// namespace.
func ParseServerSnapshotID(raw string) (ServerSnapshotID, bool) {
	if !Validate(raw, KindServerSnapshot) {
		return "", false
	}
	return ServerSnapshotID(raw), true
}
