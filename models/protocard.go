// Package models holds the domain and wire types shared between the sync
// engine, the transport adapters, and the reference authority.
package models

import (
	"time"

	"github.com/protocard/protosync/internal/ident"
)

// Content is the domain payload of one protocard version.
type Content struct {
	TextBody string `json:"text_body"`
}

// Entity is the logical protocard object. One Entity record exists per
// logical object; it is appended once and never mutated in place. Content
// changes happen through snapshots.
type Entity struct {
	ID        ident.EntityID       `json:"entity_id"`
	ServerID  ident.ServerEntityID `json:"server_entity_id,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	Deleted   bool                 `json:"deleted"`
}

// Synced reports whether the remote authority has acknowledged creation of
// the entity.
func (e Entity) Synced() bool {
	return e.ServerID != ""
}

// Snapshot is one immutable, ordered version of an entity's content.
// OrderKey sequences are strictly increasing and gap-free per entity, which
// lets a consumer detect a missed intermediate version by comparing
// consecutive keys. The Server* fields stay zero until the authority
// acknowledges the snapshot.
type Snapshot struct {
	ID        ident.SnapshotID `json:"snapshot_id"`
	EntityID  ident.EntityID   `json:"entity_id"`
	OrderKey  int64            `json:"order_key"`
	CreatedAt time.Time        `json:"created_at"`
	Deleted   bool             `json:"deleted"`
	Content   Content          `json:"content"`

	ServerID        ident.ServerSnapshotID `json:"server_snapshot_id,omitempty"`
	ServerOrderKey  int64                  `json:"server_order_key,omitempty"`
	ServerCreatedAt time.Time              `json:"server_created_at,omitzero"`
}

// Acked reports whether the authority has acknowledged the snapshot.
func (s Snapshot) Acked() bool {
	return s.ServerID != ""
}
