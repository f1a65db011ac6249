package store

import (
	"context"
	"time"

	"github.com/protocard/protosync/models"
)

// ProtocardRepository persists server-side protocard entities and their
// version rows. Every write appends a row; content is never updated in place.
type ProtocardRepository interface {
	// Create inserts a new entity with its first version (order key 1).
	Create(ctx context.Context, entityID, snapshotID string, content models.Content, createdAt time.Time) (models.Record, error)
	// Append adds the next version of an existing live entity. When deleted
	// is true the version is a tombstone and the entity stops being listed.
	Append(ctx context.Context, entityID, snapshotID string, content models.Content, deleted bool, createdAt time.Time) (models.Record, error)
	// Get returns the current (highest order key) version of a live entity.
	Get(ctx context.Context, entityID string) (models.Record, error)
	// List returns the current version of every live entity.
	List(ctx context.Context) ([]models.Record, error)
	// History returns all versions of an entity in order-key order.
	History(ctx context.Context, entityID string) ([]models.Record, error)
}

// MessageRepository is the idempotency journal: one row per processed message
// identifier, holding the serialized response that was sent for it.
type MessageRepository interface {
	// Lookup returns the stored response for messageID, or
	// ErrMessageNotProcessed when the identifier was never seen.
	Lookup(ctx context.Context, messageID string) ([]byte, error)
	// Record stores the response sent for messageID. Recording the same
	// identifier twice is an error; callers look up first.
	Record(ctx context.Context, messageID, ackID string, response []byte, at time.Time) error
}

// Repositories aggregates every repository the authority service needs.
type Repositories struct {
	Protocards ProtocardRepository
	Messages   MessageRepository
}

// NewRepositories constructs all repositories over one database connection.
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Protocards: NewProtocardRepository(db),
		Messages:   NewMessageRepository(db),
	}
}
