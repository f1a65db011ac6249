package store

import (
	sq "github.com/Masterminds/squirrel"
)

const (
	insertEntity = `INSERT INTO entities (id, created_at)
	VALUES (?, ?);`

	insertSnapshot = `INSERT INTO snapshots (id, entity_id, order_key, created_at, deleted, text_body)
	VALUES (?, ?, ?, ?, ?, ?);`

	selectNextOrderKey = `SELECT COALESCE(MAX(order_key), 0) + 1
	FROM snapshots
	WHERE entity_id = ?;`

	markEntityDeleted = `UPDATE entities
	SET deleted = TRUE
	WHERE id = ?;`

	insertProcessedMessage = `INSERT INTO processed_messages (message_id, ack_id, response, created_at)
	VALUES (?, ?, ?, ?);`

	selectProcessedMessage = `SELECT response
	FROM processed_messages
	WHERE message_id = ?;`
)

var snapshotColumns = []string{
	"s.entity_id",
	"s.id",
	"s.order_key",
	"s.created_at",
	"s.deleted",
	"s.text_body",
}

// buildSelectCurrentQuery selects the highest-order-key version of one live
// entity.
func buildSelectCurrentQuery(entityID string) (string, []any, error) {
	return sq.Select(snapshotColumns...).
		From("snapshots s").
		Join("entities e ON e.id = s.entity_id").
		Where(sq.Eq{"s.entity_id": entityID, "e.deleted": false}).
		OrderBy("s.order_key DESC").
		Limit(1).
		ToSql()
}

// buildSelectAllCurrentQuery selects the current version of every live
// entity.
func buildSelectAllCurrentQuery() (string, []any, error) {
	return sq.Select(snapshotColumns...).
		From("snapshots s").
		Join("entities e ON e.id = s.entity_id").
		Where(sq.Eq{"e.deleted": false}).
		Where("s.order_key = (SELECT MAX(order_key) FROM snapshots WHERE entity_id = s.entity_id)").
		OrderBy("s.created_at").
		ToSql()
}

// buildSelectHistoryQuery selects all versions of one entity, tombstones
// included, in order-key order.
func buildSelectHistoryQuery(entityID string) (string, []any, error) {
	return sq.Select(snapshotColumns...).
		From("snapshots s").
		Where(sq.Eq{"s.entity_id": entityID}).
		OrderBy("s.order_key").
		ToSql()
}

// buildSelectEntityQuery fetches one entity row for existence and tombstone
// checks.
func buildSelectEntityQuery(entityID string) (string, []any, error) {
	return sq.Select("id", "deleted").
		From("entities").
		Where(sq.Eq{"id": entityID}).
		ToSql()
}
