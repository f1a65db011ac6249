package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/protocard/protosync/internal/logger"
)

// messageRepository is the SQLite-backed implementation of
// [MessageRepository]. A processed message is never updated or removed: the
// journal grows with the ledger and makes every mutation replayable.
type messageRepository struct {
	*DB
	logger *logger.Logger
}

// NewMessageRepository constructs a [MessageRepository] backed by db.
func NewMessageRepository(db *DB) MessageRepository {
	return &messageRepository{
		DB:     db,
		logger: db.logger,
	}
}

func (m *messageRepository) Lookup(ctx context.Context, messageID string) ([]byte, error) {
	log := logger.FromContext(ctx)

	var response []byte
	err := m.DB.QueryRowContext(ctx, selectProcessedMessage, messageID).Scan(&response)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotProcessed
		}
		log.Err(err).
			Str("func", "messageRepository.Lookup").
			Str("message_id", messageID).
			Msg("failed to look up processed message")
		return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return response, nil
}

func (m *messageRepository) Record(ctx context.Context, messageID, ackID string, response []byte, at time.Time) error {
	log := logger.FromContext(ctx)

	if _, err := m.DB.ExecContext(ctx, insertProcessedMessage, messageID, ackID, response, at); err != nil {
		log.Err(err).
			Str("func", "messageRepository.Record").
			Str("message_id", messageID).
			Msg("failed to record processed message")
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return nil
}
