package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/models"
)

// protocardRepository is the SQLite-backed implementation of
// [ProtocardRepository]. Versions live in the "snapshots" table, one row per
// version, keyed by a per-entity gap-free order key the repository assigns
// inside the writing transaction.
type protocardRepository struct {
	*DB
	logger *logger.Logger
}

// NewProtocardRepository constructs a [ProtocardRepository] backed by db.
func NewProtocardRepository(db *DB) ProtocardRepository {
	return &protocardRepository{
		DB:     db,
		logger: db.logger,
	}
}

func (p *protocardRepository) Create(ctx context.Context, entityID, snapshotID string, content models.Content, createdAt time.Time) (models.Record, error) {
	log := logger.FromContext(ctx)

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, insertEntity, entityID, createdAt); err != nil {
		log.Err(err).
			Str("func", "protocardRepository.Create").
			Str("entity_id", entityID).
			Msg("failed to insert entity")
		return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if _, err = tx.ExecContext(ctx, insertSnapshot, snapshotID, entityID, int64(1), createdAt, false, content.TextBody); err != nil {
		log.Err(err).
			Str("func", "protocardRepository.Create").
			Str("entity_id", entityID).
			Msg("failed to insert first version")
		return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if err = tx.Commit(); err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return models.Record{
		EntityID:   entityID,
		SnapshotID: snapshotID,
		OrderKey:   1,
		CreatedAt:  createdAt,
		Content:    content,
	}, nil
}

func (p *protocardRepository) Append(ctx context.Context, entityID, snapshotID string, content models.Content, deleted bool, createdAt time.Time) (models.Record, error) {
	log := logger.FromContext(ctx)

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer tx.Rollback()

	if err = p.checkLive(ctx, tx, entityID); err != nil {
		return models.Record{}, err
	}

	var orderKey int64
	if err = tx.QueryRowContext(ctx, selectNextOrderKey, entityID).Scan(&orderKey); err != nil {
		log.Err(err).
			Str("func", "protocardRepository.Append").
			Str("entity_id", entityID).
			Msg("failed to compute next order key")
		return models.Record{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	if _, err = tx.ExecContext(ctx, insertSnapshot, snapshotID, entityID, orderKey, createdAt, deleted, content.TextBody); err != nil {
		log.Err(err).
			Str("func", "protocardRepository.Append").
			Str("entity_id", entityID).
			Int64("order_key", orderKey).
			Msg("failed to insert version")
		return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if deleted {
		if _, err = tx.ExecContext(ctx, markEntityDeleted, entityID); err != nil {
			log.Err(err).
				Str("func", "protocardRepository.Append").
				Str("entity_id", entityID).
				Msg("failed to tombstone entity")
			return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Record{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	return models.Record{
		EntityID:   entityID,
		SnapshotID: snapshotID,
		OrderKey:   orderKey,
		CreatedAt:  createdAt,
		Content:    content,
	}, nil
}

// checkLive verifies the entity exists and is not tombstoned within the
// writing transaction.
func (p *protocardRepository) checkLive(ctx context.Context, tx *sql.Tx, entityID string) error {
	query, args, err := buildSelectEntityQuery(entityID)
	if err != nil {
		return err
	}

	var (
		id      string
		deleted bool
	)
	if err = tx.QueryRowContext(ctx, query, args...).Scan(&id, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEntityNotFound
		}
		return fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	if deleted {
		return ErrEntityDeleted
	}
	return nil
}

func (p *protocardRepository) Get(ctx context.Context, entityID string) (models.Record, error) {
	log := logger.FromContext(ctx)

	query, args, err := buildSelectCurrentQuery(entityID)
	if err != nil {
		return models.Record{}, err
	}

	rec, err := p.scanRecord(p.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, ErrEntityNotFound
		}
		log.Err(err).
			Str("func", "protocardRepository.Get").
			Str("entity_id", entityID).
			Msg("failed to load current version")
		return models.Record{}, err
	}
	return rec, nil
}

func (p *protocardRepository) List(ctx context.Context) ([]models.Record, error) {
	log := logger.FromContext(ctx)

	query, args, err := buildSelectAllCurrentQuery()
	if err != nil {
		return nil, err
	}

	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "protocardRepository.List").
			Msg("failed to execute listing query")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	return p.collectRecords(rows)
}

func (p *protocardRepository) History(ctx context.Context, entityID string) ([]models.Record, error) {
	log := logger.FromContext(ctx)

	query, args, err := buildSelectHistoryQuery(entityID)
	if err != nil {
		return nil, err
	}

	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		log.Err(err).
			Str("func", "protocardRepository.History").
			Str("entity_id", entityID).
			Msg("failed to execute history query")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	return p.collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *protocardRepository) scanRecord(row rowScanner) (models.Record, error) {
	var (
		rec     models.Record
		deleted bool
	)
	if err := row.Scan(
		&rec.EntityID,
		&rec.SnapshotID,
		&rec.OrderKey,
		&rec.CreatedAt,
		&deleted,
		&rec.Content.TextBody,
	); err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

func (p *protocardRepository) collectRecords(rows *sql.Rows) ([]models.Record, error) {
	records := make([]models.Record, 0, 50)
	for rows.Next() {
		rec, err := p.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
		}
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanningRows, rowsErr)
	}
	return records, nil
}
