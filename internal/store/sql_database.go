package store

import (
	"database/sql"

	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/migrations"
)

type DB struct {
	*sql.DB
	logger *logger.Logger
}

func (db *DB) Migrate() error {
	return migrations.Migrate(db.DB)
}
