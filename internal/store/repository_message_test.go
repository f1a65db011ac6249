package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocard/protosync/internal/logger"
)

func newMockMessageRepo(t *testing.T) (MessageRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db := &DB{DB: conn, logger: logger.Nop()}
	return NewMessageRepository(db), mock
}

func TestMessageRepository_LookupHit(t *testing.T) {
	repo, mock := newMockMessageRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM processed_messages")).
		WithArgs("mgt_1").
		WillReturnRows(sqlmock.NewRows([]string{"response"}).AddRow([]byte(`{"success":true}`)))

	response, err := repo.Lookup(context.Background(), "mgt_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(response))
}

func TestMessageRepository_LookupMiss(t *testing.T) {
	repo, mock := newMockMessageRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM processed_messages")).
		WithArgs("mgt_unseen").
		WillReturnRows(sqlmock.NewRows([]string{"response"}))

	_, err := repo.Lookup(context.Background(), "mgt_unseen")
	assert.ErrorIs(t, err, ErrMessageNotProcessed)
}

func TestMessageRepository_Record(t *testing.T) {
	repo, mock := newMockMessageRepo(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_messages")).
		WithArgs("mgt_1", "mga_1", []byte(`{}`), now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Record(context.Background(), "mgt_1", "mga_1", []byte(`{}`), now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
