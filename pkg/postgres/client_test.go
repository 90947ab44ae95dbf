package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
)

func newMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Client{DB: db, cfg: config.PostgresConfig{DocumentsTable: "rag_documents"}}, mock
}

func TestInTx_Commits(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM rag_documents").WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.InTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM rag_documents WHERE id = $1", "a")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RollsBackOnError(t *testing.T) {
	c, mock := newMock(t)
	boom := errors.New("constraint violated")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := c.InTx(context.Background(), func(*sql.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_ReportsBeginAndCommitFailures(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("no connections"))
	err := c.InTx(context.Background(), func(*sql.Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beginning transaction")

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
	err = c.InTx(context.Background(), func(*sql.Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "committing transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_PingAndTable(t *testing.T) {
	c, mock := newMock(t)
	assert.Equal(t, "rag_documents", c.DocumentsTable())

	mock.ExpectPing()
	require.NoError(t, c.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.Error(t, c.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_UnreachableDatabase(t *testing.T) {
	cfg := config.Default().Postgres
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinging postgres 127.0.0.1:1")
}
