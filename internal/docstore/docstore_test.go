package docstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db, "documents")
	require.NoError(t, err)
	return s, mock
}

func TestNew_RejectsEmptyTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = New(db, " ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLoadAll(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "content", "metadata"}).
		AddRow("a", "artificial intelligence and machine learning", []byte(`{"lang":"en"}`)).
		AddRow("b", "cooking recipes and kitchen tips", nil)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, content, metadata FROM "documents" ORDER BY id`)).
		WillReturnRows(rows)

	docs, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, map[string]any{"lang": "en"}, docs[0].Metadata)
	assert.Equal(t, "cooking recipes and kitchen tips", docs[1].Content)
	assert.Nil(t, docs[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAll_BadMetadata(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, content, metadata FROM`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata"}).AddRow("a", "x", []byte(`{`)))

	_, err := s.LoadAll(context.Background())
	assert.Error(t, err)
}

func TestLoadAll_QueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, content, metadata FROM`).WillReturnError(errors.New("connection reset"))

	_, err := s.LoadAll(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestLoadByIDs(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, content, metadata FROM "documents" WHERE id = ANY($1) ORDER BY id`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata"}).AddRow("b", "kitchen", nil))

	docs, err := s.LoadByIDs(context.Background(), []string{"b", "zzz"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].ID)

	none, err := s.LoadByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)
	query := regexp.QuoteMeta(`SELECT id, content, metadata FROM "documents" WHERE id = $1`)
	mock.ExpectQuery(query).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata"}).AddRow("a", "body", nil))
	mock.ExpectQuery(query).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata"}))

	doc, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "body", doc.Content)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "documents" (id, content, metadata, updated_at)`))
	prep.ExpectExec().WithArgs("a", "first", []byte(`{"lang":"en"}`)).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("b", "second", nil).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Upsert(context.Background(),
		model.Document{ID: "a", Content: "first", Metadata: map[string]any{"lang": "en"}},
		model.Document{ID: "b", Content: "second"},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO`)
	prep.ExpectExec().WithArgs("a", "first", nil).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Upsert(context.Background(), model.Document{ID: "a", Content: "first"})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RejectsMissingID(t *testing.T) {
	s, mock := newMockStore(t)
	err := s.Upsert(context.Background(), model.Document{Content: "orphan"})
	assert.ErrorIs(t, err, apperrors.ErrIndex)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	s, mock := newMockStore(t)
	query := regexp.QuoteMeta(`DELETE FROM "documents" WHERE id = $1`)
	mock.ExpectExec(query).WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("b").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.Delete(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
