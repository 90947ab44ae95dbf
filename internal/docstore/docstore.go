// Package docstore reads and writes the source documents that feed the
// lexical index. Documents live in a PostgreSQL table with a JSONB metadata
// column:
//
//	CREATE TABLE documents (
//	    id         TEXT PRIMARY KEY,
//	    content    TEXT NOT NULL,
//	    metadata   JSONB,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/postgres"
)

type Store struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// New returns a store over table. The name is quoted as an identifier.
func New(db *sql.DB, table string) (*Store, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("%w: documents table name is empty", apperrors.ErrInvalidInput)
	}
	return &Store{
		db:     db,
		table:  pq.QuoteIdentifier(table),
		logger: slog.Default().With("component", "docstore"),
	}, nil
}

// LoadAll returns every document ordered by id.
func (s *Store) LoadAll(ctx context.Context) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata FROM `+s.table+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("documents loaded", "count", len(docs))
	return docs, nil
}

// LoadByIDs returns the documents with the given ids; unknown ids are
// ignored.
func (s *Store) LoadByIDs(ctx context.Context, ids []string) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata FROM `+s.table+` WHERE id = ANY($1) ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("querying %d documents: %w", len(ids), err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Get returns one document or ErrDocumentNotFound.
func (s *Store) Get(ctx context.Context, id string) (model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, metadata FROM `+s.table+` WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, id)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("loading document %s: %w", id, err)
	}
	return doc, nil
}

// Upsert writes docs in one transaction.
func (s *Store) Upsert(ctx context.Context, docs ...model.Document) error {
	for i, d := range docs {
		if strings.TrimSpace(d.ID) == "" {
			return apperrors.IndexErrorf("document at position %d has no id", i)
		}
	}
	return postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO `+s.table+` (id, content, metadata, updated_at) VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, updated_at = NOW()`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, d := range docs {
			meta, err := encodeMetadata(d.Metadata)
			if err != nil {
				return fmt.Errorf("document %s: %w", d.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, d.ID, d.Content, meta); err != nil {
				return fmt.Errorf("upserting document %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// Delete removes a document and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting document %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (model.Document, error) {
	var (
		doc  model.Document
		meta []byte
	)
	if err := row.Scan(&doc.ID, &doc.Content, &meta); err != nil {
		return model.Document{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return model.Document{}, fmt.Errorf("decoding metadata of %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}

func scanDocuments(rows *sql.Rows) ([]model.Document, error) {
	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return b, nil
}
