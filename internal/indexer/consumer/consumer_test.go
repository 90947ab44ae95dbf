package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

type mapSource map[string]model.Document

func (m mapSource) Get(_ context.Context, id string) (model.Document, error) {
	if d, ok := m[id]; ok {
		return d, nil
	}
	return model.Document{}, apperrors.ErrDocumentNotFound
}

type failingSource struct{}

func (failingSource) Get(context.Context, string) (model.Document, error) {
	return model.Document{}, errors.New("postgres unavailable")
}

func newEngine() *indexer.Engine {
	return indexer.NewEngine(config.Default().Lexical, nil)
}

func TestApplier_CreateUpdateDelete(t *testing.T) {
	engine := newEngine()
	a := NewApplier(engine, nil, "documents")
	ctx := context.Background()

	require.NoError(t, a.Apply(ctx, model.MutationEvent{
		EventType:  model.EventCreate,
		Collection: "documents",
		DocumentID: "a",
		NewData:    map[string]any{"content": "machine learning basics", "metadata": map[string]any{"lang": "en"}},
	}))
	doc, ok := engine.Document("a")
	require.True(t, ok)
	assert.Equal(t, "machine learning basics", doc.Content)
	assert.Equal(t, "en", doc.Metadata["lang"])

	require.NoError(t, a.Apply(ctx, model.MutationEvent{
		EventType:  model.EventUpdate,
		Collection: "documents",
		DocumentID: "a",
		NewData:    map[string]any{"content": "cooking recipes"},
	}))
	assert.Empty(t, engine.Search("machine", indexer.SearchOptions{}))
	assert.Len(t, engine.Search("cooking", indexer.SearchOptions{}), 1)

	require.NoError(t, a.Apply(ctx, model.MutationEvent{
		EventType: model.EventDelete, Collection: "documents", DocumentID: "a",
	}))
	_, ok = engine.Document("a")
	assert.False(t, ok)
}

func TestApplier_IgnoresOtherCollections(t *testing.T) {
	engine := newEngine()
	a := NewApplier(engine, nil, "documents")
	require.NoError(t, a.Apply(context.Background(), model.MutationEvent{
		EventType: model.EventCreate, Collection: "users", DocumentID: "u1",
		NewData: map[string]any{"content": "someone"},
	}))
	assert.Equal(t, 0, engine.Stats().Documents)
}

func TestApplier_LoadsFromSource(t *testing.T) {
	engine := newEngine()
	src := mapSource{"b": {ID: "b", Content: "kitchen tips"}}
	a := NewApplier(engine, src, "documents")
	ctx := context.Background()

	require.NoError(t, a.Apply(ctx, model.MutationEvent{EventType: model.EventUpdate, Collection: "documents", DocumentID: "b"}))
	_, ok := engine.Document("b")
	assert.True(t, ok)

	require.NoError(t, a.Apply(ctx, model.MutationEvent{EventType: model.EventUpdate, Collection: "documents", DocumentID: "gone"}))
	_, ok = engine.Document("gone")
	assert.False(t, ok)

	failing := NewApplier(engine, failingSource{}, "documents")
	err := failing.Apply(ctx, model.MutationEvent{EventType: model.EventUpdate, Collection: "documents", DocumentID: "c"})
	assert.ErrorContains(t, err, "postgres unavailable")
}

func TestHandleMessage(t *testing.T) {
	engine := newEngine()
	handler := NewApplier(engine, nil, "documents").HandleMessage()
	ctx := context.Background()

	payload, err := json.Marshal(model.MutationEvent{
		EventType:  model.EventCreate,
		Collection: "documents",
		DocumentID: "x",
		NewData:    map[string]any{"content": "vector search"},
	})
	require.NoError(t, err)
	require.NoError(t, handler(ctx, []byte("x"), payload))
	_, ok := engine.Document("x")
	assert.True(t, ok)

	assert.NoError(t, handler(ctx, nil, []byte("not json")))

	noID, err := json.Marshal(model.MutationEvent{
		EventType: model.EventCreate, Collection: "documents",
		NewData: map[string]any{"content": "orphan"},
	})
	require.NoError(t, err)
	assert.NoError(t, handler(ctx, nil, noID), "invalid documents are acknowledged, not retried")
}
