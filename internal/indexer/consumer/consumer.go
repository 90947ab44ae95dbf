// Package consumer keeps the lexical index in step with the document store
// by applying source-data mutation events read from Kafka.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/kafka"
)

// DocumentSource loads the current version of a document when an event
// does not carry its content.
type DocumentSource interface {
	Get(ctx context.Context, id string) (model.Document, error)
}

// Applier applies mutation events of one collection to the engine.
type Applier struct {
	engine     *indexer.Engine
	source     DocumentSource
	collection string
	logger     *slog.Logger
}

// NewApplier returns an Applier for collection. source may be nil, in which
// case events without content are skipped.
func NewApplier(engine *indexer.Engine, source DocumentSource, collection string) *Applier {
	return &Applier{
		engine:     engine,
		source:     source,
		collection: collection,
		logger:     slog.Default().With("component", "index-consumer", "collection", collection),
	}
}

// Apply updates the index for ev. Events of other collections are ignored.
func (a *Applier) Apply(ctx context.Context, ev model.MutationEvent) error {
	if ev.Collection != a.collection {
		return nil
	}
	switch ev.EventType {
	case model.EventDelete:
		if a.engine.RemoveDocument(ev.DocumentID) {
			a.logger.Info("document removed from index", "doc_id", ev.DocumentID)
		}
		return nil
	case model.EventCreate, model.EventUpdate, model.EventBatchUpdate:
		doc, ok, err := a.document(ctx, ev)
		if err != nil {
			return err
		}
		if !ok {
			a.logger.Warn("mutation event has no content and no source to load it from", "doc_id", ev.DocumentID)
			return nil
		}
		if err := a.engine.AddDocument(doc); err != nil {
			return fmt.Errorf("indexing document %s: %w", ev.DocumentID, err)
		}
		a.logger.Debug("document indexed", "doc_id", doc.ID, "event_type", ev.EventType)
		return nil
	default:
		a.logger.Warn("unknown mutation event type", "event_type", ev.EventType, "doc_id", ev.DocumentID)
		return nil
	}
}

// document builds the new version of the document from the event payload,
// falling back to the document source.
func (a *Applier) document(ctx context.Context, ev model.MutationEvent) (model.Document, bool, error) {
	if content, ok := ev.NewData["content"].(string); ok {
		doc := model.Document{ID: ev.DocumentID, Content: content}
		if meta, ok := ev.NewData["metadata"].(map[string]any); ok {
			doc.Metadata = meta
		}
		return doc, true, nil
	}
	if a.source == nil {
		return model.Document{}, false, nil
	}
	doc, err := a.source.Get(ctx, ev.DocumentID)
	if errors.Is(err, apperrors.ErrDocumentNotFound) {
		a.logger.Warn("document vanished before it could be indexed", "doc_id", ev.DocumentID)
		return model.Document{}, false, nil
	}
	if err != nil {
		return model.Document{}, false, fmt.Errorf("loading document %s: %w", ev.DocumentID, err)
	}
	return doc, true, nil
}

// HandleMessage returns a Kafka MessageHandler that applies each mutation
// event to the index. Undecodable and invalid events are logged and
// acknowledged so they do not block the partition.
func (a *Applier) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[model.MutationEvent](value)
		if err != nil {
			a.logger.Error("failed to decode mutation event", "key", string(key), "error", err)
			return nil
		}
		err = a.Apply(ctx, ev)
		if errors.Is(err, apperrors.ErrIndex) {
			a.logger.Error("rejected mutation event", "doc_id", ev.DocumentID, "error", err)
			return nil
		}
		return err
	}
}
