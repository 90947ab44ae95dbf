// Package semantic reaches the external vector search service over the
// JSON-over-TCP RPC layer. It implements hybrid.SemanticSearcher.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/proto"
)

// Client is a semantic searcher backed by an RPC connection.
type Client struct {
	rpc    *grpc.Client
	logger *slog.Logger
}

// New returns a client that dials addr on first use, so the service can
// start before the semantic backend is reachable.
func New(addr string, dialTimeout time.Duration) *Client {
	return &Client{
		rpc:    grpc.NewLazy(addr, dialTimeout),
		logger: logger.WithComponent("semantic-client"),
	}
}

// Search returns up to topK documents ranked by vector similarity. Hits
// without a document id are dropped.
func (c *Client) Search(ctx context.Context, query string, filters map[string]any, topK int) ([]model.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	var resp proto.SemanticSearchResponse
	err := c.rpc.CallContext(ctx, proto.MethodSemanticSearch, &proto.SemanticSearchRequest{
		Query:   query,
		Filters: filters,
		TopK:    int32(topK),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	results := make([]model.SearchResult, 0, min(len(resp.Results), topK))
	for _, hit := range resp.Results {
		if len(results) == topK {
			break
		}
		if hit.DocID == "" {
			logger.FromContext(ctx).Warn("dropping malformed semantic hit", "doc_id", hit.DocID, "score", hit.Score)
			continue
		}
		results = append(results, model.SearchResult{
			DocumentID:   hit.DocID,
			Content:      hit.Content,
			Score:        hit.Score,
			Metadata:     hit.Metadata,
			SearchMethod: model.MethodSemantic,
			Rank:         len(results) + 1,
		})
	}
	c.logger.Debug("semantic search", "query", query, "results", len(results), "remote_latency_ms", resp.LatencyMs)
	return results, nil
}

// Ping asks the service for its health status and fails unless it is
// serving.
func (c *Client) Ping(ctx context.Context) error {
	var resp proto.HealthCheckResponse
	if err := c.rpc.CallContext(ctx, proto.MethodHealth, &proto.HealthCheckRequest{}, &resp); err != nil {
		return fmt.Errorf("semantic health: %w", err)
	}
	if resp.Status != proto.StatusServing {
		return fmt.Errorf("semantic service status %s", resp.Status)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}
