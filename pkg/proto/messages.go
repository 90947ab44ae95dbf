// Package proto defines the message types exchanged with the external
// semantic search service over the JSON-over-TCP RPC layer (see pkg/grpc).
package proto

// RPC method names served by the semantic search service.
const (
	MethodSemanticSearch = "SemanticService.Search"
	MethodHealth         = "SemanticService.Health"
)

// Health statuses, mirroring the gRPC health check values.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
	StatusUnknown    = "UNKNOWN"
)

// HealthCheckRequest is the input to the Health RPC.
type HealthCheckRequest struct {
	Service string `json:"service,omitempty"`
}

// HealthCheckResponse mirrors the gRPC health checking protocol.
type HealthCheckResponse struct {
	Status string `json:"status"`
}

// SemanticSearchRequest is the input to the Search RPC. Filters are exact
// metadata matches applied by the service.
type SemanticSearchRequest struct {
	Query   string         `json:"query"`
	Filters map[string]any `json:"filters,omitempty"`
	TopK    int32          `json:"top_k"`
}

// SemanticSearchResponse is the output of the Search RPC. Results are in
// descending score order.
type SemanticSearchResponse struct {
	Results   []SemanticHit `json:"results"`
	LatencyMs int64         `json:"latency_ms"`
}

// SemanticHit is one document returned by vector similarity.
type SemanticHit struct {
	DocID    string         `json:"doc_id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
