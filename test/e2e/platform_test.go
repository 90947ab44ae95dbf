// Package e2e contains end-to-end tests against a running `ragcore serve`:
// health → search → cache → invalidation, and, when a broker is configured,
// mutation event → index → search.
//
// Prerequisites:
//   - ragcore serve running with a corpus loaded
//   - Kafka running and ragcore started with kafka.enabled (mutation test only)
//
// Run with:
//
//	go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/kafka"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

type e2eConfig struct {
	BaseURL        string
	KafkaBrokers   string
	MutationsTopic string
	IndexWait      int
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		BaseURL:        envOrDefault("E2E_RAGCORE_URL", "http://localhost:8080"),
		KafkaBrokers:   os.Getenv("E2E_KAFKA_BROKERS"),
		MutationsTopic: envOrDefault("E2E_MUTATIONS_TOPIC", "document-mutations"),
		IndexWait:      envOrDefaultInt("E2E_INDEX_WAIT_SECONDS", 30),
	}
}

// requireService skips the test when ragcore is not reachable.
func requireService(t *testing.T, client *http.Client, cfg e2eConfig) {
	t.Helper()
	resp, err := client.Get(cfg.BaseURL + "/health/live")
	if err != nil {
		t.Skipf("ragcore unavailable: %v", err)
	}
	resp.Body.Close()
}

func getJSON(t *testing.T, client *http.Client, u string, out any) int {
	t.Helper()
	resp, err := client.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", u, err)
		}
	}
	return resp.StatusCode
}

type searchResponse struct {
	Results []struct {
		DocumentID    string   `json:"document_id"`
		FusedScore    float64  `json:"fused_score"`
		SearchMethods []string `json:"search_methods"`
	} `json:"results"`
	QueryInfo struct {
		RequestedMode    string `json:"requested_mode"`
		EffectiveMode    string `json:"effective_mode"`
		DegradationCause string `json:"degradation_cause"`
		Cache            string `json:"cache"`
	} `json:"query_info"`
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestHealth verifies the liveness and readiness endpoints respond.
func TestHealth(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			resp, err := client.Get(cfg.BaseURL + path)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestSearchIsCached issues the same query twice and expects the second
// answer to come from the cache with identical results.
func TestSearchIsCached(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}
	requireService(t, client, cfg)

	q := url.Values{"q": {fmt.Sprintf("cache probe %d", time.Now().UnixNano())}, "mode": {"lexical"}}
	var first, second searchResponse
	if code := getJSON(t, client, cfg.BaseURL+"/api/v1/search?"+q.Encode(), &first); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	getJSON(t, client, cfg.BaseURL+"/api/v1/search?"+q.Encode(), &second)

	if first.QueryInfo.Cache == "bypass" {
		t.Skip("response cache is disabled")
	}
	if first.QueryInfo.Cache != "fetched" {
		t.Errorf("first lookup: expected fetched, got %q", first.QueryInfo.Cache)
	}
	if second.QueryInfo.Cache != "hit_l1" && second.QueryInfo.Cache != "hit_l2" {
		t.Errorf("second lookup: expected a cache hit, got %q", second.QueryInfo.Cache)
	}
	if len(first.Results) != len(second.Results) {
		t.Errorf("cached results differ: %d vs %d", len(first.Results), len(second.Results))
	}
}

// TestHybridSearchReportsMode checks that a hybrid request either runs both
// paths or reports why it degraded.
func TestHybridSearchReportsMode(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}
	requireService(t, client, cfg)

	q := url.Values{"q": {"machine learning"}, "mode": {"hybrid"}, "no_cache": {"true"}}
	var resp searchResponse
	if code := getJSON(t, client, cfg.BaseURL+"/api/v1/search?"+q.Encode(), &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.QueryInfo.RequestedMode != "hybrid" {
		t.Errorf("requested mode: %q", resp.QueryInfo.RequestedMode)
	}
	if resp.QueryInfo.EffectiveMode == "lexical" && resp.QueryInfo.DegradationCause == "" {
		t.Error("degraded search did not report a cause")
	}
	t.Logf("effective_mode=%s cause=%q results=%d",
		resp.QueryInfo.EffectiveMode, resp.QueryInfo.DegradationCause, len(resp.Results))
}

// TestManualInvalidation drops the search data type and expects the audit
// trail to record it.
func TestManualInvalidation(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}
	requireService(t, client, cfg)

	reason := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	resp, err := client.Post(cfg.BaseURL+"/api/v1/cache/invalidate", "application/json",
		strings.NewReader(fmt.Sprintf(`{"data_type":"search","reason":%q}`, reason)))
	if err != nil {
		t.Fatalf("invalidate request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("response cache is disabled")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var audit []model.InvalidationEvent
	getJSON(t, client, cfg.BaseURL+"/api/v1/cache/audit?limit=20", &audit)
	for _, ev := range audit {
		if string(ev.Reason) == reason {
			if ev.Key != "search:*" {
				t.Errorf("audit key: %q", ev.Key)
			}
			return
		}
	}
	t.Errorf("invalidation with reason %q missing from audit trail", reason)
}

// TestStats verifies the stats endpoint reports search and index totals.
func TestStats(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}
	requireService(t, client, cfg)

	var stats map[string]any
	if code := getJSON(t, client, cfg.BaseURL+"/api/v1/stats", &stats); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	for _, field := range []string{"search", "index"} {
		if _, ok := stats[field]; !ok {
			t.Errorf("missing expected field: %s", field)
		}
	}
	t.Logf("stats: %v", stats)
}

// TestMutationReachesSearch publishes a create event and polls until the
// new document is searchable.
func TestMutationReachesSearch(t *testing.T) {
	cfg := loadE2EConfig()
	if cfg.KafkaBrokers == "" {
		t.Skip("E2E_KAFKA_BROKERS not set")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	requireService(t, client, cfg)

	producer := kafka.NewProducer(config.KafkaConfig{Brokers: strings.Split(cfg.KafkaBrokers, ",")}, cfg.MutationsTopic)
	defer producer.Close()

	uniqueWord := fmt.Sprintf("e2etest%d", time.Now().UnixNano())
	docID := "e2e-" + uniqueWord
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := producer.Publish(ctx, kafka.Event{Key: docID, Value: model.MutationEvent{
		EventType:  model.EventCreate,
		Collection: "documents",
		DocumentID: docID,
		NewData:    map[string]any{"content": "end-to-end document containing " + uniqueWord},
	}})
	if err != nil {
		t.Fatalf("publishing mutation: %v", err)
	}

	q := url.Values{"q": {uniqueWord}, "mode": {"lexical"}, "spell": {"false"}}
	for attempt := 0; attempt < cfg.IndexWait; attempt++ {
		time.Sleep(time.Second)
		var resp searchResponse
		if getJSON(t, client, cfg.BaseURL+"/api/v1/search?"+q.Encode(), &resp) != http.StatusOK {
			continue
		}
		if len(resp.Results) > 0 && resp.Results[0].DocumentID == docID {
			t.Logf("document searchable after %d seconds (cache=%s)", attempt+1, resp.QueryInfo.Cache)
			return
		}
	}
	t.Errorf("document %s not searchable within %ds", docID, cfg.IndexWait)
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
