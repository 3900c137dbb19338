package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"argus/internal/adapters/clickhouse"
	"argus/internal/adapters/config"
)

// ClickHouseTestHelper manages cleanup for ClickHouse integration tests.
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewClickHouseTestHelper creates a ClickHouse client for tests.
func NewClickHouseTestHelper(t *testing.T, cfg config.ClickHouseConfig) *ClickHouseTestHelper {
	t.Helper()

	client, err := clickhouse.NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}

	helper := &ClickHouseTestHelper{client: client}
	t.Cleanup(func() { _ = client.Close() })
	return helper
}

// Client returns the underlying ClickHouse client.
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// EnsureRequestLog creates the llm_requests table if it does not exist yet.
func (h *ClickHouseTestHelper) EnsureRequestLog(t *testing.T) {
	t.Helper()

	query := `
		CREATE TABLE IF NOT EXISTS llm_requests (
			timestamp         DateTime64(3) CODEC(Delta, ZSTD),
			endpoint          LowCardinality(String),
			model             LowCardinality(String),
			request_type      LowCardinality(String),
			latency_ms        Float64,
			prompt_tokens     UInt32,
			completion_tokens UInt32,
			cost_usd          Float64,
			quality_score     Float64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, endpoint, model)`

	if err := h.client.Exec(context.Background(), query); err != nil {
		t.Fatalf("failed to create llm_requests table: %v", err)
	}
}

// RegisterTableCleanup schedules cleanup of specific table data after test completes.
// Used with shared tables that shouldn't be dropped.
func (h *ClickHouseTestHelper) RegisterTableCleanup(t *testing.T, table, condition string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// DELETE for immediate cleanup (ALTER TABLE DELETE is async)
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, condition)
		_ = h.client.Exec(ctx, query)
	})
}

// CleanupTableData deletes data matching a filter condition immediately.
func (h *ClickHouseTestHelper) CleanupTableData(ctx context.Context, table, condition string) error {
	query := fmt.Sprintf("ALTER TABLE %s DELETE WHERE %s", table, condition)
	return h.client.Exec(ctx, query)
}

// RequestRow is one seeded llm_requests entry.
type RequestRow struct {
	Timestamp        time.Time `ch:"timestamp"`
	Endpoint         string    `ch:"endpoint"`
	Model            string    `ch:"model"`
	RequestType      string    `ch:"request_type"`
	LatencyMS        float64   `ch:"latency_ms"`
	PromptTokens     uint32    `ch:"prompt_tokens"`
	CompletionTokens uint32    `ch:"completion_tokens"`
	CostUSD          float64   `ch:"cost_usd"`
	QualityScore     float64   `ch:"quality_score"`
}

// InsertLLMRequests is the batch insert statement for seeded request rows.
const InsertLLMRequests = `
	INSERT INTO llm_requests (
		timestamp, endpoint, model, request_type,
		latency_ms, prompt_tokens, completion_tokens, cost_usd, quality_score
	)
`

// SeedRequests inserts request rows as a single batch.
func (h *ClickHouseTestHelper) SeedRequests(t *testing.T, rows []RequestRow) {
	t.Helper()

	if len(rows) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := h.client.Conn().PrepareBatch(ctx, InsertLLMRequests)
	if err != nil {
		t.Fatalf("failed to prepare batch: %v", err)
	}

	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			t.Fatalf("failed to append row to batch: %v", err)
		}
	}

	if err := batch.Send(); err != nil {
		t.Fatalf("failed to send batch: %v", err)
	}
}
