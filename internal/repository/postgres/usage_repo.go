package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

// usageColumns: колонки таблицы llm_usage в порядке вставки.
var usageColumns = []string{
	"id", "timestamp", "provider", "model", "task", "agent_id",
	"prompt_tokens", "completion_tokens", "cost_usd", "latency_ms", "success", "error_type",
}

const usageSchema = `CREATE TABLE IF NOT EXISTS llm_usage (
	id                TEXT PRIMARY KEY,
	timestamp         TIMESTAMPTZ NOT NULL,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	task              TEXT NOT NULL DEFAULT '',
	agent_id          TEXT NOT NULL DEFAULT '',
	prompt_tokens     BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	cost_usd          NUMERIC(20, 6) NOT NULL,
	latency_ms        DOUBLE PRECISION NOT NULL,
	success           BOOLEAN NOT NULL,
	error_type        TEXT NOT NULL DEFAULT ''
)`

// UsageRepo: зеркало журнала использования в Postgres.
type UsageRepo struct {
	db *sql.DB
}

func OpenDB(connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func NewUsageRepo(db *sql.DB) *UsageRepo {
	return &UsageRepo{db: db}
}

// EnsureSchema создает таблицу, если ее нет.
func (r *UsageRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, usageSchema); err != nil {
		return fmt.Errorf("ensure llm_usage schema: %w", err)
	}
	return nil
}

func (r *UsageRepo) WriteBatch(ctx context.Context, records []domain.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	query, args := buildUsageInsert(records)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d usage records: %w", len(records), err)
	}
	return nil
}

// buildUsageInsert строит один многострочный INSERT. Повторная вставка той же записи игнорируется.
func buildUsageInsert(records []domain.UsageRecord) (string, []any) {
	numFields := len(usageColumns)
	var b strings.Builder
	args := make([]any, 0, len(records)*numFields)

	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < numFields; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*numFields+j+1)
		}
		b.WriteByte(')')

		args = append(args,
			rec.ID, rec.Timestamp, rec.Provider, rec.Model, rec.Task, rec.AgentID,
			rec.PromptTokens, rec.CompletionTokens, rec.CostUSD.StringFixed(6), rec.LatencyMs, rec.Success, rec.ErrorType,
		)
	}

	query := fmt.Sprintf("INSERT INTO llm_usage (%s) VALUES %s ON CONFLICT (id) DO NOTHING",
		strings.Join(usageColumns, ", "), b.String())
	return query, args
}
