package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llm_pricing_config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParsePriceTable(t *testing.T) {
	table, err := ParsePriceTable([]byte(`{
		"pricing_per_1M_tokens": {
			"openai": {"gpt-4o": {"input": 2.5, "output": 10}},
			"gemini": {"gemini-1.5-flash": {"input": 0.075, "output": 0.3}}
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, "file", table.Source())

	entries := table.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "gemini", entries[0].Provider)
	assert.True(t, entries[0].InputCostPerMillionTokens.Equal(decimal.RequireFromString("0.075")))
}

func TestParsePriceTableRejectsNegativeAndMissing(t *testing.T) {
	_, err := ParsePriceTable([]byte(`{"pricing_per_1M_tokens": {"a": {"b": {"input": -1, "output": 1}}}}`))
	assert.Error(t, err)

	_, err = ParsePriceTable([]byte(`{"pricing_per_1M_tokens": {"a": {"b": {"input": 1}}}}`))
	assert.Error(t, err)

	_, err = ParsePriceTable([]byte(`{}`))
	assert.Error(t, err)

	_, err = ParsePriceTable([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoadPriceTableFallsBackToDefault(t *testing.T) {
	logger := zap.NewNop()

	table := LoadPriceTable(filepath.Join(t.TempDir(), "missing.json"), logger)
	assert.Equal(t, "default", table.Source())

	table = LoadPriceTable(writeFile(t, `{"pricing_per_1M_tokens": {"a": {"b": {"input": -3, "output": 1}}}}`), logger)
	assert.Equal(t, "default", table.Source())

	table = LoadPriceTable(writeFile(t, `{"pricing_per_1M_tokens": {"a": {"b": {"input": 3, "output": 1}}}}`), logger)
	assert.Equal(t, "file", table.Source())
	assert.Equal(t, 1, table.Len())
}
