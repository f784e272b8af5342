package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type rate struct {
	provider, model string
	input, output   string
}

// Встроенные тарифы (USD за 1M токенов).
var builtinRates = []rate{
	{"openai", "gpt-4o", "2.50", "10.00"},
	{"openai", "gpt-4o-mini", "0.15", "0.60"},
	{"openai", "gpt-4-turbo", "10.00", "30.00"},
	{"openai", "gpt-4", "30.00", "60.00"},
	{"openai", "gpt-3.5-turbo", "0.50", "1.50"},
	{"openai", "o1", "15.00", "60.00"},
	{"openai", "o1-mini", "3.00", "12.00"},
	{"openai", "o3-mini", "1.10", "4.40"},

	{"anthropic", "claude-opus-4", "15.00", "75.00"},
	{"anthropic", "claude-sonnet-4", "3.00", "15.00"},
	{"anthropic", "claude-3.5-sonnet", "3.00", "15.00"},
	{"anthropic", "claude-3.5-haiku", "0.80", "4.00"},
	{"anthropic", "claude-3-haiku", "0.25", "1.25"},

	{"gemini", "gemini-2.0-flash", "0.10", "0.40"},
	{"gemini", "gemini-1.5-pro", "1.25", "5.00"},
	{"gemini", "gemini-1.5-flash", "0.075", "0.30"},

	{"mistral", "mistral-large", "2.00", "6.00"},
	{"mistral", "mistral-small", "0.20", "0.60"},

	{"groq", "llama-3.1-70b", "0.59", "0.79"},
	{"groq", "llama-3.1-8b", "0.05", "0.08"},

	{DefaultKey, DefaultKey, "1.00", "3.00"},
}

// DefaultPriceTable: таблица, используемая без конфиг-файла.
func DefaultPriceTable() *PriceTable {
	entries := make([]domain.PriceTableEntry, 0, len(builtinRates))
	for _, r := range builtinRates {
		entries = append(entries, domain.PriceTableEntry{
			Provider:                   r.provider,
			Model:                      r.model,
			InputCostPerMillionTokens:  decimal.RequireFromString(r.input),
			OutputCostPerMillionTokens: decimal.RequireFromString(r.output),
		})
	}
	t, err := NewPriceTable(entries)
	if err != nil {
		panic(err) // встроенная таблица валидна
	}
	t.source = "default"
	return t
}
