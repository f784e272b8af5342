package domain

import "github.com/shopspring/decimal"

// PriceTableEntry: тариф модели в USD за 1M токенов.
type PriceTableEntry struct {
	Provider                   string          `json:"provider"`
	Model                      string          `json:"model"`
	InputCostPerMillionTokens  decimal.Decimal `json:"input_cost_per_million_tokens"`
	OutputCostPerMillionTokens decimal.Decimal `json:"output_cost_per_million_tokens"`
}
