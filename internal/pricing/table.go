// Package pricing хранит тарифы моделей и считает стоимость вызовов
// в десятичной арифметике с фиксированной точкой.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

// DefaultKey: провайдер и модель глобального тарифа по умолчанию.
const DefaultKey = "default"

// PriceTable: неизменяемая после загрузки таблица тарифов.
type PriceTable struct {
	// provider -> model -> entry, ключи в нижнем регистре
	entries  map[string]map[string]domain.PriceTableEntry
	fallback *domain.PriceTableEntry
	source   string
}

// fileFormat: формат llm_pricing_config.json.
type fileFormat struct {
	Pricing map[string]map[string]struct {
		Input  *json.Number `json:"input"`
		Output *json.Number `json:"output"`
	} `json:"pricing_per_1M_tokens"`
}

// NewPriceTable собирает таблицу из записей. Запись default/default становится глобальным тарифом.
func NewPriceTable(entries []domain.PriceTableEntry) (*PriceTable, error) {
	t := &PriceTable{entries: make(map[string]map[string]domain.PriceTableEntry), source: "inline"}
	for _, e := range entries {
		if e.InputCostPerMillionTokens.IsNegative() || e.OutputCostPerMillionTokens.IsNegative() {
			return nil, fmt.Errorf("pricing %s/%s: rates must be non-negative", e.Provider, e.Model)
		}
		p, m := normalizeKey(e.Provider), normalizeKey(e.Model)
		if p == "" || m == "" {
			return nil, fmt.Errorf("pricing entry with empty provider or model")
		}
		if p == DefaultKey && m == DefaultKey {
			fb := e
			t.fallback = &fb
			continue
		}
		if t.entries[p] == nil {
			t.entries[p] = make(map[string]domain.PriceTableEntry)
		}
		t.entries[p][m] = e
	}
	return t, nil
}

// LoadPriceTable читает конфиг тарифов. При отсутствии файла или ошибке
// валидации возвращает таблицу по умолчанию и пишет предупреждение.
func LoadPriceTable(path string, logger *zap.Logger) *PriceTable {
	t, err := ParsePriceTableFile(path)
	if err != nil {
		logger.Warn("pricing config unusable, falling back to built-in table",
			zap.String("path", path), zap.Error(err))
		return DefaultPriceTable()
	}
	logger.Info("pricing config loaded", zap.String("path", path), zap.Int("models", t.Len()))
	return t
}

// ParsePriceTableFile читает и валидирует файл без подстановки значений по умолчанию.
func ParsePriceTableFile(path string) (*PriceTable, error) {
	if path == "" {
		return nil, errors.New("pricing config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}
	return ParsePriceTable(data)
}

func ParsePriceTable(data []byte) (*PriceTable, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode pricing config: %w", err)
	}
	if len(f.Pricing) == 0 {
		return nil, errors.New("pricing config has no pricing_per_1M_tokens section")
	}

	var entries []domain.PriceTableEntry
	for provider, models := range f.Pricing {
		for model, rates := range models {
			if rates.Input == nil || rates.Output == nil {
				return nil, fmt.Errorf("pricing %s/%s: input and output rates are required", provider, model)
			}
			in, err := decimal.NewFromString(rates.Input.String())
			if err != nil {
				return nil, fmt.Errorf("pricing %s/%s: input rate: %w", provider, model, err)
			}
			out, err := decimal.NewFromString(rates.Output.String())
			if err != nil {
				return nil, fmt.Errorf("pricing %s/%s: output rate: %w", provider, model, err)
			}
			entries = append(entries, domain.PriceTableEntry{
				Provider:                   provider,
				Model:                      model,
				InputCostPerMillionTokens:  in,
				OutputCostPerMillionTokens: out,
			})
		}
	}
	t, err := NewPriceTable(entries)
	if err != nil {
		return nil, err
	}
	t.source = "file"
	return t, nil
}

// Len: количество тарифов без учета глобального.
func (t *PriceTable) Len() int {
	n := 0
	for _, models := range t.entries {
		n += len(models)
	}
	return n
}

// Source: "file", "default" или "inline".
func (t *PriceTable) Source() string { return t.source }

// Entries возвращает все тарифы, отсортированные по провайдеру и модели.
func (t *PriceTable) Entries() []domain.PriceTableEntry {
	out := make([]domain.PriceTableEntry, 0, t.Len())
	for _, models := range t.entries {
		for _, e := range models {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// fuzzyKey убирает регистр и пунктуацию: "GPT-4o_Mini" -> "gpt4omini".
func fuzzyKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
