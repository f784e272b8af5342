package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

// CostPrecision: знаков после запятой в денежных суммах.
const CostPrecision = 6

type Calculator struct {
	table  *PriceTable
	logger *zap.Logger
}

func NewCalculator(table *PriceTable, logger *zap.Logger) *Calculator {
	if table == nil {
		table = DefaultPriceTable()
	}
	return &Calculator{table: table, logger: logger.Named("pricing")}
}

func (c *Calculator) Table() *PriceTable { return c.table }

// Lookup ищет тариф: точное совпадение, затем нечеткое (сначала внутри
// провайдера, потом по всем), затем глобальный тариф.
func (c *Calculator) Lookup(provider, model string) (domain.PriceTableEntry, error) {
	p, m := normalizeKey(provider), normalizeKey(model)

	if e, ok := c.table.entries[p][m]; ok {
		return e, nil
	}

	if e, score := fuzzyMatch(c.table.entries[p], model); score > 0 {
		return e, nil
	}

	providers := make([]string, 0, len(c.table.entries))
	for name := range c.table.entries {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	var best domain.PriceTableEntry
	bestScore := 0
	for _, name := range providers {
		if e, score := fuzzyMatch(c.table.entries[name], model); score > bestScore {
			best, bestScore = e, score
		}
	}
	if bestScore > 0 {
		return best, nil
	}

	if c.table.fallback != nil {
		c.logger.Debug("no pricing match, using default rate",
			zap.String("provider", provider), zap.String("model", model))
		return *c.table.fallback, nil
	}
	return domain.PriceTableEntry{}, &domain.PricingNotFoundError{Provider: provider, Model: model}
}

// fuzzyMatch сравнивает имена без учета регистра и пунктуации.
// Ключ, входящий в имя модели, важнее имени, входящего в ключ;
// среди первых выигрывает самый длинный, среди вторых самый короткий.
// Нулевой score означает отсутствие совпадения.
func fuzzyMatch(models map[string]domain.PriceTableEntry, model string) (domain.PriceTableEntry, int) {
	const tier = 1 << 16

	target := fuzzyKey(model)
	if target == "" {
		return domain.PriceTableEntry{}, 0
	}

	keys := make([]string, 0, len(models))
	for k := range models {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var best domain.PriceTableEntry
	bestScore := 0
	for _, k := range keys {
		candidate := fuzzyKey(k)
		if candidate == "" || len(candidate) >= tier/2 {
			continue
		}
		score := 0
		switch {
		case strings.Contains(target, candidate):
			score = tier + len(candidate)
		case strings.Contains(candidate, target):
			score = tier/2 - len(candidate)
		}
		if score > bestScore {
			best, bestScore = models[k], score
		}
	}
	return best, bestScore
}

// Cost считает (tokens / 1e6) * rate для входа и выхода и округляет
// половину вверх до 6 знаков. Отрицательные токены — ошибка, без обрезки до нуля.
func (c *Calculator) Cost(provider, model string, promptTokens, completionTokens int64) (decimal.Decimal, error) {
	if err := ValidateTokens(promptTokens, completionTokens); err != nil {
		c.logger.Warn("rejected cost calculation",
			zap.String("provider", provider), zap.String("model", model), zap.Error(err))
		return decimal.Zero, err
	}

	entry, err := c.Lookup(provider, model)
	if err != nil {
		return decimal.Zero, err
	}
	return CostFor(entry, promptTokens, completionTokens), nil
}

// CostFor применяет тариф без поиска. Токены должны быть уже проверены.
func CostFor(entry domain.PriceTableEntry, promptTokens, completionTokens int64) decimal.Decimal {
	in := decimal.NewFromInt(promptTokens).Mul(entry.InputCostPerMillionTokens).Shift(-6)
	out := decimal.NewFromInt(completionTokens).Mul(entry.OutputCostPerMillionTokens).Shift(-6)
	return in.Add(out).Round(CostPrecision)
}

func ValidateTokens(promptTokens, completionTokens int64) error {
	if promptTokens < 0 {
		return &domain.InvalidTokenCountError{Field: "prompt_tokens", Value: promptTokens}
	}
	if completionTokens < 0 {
		return &domain.InvalidTokenCountError{Field: "completion_tokens", Value: completionTokens}
	}
	return nil
}

// RoundCost приводит внешнюю сумму к денежной точности.
func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostPrecision)
}
