package domain

import (
	"errors"
	"fmt"
)

// ErrRateLimited: повторяемая ошибка: лимит оценки стоимости исчерпан, попробуйте позже.
var ErrRateLimited = errors.New("rate limit exceeded: try again later")

// SamplingError оборачивает сбой чтения метрик ОС.
type SamplingError struct {
	Op  string
	Err error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("sampling %s: %v", e.Op, e.Err)
}

func (e *SamplingError) Unwrap() error { return e.Err }

// InvalidTokenCountError: отрицательное количество токенов.
type InvalidTokenCountError struct {
	Field string
	Value int64
}

func (e *InvalidTokenCountError) Error() string {
	return fmt.Sprintf("invalid token count: %s=%d must be non-negative", e.Field, e.Value)
}

// InvalidCurrencyError: отрицательная или нечисловая сумма.
type InvalidCurrencyError struct {
	Field string
	Value string
}

func (e *InvalidCurrencyError) Error() string {
	return fmt.Sprintf("invalid currency amount: %s=%s", e.Field, e.Value)
}

// PricingNotFoundError: ни точного, ни нечеткого тарифа, и нет тарифа по умолчанию.
type PricingNotFoundError struct {
	Provider string
	Model    string
}

func (e *PricingNotFoundError) Error() string {
	return fmt.Sprintf("pricing not found for %s/%s", e.Provider, e.Model)
}

// JournalCorruptionError: журнал на диске не разбирается как JSON.
type JournalCorruptionError struct {
	Path        string
	Quarantined string
	Err         error
}

func (e *JournalCorruptionError) Error() string {
	return fmt.Sprintf("journal %s is corrupt (moved to %s): %v", e.Path, e.Quarantined, e.Err)
}

func (e *JournalCorruptionError) Unwrap() error { return e.Err }
