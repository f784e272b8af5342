package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor разделяет ошибки учета на коды ответа.
func statusFor(err error) int {
	var (
		tokenErr    *domain.InvalidTokenCountError
		currencyErr *domain.InvalidCurrencyError
		pricingErr  *domain.PricingNotFoundError
	)
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &tokenErr), errors.As(err, &currencyErr):
		return http.StatusBadRequest
	case errors.As(err, &pricingErr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
