package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/tokens"
)

type CostEstimator interface {
	EstimateCost(ctx context.Context, provider, model string, promptTokens, completionTokens int64) (decimal.Decimal, error)
}

type CallLogger interface {
	LogCall(ctx context.Context, r tokens.UsageReport) (domain.LLMCallRecord, error)
}

type CostHandler struct {
	estimator CostEstimator
	calls     CallLogger
	logger    *zap.Logger
}

func NewCostHandler(estimator CostEstimator, calls CallLogger, logger *zap.Logger) *CostHandler {
	return &CostHandler{estimator: estimator, calls: calls, logger: logger}
}

type EstimateRequest struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

type EstimateResponse struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	CostUSD  decimal.Decimal `json:"cost_usd"`
}

// Estimate считает стоимость без записи в журнал.
// POST /v1/cost/estimate
func (h *CostHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	cost, err := h.estimator.EstimateCost(r.Context(), req.Provider, req.Model, req.PromptTokens, req.CompletionTokens)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("cost estimation failed", zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, EstimateResponse{Provider: req.Provider, Model: req.Model, CostUSD: cost})
}

// LogCall принимает отчет агента о вызове LLM.
// POST /v1/llm-calls
func (h *CostHandler) LogCall(w http.ResponseWriter, r *http.Request) {
	var req tokens.UsageReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	rec, err := h.calls.LogCall(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("llm call logging failed", zap.String("model", req.Model), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}
