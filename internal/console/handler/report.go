package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type ReportExporter interface {
	Export(ctx context.Context, path string) (string, error)
}

type ReportHandler struct {
	exporter ReportExporter
	logger   *zap.Logger
}

func NewReportHandler(exporter ReportExporter, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{exporter: exporter, logger: logger}
}

type ReportResponse struct {
	Path string `json:"path"`
}

// Export пишет отчет в каталог экспорта. Путь выбирает сервер, не клиент.
// POST /v1/reports
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	path, err := h.exporter.Export(r.Context(), "")
	if err != nil {
		h.logger.Error("report export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export report")
		return
	}
	writeJSON(w, http.StatusCreated, ReportResponse{Path: path})
}
