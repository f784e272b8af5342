package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/mindx-monitoring/internal/console/handler"
	"github.com/xela07ax/mindx-monitoring/internal/domain"
	"github.com/xela07ax/mindx-monitoring/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// nil: авторизация выключена (нет auth.public_key_path)
	authValidator auth.TokenValidator
	gatherer      prometheus.Gatherer

	costHandler   *handler.CostHandler   // /v1/cost, /v1/llm-calls
	statsHandler  *handler.StatsHandler  // /v1/usage, /v1/performance, /v1/alerts, /v1/tokens
	reportHandler *handler.ReportHandler // /v1/reports
}

// NewConsoleServer собирает API мониторинга. validator и gatherer могут быть nil.
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	gatherer prometheus.Gatherer,
	costH *handler.CostHandler,
	statsH *handler.StatsHandler,
	reportH *handler.ReportHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		gatherer:      gatherer,
		costHandler:   costH,
		statsHandler:  statsH,
		reportHandler: reportH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256, если задан публичный ключ) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		}

		// Запись: оценка стоимости и отчеты о вызовах
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeUsageWrite))
			r.Post("/v1/cost/estimate", s.costHandler.Estimate)
			r.Post("/v1/llm-calls", s.costHandler.LogCall)
			r.Post("/v1/reports", s.reportHandler.Export)
		})

		// Чтение статистики
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeUsageRead))
			r.Get("/v1/usage", s.statsHandler.Usage)
			r.Get("/v1/performance", s.statsHandler.Performance)
			r.Get("/v1/alerts", s.statsHandler.Alerts)
			r.Get("/v1/tokens", s.statsHandler.Tokens)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
