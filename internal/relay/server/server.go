package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/rvs-verify/internal/metrics"
	"github.com/xela07ax/rvs-verify/internal/relay/handler"
	"go.uber.org/zap"
)

// RelayServer — локальный ретранслятор к внешнему API верификации.
type RelayServer struct {
	router   *chi.Mux
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	journal  JournalRecorder

	queryHandler        *handler.QueryHandler        // /query*
	livenessHandler     *handler.LivenessHandler     // /liveness, /liveness_result
	verificationHandler *handler.VerificationHandler // /store_verification
}

// NewRelayServer инициализирует сервер со всеми зависимостями
func NewRelayServer(
	logger *zap.Logger,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	j JournalRecorder,
	queryH *handler.QueryHandler,
	livenessH *handler.LivenessHandler,
	verificationH *handler.VerificationHandler,
) *RelayServer {
	s := &RelayServer{
		router:              chi.NewRouter(),
		logger:              logger.Named("relay-api"),
		metrics:             m,
		gatherer:            gatherer,
		journal:             j,
		queryHandler:        queryH,
		livenessHandler:     livenessH,
		verificationHandler: verificationH,
	}

	s.routes()
	return s
}

func (s *RelayServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(observe(s.logger, s.metrics, s.journal))
	r.Use(middleware.Recoverer)

	// --- 2. Служебные ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. Проксирование во внешний API ---
	r.Route("/query", func(r chi.Router) {
		r.Post("/", s.queryHandler.Query)
		r.Post("/qr", s.queryHandler.QueryQR)
		r.Post("/qr/check", s.queryHandler.CheckQR)
	})

	// --- 4. Liveness ---
	r.Get("/liveness", s.livenessHandler.Page)
	r.Route("/liveness_result", func(r chi.Router) {
		r.Get("/", s.livenessHandler.Get)
		r.Post("/", s.livenessHandler.Post)
		r.Delete("/", s.livenessHandler.Delete)
	})

	// --- 5. Сохранение результата ---
	r.Post("/store_verification", s.verificationHandler.Store)
}

// ServeHTTP позволяет использовать RelayServer как стандартный http.Handler
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
