package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/xela07ax/rvs-verify/internal/journal"
	"github.com/xela07ax/rvs-verify/internal/metrics"
	"go.uber.org/zap"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

const traceHeader = "X-Trace-ID"

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Если пришел от координатора, берем его, иначе генерируем новый
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		w.Header().Set(traceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID безопасно достает ID в любом месте кода
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}

// JournalRecorder — неблокирующая запись в журнал ретранслятора.
type JournalRecorder interface {
	Record(e journal.Entry)
}

// observe пишет метрики, журнал и строку в лог по завершении запроса.
func observe(logger *zap.Logger, m *metrics.Metrics, j JournalRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}

			if m != nil {
				m.TotalRequests.WithLabelValues(route).Inc()
				m.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
			}

			traceID := TraceID(r.Context())
			if j != nil && route != "/metrics" && route != "/health" {
				e := journal.Entry{
					TraceID:    traceID,
					Method:     r.Method,
					Path:       route,
					Status:     status,
					DurationMs: elapsed.Milliseconds(),
				}
				if status >= http.StatusInternalServerError {
					e.Error = http.StatusText(status)
				}
				j.Record(e)
			}

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
				zap.String("trace_id", traceID),
			)
		})
	}
}
