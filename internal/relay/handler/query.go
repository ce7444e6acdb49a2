package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/rvs-verify/internal/everify"
	"go.uber.org/zap"
)

// Upstream — вызовы внешнего API (everify.Client).
type Upstream interface {
	Query(ctx context.Context, payload []byte) (*everify.Response, error)
	QueryQR(ctx context.Context, payload []byte) (*everify.Response, error)
	CheckQR(ctx context.Context, payload []byte) (*everify.Response, error)
}

// ErrorCounter — учет отказов по типам (метрики).
type ErrorCounter func(kind string)

type QueryHandler struct {
	upstream Upstream
	logger   *zap.Logger
	onError  ErrorCounter
}

func NewQueryHandler(upstream Upstream, logger *zap.Logger, onError ErrorCounter) *QueryHandler {
	if onError == nil {
		onError = func(string) {}
	}
	return &QueryHandler{
		upstream: upstream,
		logger:   logger.Named("query"),
		onError:  onError,
	}
}

// Query POST /query: проверка по персональным данным.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.upstream.Query)
}

func (h *QueryHandler) QueryQR(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.upstream.QueryQR)
}

// CheckQR POST /query/qr/check
func (h *QueryHandler) CheckQR(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, h.upstream.CheckQR)
}

func (h *QueryHandler) relay(w http.ResponseWriter, r *http.Request, call func(context.Context, []byte) (*everify.Response, error)) {
	body, ok := readJSONBody(w, r)
	if !ok {
		h.onError("bad_request")
		return
	}

	resp, err := call(r.Context(), body)
	if err != nil {
		status, msg := upstreamStatus(err)
		h.onError(errorKind(status))
		h.logger.Error("upstream request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
		writeError(w, status, msg)
		return
	}

	// Ответ внешнего API отдаем как есть, вместе со статусом
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func errorKind(status int) string {
	switch status {
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusUnauthorized:
		return "auth"
	default:
		return "unavailable"
	}
}
