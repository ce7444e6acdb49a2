package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/xela07ax/rvs-verify/internal/everify"
)

const maxBodyBytes = 1 << 20

const (
	msgTimeout       = "eVerify server timeout. Please try again later."
	msgAuthFailed    = "Authentication failed."
	msgMaxRetries    = "Max retries exceeded"
	msgInternalError = "Internal server error."
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// upstreamStatus — ответ клиенту на ошибку вызова внешнего API.
func upstreamStatus(err error) (int, string) {
	switch {
	case errors.Is(err, everify.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, msgTimeout
	case errors.Is(err, everify.ErrAuthFailed):
		return http.StatusUnauthorized, msgAuthFailed
	case errors.Is(err, everify.ErrUpstreamUnavailable):
		return http.StatusInternalServerError, msgMaxRetries
	default:
		return http.StatusInternalServerError, msgInternalError
	}
}

// readJSONBody читает тело и проверяет, что это JSON.
func readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	return body, true
}
