package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/rvs-verify/internal/domain"
	"github.com/xela07ax/rvs-verify/internal/relay/service"
	"go.uber.org/zap"
)

type VerificationStorer interface {
	Store(ctx context.Context, p service.Person) (*domain.VerificationRecord, error)
}

type VerificationHandler struct {
	service VerificationStorer
	logger  *zap.Logger
}

func NewVerificationHandler(s VerificationStorer, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{service: s, logger: logger.Named("store-verification")}
}

// Store POST /store_verification. Тело: {"data": {"data": {...person...}}}.
func (h *VerificationHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data *struct {
			Data service.Person `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Data == nil {
		writeError(w, http.StatusBadRequest, "Missing wrapper")
		return
	}

	rec, err := h.service.Store(r.Context(), req.Data.Data)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrDuplicate):
			writeError(w, http.StatusConflict, "Verification already stored.")
		default:
			h.logger.Error("database error while storing verification", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to store verification.")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Verification stored successfully",
		"id":       rec.ID,
		"face_key": rec.FaceKey,
	})
}
