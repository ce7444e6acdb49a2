package handler

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/xela07ax/rvs-verify/internal/liveness"
	"go.uber.org/zap"
)

//go:embed templates/liveness.html
var templatesFS embed.FS

var livenessTmpl = template.Must(template.ParseFS(templatesFS, "templates/liveness.html"))

type LivenessHandler struct {
	slot   liveness.Slot
	logger *zap.Logger
}

func NewLivenessHandler(slot liveness.Slot, logger *zap.Logger) *LivenessHandler {
	return &LivenessHandler{slot: slot, logger: logger.Named("liveness")}
}

// Page GET /liveness — страница проверки, открывается в браузере оператора.
func (h *LivenessHandler) Page(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]string{"ResultURL": "/liveness_result"}
	if err := livenessTmpl.Execute(w, data); err != nil {
		h.logger.Error("render liveness page", zap.Error(err))
	}
}

// Post POST /liveness_result — перезаписывает слот.
func (h *LivenessHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"face_liveness_session_id"`
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)

	if req.SessionID == "" {
		h.logger.Warn("no session id provided in POST /liveness_result")
		writeError(w, http.StatusBadRequest, "Missing session ID")
		return
	}

	if err := h.slot.Put(r.Context(), req.SessionID); err != nil {
		h.logger.Error("store liveness session id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	h.logger.Info("liveness session id stored", zap.String("session_id", req.SessionID))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Saved."})
}

// Get GET /liveness_result — читает без очистки, пусто: 204.
func (h *LivenessHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok, err := h.slot.Get(r.Context())
	if err != nil {
		h.logger.Error("read liveness session id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"face_liveness_session_id": id})
}

// Delete DELETE /liveness_result: 200 если было что чистить, иначе 204.
func (h *LivenessHandler) Delete(w http.ResponseWriter, r *http.Request) {
	had, err := h.slot.Clear(r.Context())
	if err != nil {
		h.logger.Error("clear liveness session id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if !had {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.logger.Info("liveness session id cleared")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Liveness session ID cleared"})
}
