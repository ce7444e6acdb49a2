package journal

import "time"

// Entry — одна запись журнала ретранслятора: кто, куда, чем закончилось.
type Entry struct {
	ID         string    `json:"id"`       // UUID записи
	TraceID    string    `json:"trace_id"` // Сквозной ID запроса
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
