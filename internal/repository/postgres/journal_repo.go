package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xela07ax/rvs-verify/internal/journal"
)

type JournalRepo struct {
	db *sql.DB
}

func NewJournalRepo(db *sql.DB) *JournalRepo {
	return &JournalRepo{db: db}
}

func (r *JournalRepo) WriteBatch(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице relay_journal
	const numFields = 8
	var sb strings.Builder
	vals := make([]any, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		var errText sql.NullString
		if e.Error != "" {
			errText = sql.NullString{String: e.Error, Valid: true}
		}
		vals = append(vals, e.ID, e.TraceID, e.Method, e.Path, e.Status, e.DurationMs, errText, e.Timestamp)
	}

	query := "INSERT INTO relay_journal (id, trace_id, method, path, status, duration_ms, error, created_at) VALUES " + sb.String()

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write journal batch: %w", err)
	}
	return nil
}
