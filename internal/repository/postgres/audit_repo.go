package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xela07ax/rvs-verify/internal/audit"
	"github.com/xela07ax/rvs-verify/internal/domain"
)

const insertActionSQL = `INSERT INTO audit_log (username, action, details) VALUES ($1, $2, $3)`

type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// connect подменяется в тестах, в проде каждая попытка открывает свое pgx-соединение.
var connect = func(ctx context.Context, dsn string) (pgxConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ActionStore — хранилище журнала аудита. Соединение на попытку, без пула:
// сбой одной попытки не оставляет после себя «испорченного» соединения.
type ActionStore struct {
	dsn            string
	connectTimeout time.Duration
}

func NewActionStore(dsn string, connectTimeout time.Duration) *ActionStore {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &ActionStore{dsn: dsn, connectTimeout: connectTimeout}
}

func (s *ActionStore) Open(ctx context.Context) (audit.ActionWriter, error) {
	cctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, err := connect(cctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit connect: %w", err)
	}
	return &actionWriter{conn: conn}, nil
}

type actionWriter struct {
	conn pgxConn
}

func (w *actionWriter) Insert(ctx context.Context, actor, action string, details []byte) error {
	if _, err := w.conn.Exec(ctx, insertActionSQL, actor, action, string(details)); err != nil {
		return fmt.Errorf("postgres: insert audit_log: %w", err)
	}
	return nil
}

func (w *actionWriter) Close(ctx context.Context) error {
	return w.conn.Close(ctx)
}

// ActionRepo — чтение журнала аудита (просмотрщик).
type ActionRepo struct {
	db *sql.DB
}

func NewActionRepo(db *sql.DB) *ActionRepo {
	return &ActionRepo{db: db}
}

// FetchActions выборка с фильтрами. Пустые фильтры не участвуют в условии.
func (r *ActionRepo) FetchActions(ctx context.Context, f domain.ActionFilter) ([]domain.ActionRecord, error) {
	conds := []string{"timestamp BETWEEN $1 AND $2"}
	args := []any{f.From, f.To}

	if f.Actor != "" {
		args = append(args, "%"+f.Actor+"%")
		conds = append(conds, fmt.Sprintf("username ILIKE $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}

	query := "SELECT id, username, action, COALESCE(details, ''), timestamp FROM audit_log WHERE " +
		strings.Join(conds, " AND ") + " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch audit_log: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionRecord
	for rows.Next() {
		var (
			rec     domain.ActionRecord
			details string
		)
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan audit_log: %w", err)
		}
		rec.Details = []byte(details)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *ActionRepo) ListActionTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT action FROM audit_log ORDER BY action`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list actions: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("postgres: scan action: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
