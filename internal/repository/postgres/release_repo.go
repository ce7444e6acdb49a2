package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xela07ax/rvs-verify/internal/domain"
)

type ReleaseRepo struct {
	db *sql.DB
}

func NewReleaseRepo(db *sql.DB) *ReleaseRepo {
	return &ReleaseRepo{db: db}
}

func (r *ReleaseRepo) InsertRelease(ctx context.Context, rec *domain.ReleaseRecord) error {
	query := `
		INSERT INTO releasing_log (doc_owner, doc_type, copy_no, received_by, released_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, timestamp`

	err := r.db.QueryRowContext(ctx, query, rec.DocOwner, rec.DocType, rec.CopyNo, rec.ReceivedBy, rec.ReleasedBy).
		Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert releasing_log: %w", err)
	}
	return nil
}
