package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xela07ax/rvs-verify/internal/domain"
)

const verificationColumns = `id, reference, code, first_name, middle_name, last_name, suffix,
	COALESCE(birth_date, ''), COALESCE(gender, ''), COALESCE(marital_status, ''),
	face_key, municipality, province, created_at`

// Необязательные поля: NULL и '' в записи совпадают только с отсутствующим значением запроса.
// Пустые строки остались в старых записях, новые хранят NULL.
const findBySubjectSQL = `SELECT ` + verificationColumns + `
	FROM verifications
	WHERE UPPER(first_name) = $1
	  AND UPPER(COALESCE(middle_name, '')) = COALESCE($2::text, '')
	  AND UPPER(last_name) = $3
	  AND UPPER(COALESCE(suffix, '')) = COALESCE($4::text, '')
	  AND COALESCE(birth_date, '') = $5
	ORDER BY id
	LIMIT 1`

const findByReferenceSQL = `SELECT ` + verificationColumns + `
	FROM verifications WHERE reference = $1`

const insertVerificationSQL = `
	INSERT INTO verifications (reference, code, first_name, middle_name, last_name, suffix,
		birth_date, face_key, gender, marital_status, municipality, province)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id, created_at`

type VerificationRepo struct {
	db *sql.DB
}

func NewVerificationRepo(db *sql.DB) *VerificationRepo {
	return &VerificationRepo{db: db}
}

// FindBySubject ищет без учета регистра. Не найдено: domain.ErrNotFound.
func (r *VerificationRepo) FindBySubject(ctx context.Context, s domain.Subject) (*domain.VerificationRecord, error) {
	s = s.Normalize()
	row := r.db.QueryRowContext(ctx, findBySubjectSQL,
		s.FirstName, nullable(s.MiddleName), s.LastName, nullable(s.Suffix), s.BirthDate)
	return scanVerification(row)
}

func (r *VerificationRepo) FindByReference(ctx context.Context, reference string) (*domain.VerificationRecord, error) {
	return scanVerification(r.db.QueryRowContext(ctx, findByReferenceSQL, reference))
}

// Insert сохраняет новую запись. Повтор reference: domain.ErrDuplicate.
func (r *VerificationRepo) Insert(ctx context.Context, v *domain.VerificationRecord) error {
	err := r.db.QueryRowContext(ctx, insertVerificationSQL,
		nullable(v.Reference), nullable(v.Code), v.FirstName, nullable(v.MiddleName), v.LastName,
		nullable(v.Suffix), v.BirthDate, nullable(v.FaceKey), v.Gender, v.MaritalStatus,
		nullable(v.Municipality), nullable(v.Province),
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("postgres: insert verification: %w", err)
	}
	return nil
}

func scanVerification(row *sql.Row) (*domain.VerificationRecord, error) {
	var (
		v                                        domain.VerificationRecord
		ref, code, middle, suffix, face, mun, pr sql.NullString
	)
	err := row.Scan(&v.ID, &ref, &code, &v.FirstName, &middle, &v.LastName, &suffix,
		&v.BirthDate, &v.Gender, &v.MaritalStatus, &face, &mun, &pr, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan verification: %w", err)
	}

	v.Reference = fromNull(ref)
	v.Code = fromNull(code)
	v.MiddleName = fromNull(middle)
	v.Suffix = fromNull(suffix)
	v.FaceKey = fromNull(face)
	v.Municipality = fromNull(mun)
	v.Province = fromNull(pr)
	return &v, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
