package release

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xela07ax/rvs-verify/internal/audit"
	"github.com/xela07ax/rvs-verify/internal/domain"
	"go.uber.org/zap"
)

type Repository interface {
	InsertRelease(ctx context.Context, rec *domain.ReleaseRecord) error
}

// Directory — откуда берем ФИО выдающего оператора.
type Directory interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Request — поля формы выдачи как ввел оператор.
type Request struct {
	DocOwner   string
	DocType    string
	CopyNo     string
	ReceivedBy string
}

type Service struct {
	repo     Repository
	users    Directory
	recorder audit.Recorder
	logger   *zap.Logger
}

func NewService(repo Repository, users Directory, recorder audit.Recorder, logger *zap.Logger) *Service {
	return &Service{repo: repo, users: users, recorder: recorder, logger: logger.Named("release")}
}

// Release регистрирует выдачу документа в releasing_log.
func (s *Service) Release(ctx context.Context, operator string, req Request) (*domain.ReleaseRecord, error) {
	rec, reason := parse(req)
	if reason != "" {
		verr := fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.ToLower(reason))
		if err := s.recorder.LogAction(ctx, operator, audit.ActionReleaseValidationFailed, map[string]string{"error": reason}); err != nil {
			return nil, errors.Join(verr, err)
		}
		return nil, verr
	}

	if err := s.recorder.LogAction(ctx, operator, audit.ActionReleaseInitiated, map[string]string{
		"doc_owner":   rec.DocOwner,
		"doc_type":    rec.DocType,
		"copy_no":     strconv.Itoa(rec.CopyNo),
		"received_by": rec.ReceivedBy,
	}); err != nil {
		return nil, err
	}

	if err := s.store(ctx, operator, rec); err != nil {
		s.logger.Error("release failed", zap.String("doc_owner", rec.DocOwner), zap.Error(err))
		if aerr := s.recorder.LogAction(ctx, operator, audit.ActionReleaseError, map[string]string{"error": err.Error()}); aerr != nil {
			return nil, errors.Join(err, aerr)
		}
		return nil, err
	}

	if err := s.recorder.LogAction(ctx, operator, audit.ActionReleaseSuccess, map[string]string{"message": "Document successfully released"}); err != nil {
		return nil, err
	}
	s.logger.Info("document released",
		zap.Int64("id", rec.ID),
		zap.String("doc_type", rec.DocType),
		zap.String("released_by", rec.ReleasedBy),
	)
	return rec, nil
}

// PopulateReceivedBy фиксирует подстановку верифицированного имени в поле "получил".
func (s *Service) PopulateReceivedBy(ctx context.Context, operator, fullName string) error {
	return s.recorder.LogAction(ctx, operator, audit.ActionReceivedByPopulated, map[string]string{"full_name": fullName})
}

func (s *Service) store(ctx context.Context, operator string, rec *domain.ReleaseRecord) error {
	u, err := s.users.GetUserByUsername(ctx, operator)
	if err != nil {
		return fmt.Errorf("release: resolve operator %q: %w", operator, err)
	}
	rec.ReleasedBy = u.FullName()
	return s.repo.InsertRelease(ctx, rec)
}

const (
	reasonMissingFields = "Missing required fields"
	reasonBadCopyNo     = "Copy number must be a positive integer"
)

// parse возвращает запись или причину отказа для аудита.
func parse(req Request) (*domain.ReleaseRecord, string) {
	rec := &domain.ReleaseRecord{
		DocOwner:   strings.TrimSpace(req.DocOwner),
		DocType:    strings.TrimSpace(req.DocType),
		ReceivedBy: strings.TrimSpace(req.ReceivedBy),
	}
	copyNo := strings.TrimSpace(req.CopyNo)
	if rec.DocOwner == "" || rec.DocType == "" || copyNo == "" || rec.ReceivedBy == "" {
		return nil, reasonMissingFields
	}

	n, err := strconv.Atoi(copyNo)
	if err != nil || n <= 0 {
		return nil, reasonBadCopyNo
	}
	rec.CopyNo = n
	return rec, ""
}
