package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/rvs-verify/internal/domain"
	"go.uber.org/zap"
)

// Person — данные субъекта из ответа внешнего API (data.data).
type Person struct {
	Reference     *string `json:"reference"`
	Code          *string `json:"code"`
	FirstName     string  `json:"first_name"`
	MiddleName    *string `json:"middle_name"`
	LastName      string  `json:"last_name"`
	Suffix        *string `json:"suffix"`
	BirthDate     string  `json:"birth_date"`
	Gender        string  `json:"gender"`
	MaritalStatus string  `json:"marital_status"`
	Municipality  *string `json:"municipality"`
	Province      *string `json:"province"`
	FaceURL       string  `json:"face_url"`
}

type VerificationWriter interface {
	Insert(ctx context.Context, v *domain.VerificationRecord) error
}

type FaceFetcher interface {
	Fetch(ctx context.Context, faceURL string) (string, error)
}

// VerificationService сохраняет верифицированного субъекта вместе с изображением лица.
type VerificationService struct {
	repo   VerificationWriter
	faces  FaceFetcher
	logger *zap.Logger
}

func NewVerificationService(repo VerificationWriter, faces FaceFetcher, logger *zap.Logger) *VerificationService {
	return &VerificationService{
		repo:   repo,
		faces:  faces,
		logger: logger.With(zap.String("mod", "verification")),
	}
}

// Store: сбой скачивания изображения не мешает сохранить запись (face_key остается пустым).
func (s *VerificationService) Store(ctx context.Context, p Person) (*domain.VerificationRecord, error) {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return nil, fmt.Errorf("%w: first_name and last_name are required", domain.ErrInvalidInput)
	}

	var faceKey *string
	if p.FaceURL != "" {
		key, err := s.faces.Fetch(ctx, p.FaceURL)
		if err != nil {
			s.logger.Error("error downloading/saving face image", zap.String("url", p.FaceURL), zap.Error(err))
		} else {
			faceKey = &key
		}
	}

	rec := &domain.VerificationRecord{
		Reference:     p.Reference,
		Code:          p.Code,
		FirstName:     p.FirstName,
		MiddleName:    domain.Optional(p.MiddleName),
		LastName:      p.LastName,
		Suffix:        domain.Optional(p.Suffix),
		BirthDate:     p.BirthDate,
		Gender:        p.Gender,
		MaritalStatus: p.MaritalStatus,
		FaceKey:       faceKey,
		Municipality:  p.Municipality,
		Province:      p.Province,
	}

	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("verification_service: store: %w", err)
	}
	s.logger.Info("verification stored", zap.Int64("id", rec.ID), zap.Bool("has_face", rec.HasFace()))
	return rec, nil
}
