package audit

import (
	"context"

	"github.com/xela07ax/rvs-verify/internal/domain"
	"go.uber.org/zap"
)

// IdentityRegistry — реестр операторов (users_list).
type IdentityRegistry interface {
	CountUsers(ctx context.Context, username string) (int, error)
}

// Validator проверяет, что актор существует ровно в одном экземпляре.
type Validator struct {
	registry IdentityRegistry
	logger   *zap.Logger
}

func NewValidator(registry IdentityRegistry, logger *zap.Logger) *Validator {
	return &Validator{
		registry: registry,
		logger:   logger.With(zap.String("mod", "identity")),
	}
}

// Validate никогда не возвращает ошибку: сбой реестра означает отказ (fail-closed).
func (v *Validator) Validate(ctx context.Context, actor string) bool {
	if actor == domain.SystemActor {
		return true
	}
	if actor == "" {
		return false
	}

	n, err := v.registry.CountUsers(ctx, actor)
	if err != nil {
		v.logger.Error("identity lookup failed", zap.String("actor", actor), zap.Error(err))
		return false
	}
	return n == 1
}
