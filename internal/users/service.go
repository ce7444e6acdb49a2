package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xela07ax/rvs-verify/internal/audit"
	"github.com/xela07ax/rvs-verify/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCannotDeleteSelf   = errors.New("cannot delete own account")
)

type Repository interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// NewUser — данные формы добавления оператора.
type NewUser struct {
	FirstName string
	LastName  string
	Username  string
	Password  string
}

// Service — реестр операторов. Каждая операция пишется в аудит от имени operator.
type Service struct {
	repo     Repository
	recorder audit.Recorder
	logger   *zap.Logger
	cost     int
}

func NewService(repo Repository, recorder audit.Recorder, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		logger:   logger.Named("users"),
		cost:     bcrypt.DefaultCost,
	}
}

func (s *Service) Add(ctx context.Context, operator string, in NewUser) (*domain.User, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Username = strings.TrimSpace(in.Username)

	if in.FirstName == "" || in.LastName == "" || in.Username == "" || in.Password == "" {
		err := fmt.Errorf("%w: all fields are required", domain.ErrInvalidInput)
		return nil, s.fail(ctx, operator, audit.ActionUserCreateFailed, map[string]string{"reason": "missing_information"}, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	u := &domain.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Username:     in.Username,
		PasswordHash: string(hash),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, s.fail(ctx, operator, audit.ActionUserCreateFailed,
				map[string]string{"reason": "duplicate_user", "username": in.Username}, err)
		}
		return nil, s.fail(ctx, operator, audit.ActionDatabaseError,
			map[string]string{"operation": "add_user", "error": err.Error()}, err)
	}

	if err := s.recorder.LogAction(ctx, operator, audit.ActionUserAdded, map[string]string{
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"username":   u.Username,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("user added", zap.String("username", u.Username), zap.String("by", operator))
	return u, nil
}

func (s *Service) Delete(ctx context.Context, operator, username string) error {
	username = strings.TrimSpace(username)
	if username == operator {
		return s.fail(ctx, operator, audit.ActionUserDeleteFailed,
			map[string]string{"reason": "cannot_delete_self", "username": username}, ErrCannotDeleteSelf)
	}

	if err := s.repo.DeleteUser(ctx, username); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.fail(ctx, operator, audit.ActionUserDeleteFailed,
				map[string]string{"reason": "not_found", "username": username}, err)
		}
		return s.fail(ctx, operator, audit.ActionDatabaseError,
			map[string]string{"operation": "delete_user", "error": err.Error()}, err)
	}

	if err := s.recorder.LogAction(ctx, operator, audit.ActionUserDeleted, map[string]string{"deleted_username": username}); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.String("username", username), zap.String("by", operator))
	return nil
}

func (s *Service) List(ctx context.Context, operator string) ([]domain.User, error) {
	list, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, s.fail(ctx, operator, audit.ActionDatabaseError,
			map[string]string{"operation": "load_data", "error": err.Error()}, err)
	}
	if err := s.recorder.LogAction(ctx, operator, audit.ActionUsersLoaded, map[string]int{"count": len(list)}); err != nil {
		return nil, err
	}
	return list, nil
}

// Authenticate проверяет пароль по bcrypt-хешу. Неудачный вход пишется от имени SYSTEM:
// личность еще не подтверждена.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("users: load %q: %w", username, err)
	}

	// Не уточняем, что именно неверно (логин или пароль)
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, s.fail(ctx, domain.SystemActor, audit.ActionLoginFailed,
			map[string]string{"username": username}, ErrInvalidCredentials)
	}

	if err := s.recorder.LogAction(ctx, u.Username, audit.ActionLoginSuccess, map[string]string{"username": u.Username}); err != nil {
		return nil, err
	}
	return u, nil
}

// fail пишет неудачу в аудит и возвращает cause; ошибка аудита не теряется.
func (s *Service) fail(ctx context.Context, actor, action string, details any, cause error) error {
	if aerr := s.recorder.LogAction(ctx, actor, action, details); aerr != nil {
		return errors.Join(cause, aerr)
	}
	return cause
}
