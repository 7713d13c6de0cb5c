// users.go — учётные записи пользователей: создание, чтение, мягкое удаление.
//
// Аутентификация внешняя: сервис получает только идентификатор из JWT.
// Роль и тариф всегда читаются из БД, а не из токена.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// CreateUserInput — параметры создания пользователя.
type CreateUserInput struct {
	// ID — идентификатор из сервиса аутентификации (пусто — сгенерировать)
	ID    string `validate:"omitempty,uuid"`
	Email string `validate:"required,email,max=320"`
	Role  string `validate:"omitempty,oneof=USER ADMIN FOUNDER"`
}

// UserService — управление пользователями.
type UserService struct {
	users  repository.UserRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{
		users:  users,
		now:    time.Now,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// Create создаёт пользователя с тарифом FREE и статусом INACTIVE.
// Email приводится к нижнему регистру; занятый email — ErrConflict.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*model.User, error) {
	in.Email = model.NormalizeEmail(in.Email)
	in.ID = strings.ToLower(strings.TrimSpace(in.ID))
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	role := model.RoleUser
	if in.Role != "" {
		role = model.Role(in.Role)
	}

	u := &model.User{
		ID:                 id,
		Email:              in.Email,
		Role:               role,
		Plan:               model.PlanFree,
		SubscriptionStatus: model.SubscriptionInactive,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, mapRepoErr(err, "создание пользователя")
	}

	s.logger.Info("Пользователь создан",
		slog.String("user_id", u.ID),
		slog.String("role", string(u.Role)),
	)
	return u, nil
}

// Get возвращает пользователя. Удалённые пользователи не находятся.
func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	if err := validateID("user_id", id); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "получение пользователя")
	}
	return u, nil
}

// FindByCustomerRef ищет пользователя по ID клиента у биллинг-провайдера.
func (s *UserService) FindByCustomerRef(ctx context.Context, customerRef string) (*model.User, error) {
	if customerRef == "" {
		return nil, mapRepoErr(repository.ErrNotFound, "поиск по клиенту биллинга")
	}
	u, err := s.users.GetByCustomerRef(ctx, customerRef)
	if err != nil {
		return nil, mapRepoErr(err, "поиск по клиенту биллинга")
	}
	return u, nil
}

// Role возвращает роль пользователя из БД.
func (s *UserService) Role(ctx context.Context, id string) (model.Role, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// Delete мягко удаляет пользователя. Окончательное удаление выполняет
// UserPurgeService после срока хранения.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := validateID("user_id", id); err != nil {
		return err
	}
	if err := s.users.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return mapRepoErr(err, "удаление пользователя")
	}
	s.logger.Info("Пользователь помечен удалённым", slog.String("user_id", id))
	return nil
}
