// modules.go — управление реестром модулей.
//
// Жизненный цикл: DRAFT → ACTIVE ⇄ DISABLED → ARCHIVED.
// Архивирование необратимо, ключ модуля не меняется после создания.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// CreateModuleInput — параметры создания модуля.
type CreateModuleInput struct {
	Key         string `validate:"required,module_key"`
	Name        string `validate:"required,max=255"`
	Description string `validate:"max=4000"`
	MinPlan     string `validate:"required,oneof=FREE PRO ENTERPRISE"`
	// Enabled — сразу включить модуль (иначе создаётся черновик)
	Enabled bool
}

// UpdateModuleInput — частичное обновление модуля. nil — поле не меняется.
type UpdateModuleInput struct {
	Name        *string `validate:"omitempty,min=1,max=255"`
	Description *string `validate:"omitempty,max=4000"`
	MinPlan     *string `validate:"omitempty,oneof=FREE PRO ENTERPRISE"`
}

// ModuleService — управление модулями.
type ModuleService struct {
	uow     UnitOfWork
	modules repository.ModuleRepository
	now     func() time.Time
	logger  *slog.Logger
}

// NewModuleService создаёт сервис управления модулями.
func NewModuleService(uow UnitOfWork, modules repository.ModuleRepository, logger *slog.Logger) *ModuleService {
	return &ModuleService{
		uow:     uow,
		modules: modules,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "module_service")),
	}
}

// Create создаёт модуль. Занятый ключ — ErrConflict.
func (s *ModuleService) Create(ctx context.Context, in CreateModuleInput) (*model.Module, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	m := &model.Module{
		ID:          uuid.New().String(),
		Key:         in.Key,
		Name:        in.Name,
		Description: in.Description,
		MinPlan:     model.Plan(in.MinPlan),
		Enabled:     in.Enabled,
	}
	if in.Enabled {
		now := s.now().UTC()
		m.ActivatedAt = &now
	}

	if err := s.modules.Create(ctx, m); err != nil {
		return nil, mapRepoErr(err, "создание модуля")
	}

	s.logger.Info("Модуль создан",
		slog.String("module_id", m.ID),
		slog.String("key", m.Key),
		slog.String("state", string(m.State())),
	)
	return m, nil
}

// Get возвращает модуль по UUID или ключу.
func (s *ModuleService) Get(ctx context.Context, ref string) (*model.Module, error) {
	return resolveModule(ctx, s.modules, ref)
}

// List возвращает модули и их общее количество.
func (s *ModuleService) List(ctx context.Context, includeArchived bool, limit, offset int) ([]*model.Module, int, error) {
	modules, err := s.modules.List(ctx, includeArchived, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка модулей: %w", err)
	}
	total, err := s.modules.Count(ctx, includeArchived)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт модулей: %w", err)
	}
	return modules, total, nil
}

// Update меняет имя, описание или минимальный тариф.
// Архивный модуль не изменяется.
func (s *ModuleService) Update(ctx context.Context, id string, in UpdateModuleInput) (*model.Module, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "обновление модуля", func(m *model.Module) error {
		if m.IsArchived {
			return ErrModuleArchived
		}
		if in.Name != nil {
			m.Name = *in.Name
		}
		if in.Description != nil {
			m.Description = *in.Description
		}
		if in.MinPlan != nil {
			m.MinPlan = model.Plan(*in.MinPlan)
		}
		return nil
	})
}

// Enable включает модуль (DRAFT/DISABLED → ACTIVE).
func (s *ModuleService) Enable(ctx context.Context, id string) (*model.Module, error) {
	return s.mutate(ctx, id, "включение модуля", func(m *model.Module) error {
		if m.IsArchived {
			return ErrModuleArchived
		}
		m.Enabled = true
		if m.ActivatedAt == nil {
			now := s.now().UTC()
			m.ActivatedAt = &now
		}
		return nil
	})
}

// Disable выключает модуль (ACTIVE → DISABLED). Черновик остаётся черновиком.
func (s *ModuleService) Disable(ctx context.Context, id string) (*model.Module, error) {
	return s.mutate(ctx, id, "выключение модуля", func(m *model.Module) error {
		if m.IsArchived {
			return ErrModuleArchived
		}
		m.Enabled = false
		return nil
	})
}

// Archive архивирует модуль. Повторное архивирование — no-op.
func (s *ModuleService) Archive(ctx context.Context, id string) (*model.Module, error) {
	return s.mutate(ctx, id, "архивирование модуля", func(m *model.Module) error {
		m.IsArchived = true
		m.Enabled = false
		return nil
	})
}

// mutate загружает модуль под блокировкой, применяет fn и сохраняет.
func (s *ModuleService) mutate(ctx context.Context, id, what string, fn func(m *model.Module) error) (*model.Module, error) {
	if err := validateID("module_id", id); err != nil {
		return nil, err
	}

	var result *model.Module
	err := s.uow.Do(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		m, err := repos.Modules.GetByIDForUpdate(ctx, id)
		if err != nil {
			return mapRepoErr(err, what)
		}
		before := m.State()
		if err := fn(m); err != nil {
			return err
		}
		if err := repos.Modules.Update(ctx, m); err != nil {
			return mapRepoErr(err, what)
		}
		if after := m.State(); after != before {
			s.logger.Info("Состояние модуля изменено",
				slog.String("module_id", m.ID),
				slog.String("key", m.Key),
				slog.String("from", string(before)),
				slog.String("to", string(after)),
			)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
