// access.go — проверки доступа к модулям и явные выдачи доступа.
//
// ModuleAccessService загружает минимальные данные для entitlement.CanAccess
// и применяет его. Отказ в доступе — штатный результат {allowed:false, reason},
// а не ошибка. Выдача и отзыв выполняются в одной транзакции с записью аудита.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/entitlement"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// accessDecisionsTotal — решения о доступе по причинам.
var accessDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "entitlement_access_decisions_total",
	Help: "Количество решений о доступе к модулям по причине",
}, []string{"reason"})

// GrantResult — итог выдачи доступа.
type GrantResult string

// Итоги выдачи и отзыва.
const (
	GrantCreated        GrantResult = "created"
	GrantAlreadyExisted GrantResult = "already_existed"
	GrantRevoked        GrantResult = "revoked"
	GrantNotPresent     GrantResult = "not_present"
)

// ModuleAccess — модуль с решением о доступе для пользователя.
type ModuleAccess struct {
	Module   *model.Module
	Decision entitlement.Decision
}

// ModuleAccessService — доступ пользователей к модулям.
type ModuleAccessService struct {
	uow    UnitOfWork
	repos  *repository.Repositories
	audit  *AuditRecorder
	logger *slog.Logger
}

// NewModuleAccessService создаёт сервис доступа к модулям.
// repos — репозитории вне транзакции для операций чтения.
func NewModuleAccessService(
	uow UnitOfWork,
	repos *repository.Repositories,
	audit *AuditRecorder,
	logger *slog.Logger,
) *ModuleAccessService {
	return &ModuleAccessService{
		uow:    uow,
		repos:  repos,
		audit:  audit,
		logger: logger.With(slog.String("component", "module_access")),
	}
}

// CanAccess решает, может ли пользователь открыть модуль.
// moduleRef — UUID или ключ модуля.
func (s *ModuleAccessService) CanAccess(ctx context.Context, userID, moduleRef string) (*ModuleAccess, error) {
	if err := validateID("user_id", userID); err != nil {
		return nil, err
	}

	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err, "получение пользователя")
	}
	module, err := resolveModule(ctx, s.repos.Modules, moduleRef)
	if err != nil {
		return nil, err
	}

	hasGrant, err := s.repos.Grants.Exists(ctx, user.ID, module.ID)
	if err != nil {
		return nil, mapRepoErr(err, "проверка явной выдачи")
	}

	decision := entitlement.CanAccess(entitlement.SubjectOf(user), entitlement.TargetOf(module), hasGrant)
	accessDecisionsTotal.WithLabelValues(string(decision.Reason)).Inc()

	s.logger.Debug("Решение о доступе",
		slog.String("user_id", user.ID),
		slog.String("module_key", module.Key),
		slog.Bool("allowed", decision.Allowed),
		slog.String("reason", string(decision.Reason)),
	)

	return &ModuleAccess{Module: module, Decision: decision}, nil
}

// ListForUser возвращает все включённые неархивные модули с решением о доступе.
// ADMIN и FOUNDER видят allowed=true для всех.
func (s *ModuleAccessService) ListForUser(ctx context.Context, userID string) ([]ModuleAccess, error) {
	if err := validateID("user_id", userID); err != nil {
		return nil, err
	}

	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err, "получение пользователя")
	}
	modules, err := s.repos.Modules.ListAvailable(ctx)
	if err != nil {
		return nil, mapRepoErr(err, "получение модулей")
	}
	grants, err := s.repos.Grants.ModuleIDsForUser(ctx, user.ID)
	if err != nil {
		return nil, mapRepoErr(err, "получение явных выдач")
	}

	subject := entitlement.SubjectOf(user)
	result := make([]ModuleAccess, 0, len(modules))
	for _, m := range modules {
		result = append(result, ModuleAccess{
			Module:   m,
			Decision: entitlement.CanAccess(subject, entitlement.TargetOf(m), grants[m.ID]),
		})
	}
	return result, nil
}

// Grant выдаёт пользователю явный доступ к модулю.
// Повторная выдача успешна и возвращает GrantAlreadyExisted без записи аудита.
// Выдача не меняет тариф пользователя. Архивный модуль — ErrModuleArchived.
func (s *ModuleAccessService) Grant(ctx context.Context, userID, moduleID string, grantedBy *string) (GrantResult, error) {
	if err := validateID("user_id", userID); err != nil {
		return "", err
	}
	if err := validateID("module_id", moduleID); err != nil {
		return "", err
	}

	var result GrantResult
	err := s.uow.Do(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		user, err := repos.Users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return mapRepoErr(err, "получение пользователя")
		}
		module, err := repos.Modules.GetByID(ctx, moduleID)
		if err != nil {
			return mapRepoErr(err, "получение модуля")
		}
		if module.IsArchived {
			return ErrModuleArchived
		}

		created, err := repos.Grants.Insert(ctx, &model.ModuleAccessGrant{
			UserID:    user.ID,
			ModuleID:  module.ID,
			GrantedBy: grantedBy,
		})
		if err != nil {
			return mapRepoErr(err, "создание выдачи доступа")
		}
		if !created {
			result = GrantAlreadyExisted
			return nil
		}

		result = GrantCreated
		return s.audit.Record(ctx, repos.Audit, model.AuditAccessGranted,
			model.EntityModuleAccessGrant, grantEntityID(user.ID, module.ID), grantedBy,
			map[string]any{
				"user_id":    user.ID,
				"module_id":  module.ID,
				"module_key": module.Key,
			})
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Выдача доступа к модулю",
		slog.String("user_id", userID),
		slog.String("module_id", moduleID),
		slog.String("result", string(result)),
	)
	return result, nil
}

// Revoke отзывает явный доступ. Отсутствие выдачи — успешный no-op
// без записи аудита.
func (s *ModuleAccessService) Revoke(ctx context.Context, userID, moduleID string, revokedBy *string) (GrantResult, error) {
	if err := validateID("user_id", userID); err != nil {
		return "", err
	}
	if err := validateID("module_id", moduleID); err != nil {
		return "", err
	}

	var result GrantResult
	err := s.uow.Do(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		user, err := repos.Users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return mapRepoErr(err, "получение пользователя")
		}
		module, err := repos.Modules.GetByID(ctx, moduleID)
		if err != nil {
			return mapRepoErr(err, "получение модуля")
		}

		deleted, err := repos.Grants.Delete(ctx, user.ID, module.ID)
		if err != nil {
			return mapRepoErr(err, "удаление выдачи доступа")
		}
		if !deleted {
			result = GrantNotPresent
			return nil
		}

		result = GrantRevoked
		return s.audit.Record(ctx, repos.Audit, model.AuditAccessRevoked,
			model.EntityModuleAccessGrant, grantEntityID(user.ID, module.ID), revokedBy,
			map[string]any{
				"user_id":    user.ID,
				"module_id":  module.ID,
				"module_key": module.Key,
			})
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Отзыв доступа к модулю",
		slog.String("user_id", userID),
		slog.String("module_id", moduleID),
		slog.String("result", string(result)),
	)
	return result, nil
}

// resolveModule находит модуль по UUID или ключу.
func resolveModule(ctx context.Context, modules repository.ModuleRepository, ref string) (*model.Module, error) {
	var (
		m   *model.Module
		err error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		m, err = modules.GetByID(ctx, id.String())
	} else {
		if verr := validate.Var(ref, "module_key"); verr != nil {
			return nil, mapRepoErr(repository.ErrNotFound, "получение модуля")
		}
		m, err = modules.GetByKey(ctx, ref)
	}
	if err != nil {
		return nil, mapRepoErr(err, "получение модуля")
	}
	return m, nil
}

// grantEntityID — идентификатор выдачи в журнале аудита.
func grantEntityID(userID, moduleID string) string {
	return userID + ":" + moduleID
}
