package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/saaskit/entitlement-module/internal/api/middleware"
	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
	"github.com/bigkaa/saaskit/entitlement-module/internal/service"
)

const (
	testUserID   = "11111111-1111-4111-8111-111111111111"
	testAdminID  = "22222222-2222-4222-8222-222222222222"
	testModuleID = "aaaaaaaa-0000-4000-8000-000000000001"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Моки сервисов ---

type mockAccess struct {
	canAccessFn func(ctx context.Context, userID, moduleRef string) (*service.ModuleAccess, error)
	listFn      func(ctx context.Context, userID string) ([]service.ModuleAccess, error)
	grantFn     func(ctx context.Context, userID, moduleID string, grantedBy *string) (service.GrantResult, error)
	revokeFn    func(ctx context.Context, userID, moduleID string, revokedBy *string) (service.GrantResult, error)
}

func (m *mockAccess) CanAccess(ctx context.Context, userID, moduleRef string) (*service.ModuleAccess, error) {
	return m.canAccessFn(ctx, userID, moduleRef)
}

func (m *mockAccess) ListForUser(ctx context.Context, userID string) ([]service.ModuleAccess, error) {
	return m.listFn(ctx, userID)
}

func (m *mockAccess) Grant(ctx context.Context, userID, moduleID string, grantedBy *string) (service.GrantResult, error) {
	return m.grantFn(ctx, userID, moduleID, grantedBy)
}

func (m *mockAccess) Revoke(ctx context.Context, userID, moduleID string, revokedBy *string) (service.GrantResult, error) {
	return m.revokeFn(ctx, userID, moduleID, revokedBy)
}

type mockSyncer struct {
	fn func(ctx context.Context, userID string, actorID *string) (*model.ReconcileResult, error)
}

func (m *mockSyncer) ReconcileFromQuery(ctx context.Context, userID string, actorID *string) (*model.ReconcileResult, error) {
	return m.fn(ctx, userID, actorID)
}

type mockModules struct {
	createFn  func(ctx context.Context, in service.CreateModuleInput) (*model.Module, error)
	getFn     func(ctx context.Context, ref string) (*model.Module, error)
	listFn    func(ctx context.Context, includeArchived bool, limit, offset int) ([]*model.Module, int, error)
	updateFn  func(ctx context.Context, id string, in service.UpdateModuleInput) (*model.Module, error)
	enableFn  func(ctx context.Context, id string) (*model.Module, error)
	disableFn func(ctx context.Context, id string) (*model.Module, error)
	archiveFn func(ctx context.Context, id string) (*model.Module, error)
}

func (m *mockModules) Create(ctx context.Context, in service.CreateModuleInput) (*model.Module, error) {
	return m.createFn(ctx, in)
}

func (m *mockModules) Get(ctx context.Context, ref string) (*model.Module, error) {
	return m.getFn(ctx, ref)
}

func (m *mockModules) List(ctx context.Context, includeArchived bool, limit, offset int) ([]*model.Module, int, error) {
	return m.listFn(ctx, includeArchived, limit, offset)
}

func (m *mockModules) Update(ctx context.Context, id string, in service.UpdateModuleInput) (*model.Module, error) {
	return m.updateFn(ctx, id, in)
}

func (m *mockModules) Enable(ctx context.Context, id string) (*model.Module, error) {
	return m.enableFn(ctx, id)
}

func (m *mockModules) Disable(ctx context.Context, id string) (*model.Module, error) {
	return m.disableFn(ctx, id)
}

func (m *mockModules) Archive(ctx context.Context, id string) (*model.Module, error) {
	return m.archiveFn(ctx, id)
}

type mockUsers struct {
	createFn func(ctx context.Context, in service.CreateUserInput) (*model.User, error)
	getFn    func(ctx context.Context, id string) (*model.User, error)
	deleteFn func(ctx context.Context, id string) error
	findFn   func(ctx context.Context, customerRef string) (*model.User, error)
}

func (m *mockUsers) Create(ctx context.Context, in service.CreateUserInput) (*model.User, error) {
	return m.createFn(ctx, in)
}

func (m *mockUsers) Get(ctx context.Context, id string) (*model.User, error) {
	return m.getFn(ctx, id)
}

func (m *mockUsers) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockUsers) FindByCustomerRef(ctx context.Context, customerRef string) (*model.User, error) {
	return m.findFn(ctx, customerRef)
}

type mockAudit struct {
	fn func(ctx context.Context, filter repository.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error)
}

func (m *mockAudit) List(ctx context.Context, filter repository.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error) {
	return m.fn(ctx, filter, limit, offset)
}

type mockChecker struct {
	status, message string
}

func (m *mockChecker) CheckReady() (string, string) {
	return m.status, m.message
}

// --- Хелперы ---

// testDeps — моки сервисов для APIHandler.
type testDeps struct {
	access  *mockAccess
	syncer  *mockSyncer
	modules *mockModules
	users   *mockUsers
	audit   *mockAudit
}

func newTestHandler(d testDeps) *APIHandler {
	if d.access == nil {
		d.access = &mockAccess{}
	}
	if d.syncer == nil {
		d.syncer = &mockSyncer{}
	}
	if d.modules == nil {
		d.modules = &mockModules{}
	}
	if d.users == nil {
		d.users = &mockUsers{}
	}
	if d.audit == nil {
		d.audit = &mockAudit{}
	}
	health := NewHealthHandler(&mockChecker{status: "ok"}, &mockChecker{status: "ok"})
	return NewAPIHandler(health, d.access, d.syncer, d.modules, d.users, d.audit, testLogger())
}

// serve выполняет запрос через chi, чтобы заполнились параметры пути.
// sub — пользователь в контексте (пусто — без claims).
func serve(method, pattern string, h http.HandlerFunc, target string, body io.Reader, sub string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Method(method, pattern, h)

	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sub != "" {
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.AuthClaims{Subject: sub}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func strPtr(s string) *string {
	return &s
}

func testUser() *model.User {
	return &model.User{
		ID:                 testUserID,
		Email:              "user@example.com",
		Role:               model.RoleUser,
		Plan:               model.PlanPro,
		SubscriptionStatus: model.SubscriptionActive,
		BillingCustomerRef: strPtr("cus_123"),
	}
}

func testModule() *model.Module {
	return &model.Module{
		ID:      testModuleID,
		Key:     "analytics",
		Name:    "Analytics",
		MinPlan: model.PlanPro,
		Enabled: true,
	}
}
