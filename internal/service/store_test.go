// store_test.go — in-memory реализация репозиториев и биллинг-провайдера для unit-тестов.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
	"github.com/bigkaa/saaskit/entitlement-module/internal/repository"
)

// testLogger — логгер, отбрасывающий вывод.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// strPtr возвращает указатель на строку.
func strPtr(s string) *string {
	return &s
}

// memStore — in-memory хранилище. Do выполняется под общей блокировкой
// и откатывает снимок состояния при ошибке fn.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*model.User
	modules   map[string]*model.Module
	grants    map[string]*model.ModuleAccessGrant
	audit     []*model.AuditEntry
	events    map[string]time.Time
	syncState model.SyncState

	// appendErr — ошибка, возвращаемая AuditRepository.Append
	appendErr error
	// txCount — количество вызовов Do
	txCount int
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*model.User),
		modules:   make(map[string]*model.Module),
		grants:    make(map[string]*model.ModuleAccessGrant),
		events:    make(map[string]time.Time),
		syncState: model.SyncState{ID: 1},
	}
}

// repos возвращает репозитории вне транзакции.
func (s *memStore) repos() *repository.Repositories {
	return s.bind(false)
}

func (s *memStore) bind(inTx bool) *repository.Repositories {
	b := memRepo{s: s, inTx: inTx}
	return &repository.Repositories{
		Users:         memUsers{b},
		Modules:       memModules{b},
		Grants:        memGrants{b},
		Audit:         memAudit{b},
		WebhookEvents: memEvents{b},
		SyncState:     memSyncState{b},
	}
}

// Do реализует UnitOfWork.
func (s *memStore) Do(ctx context.Context, fn func(ctx context.Context, repos *repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	snap := s.snapshot()
	if err := fn(ctx, s.bind(true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	users   map[string]*model.User
	modules map[string]*model.Module
	grants  map[string]*model.ModuleAccessGrant
	audit   []*model.AuditEntry
	events  map[string]time.Time
	sync    model.SyncState
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:   make(map[string]*model.User, len(s.users)),
		modules: make(map[string]*model.Module, len(s.modules)),
		grants:  make(map[string]*model.ModuleAccessGrant, len(s.grants)),
		audit:   append([]*model.AuditEntry(nil), s.audit...),
		events:  make(map[string]time.Time, len(s.events)),
		sync:    s.syncState,
	}
	for k, v := range s.users {
		snap.users[k] = copyUser(v)
	}
	for k, v := range s.modules {
		snap.modules[k] = copyModule(v)
	}
	for k, v := range s.grants {
		g := *v
		snap.grants[k] = &g
	}
	for k, v := range s.events {
		snap.events[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.users = snap.users
	s.modules = snap.modules
	s.grants = snap.grants
	s.audit = snap.audit
	s.events = snap.events
	s.syncState = snap.sync
}

// addUser сохраняет пользователя напрямую (для подготовки теста).
func (s *memStore) addUser(u *model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.Plan == "" {
		u.Plan = model.PlanFree
	}
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = model.SubscriptionInactive
	}
	s.users[u.ID] = copyUser(u)
	return u
}

// addModule сохраняет модуль напрямую (для подготовки теста).
func (s *memStore) addModule(m *model.Module) *model.Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.ID] = copyModule(m)
	return m
}

// user возвращает копию сохранённого пользователя (включая удалённых).
func (s *memStore) user(id string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return copyUser(u)
}

// auditEntries возвращает копию журнала в порядке добавления.
func (s *memStore) auditEntries() []*model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.AuditEntry(nil), s.audit...)
}

func copyUser(u *model.User) *model.User {
	c := *u
	if u.BillingCustomerRef != nil {
		c.BillingCustomerRef = strPtr(*u.BillingCustomerRef)
	}
	if u.BillingSubscriptionRef != nil {
		c.BillingSubscriptionRef = strPtr(*u.BillingSubscriptionRef)
	}
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func copyModule(m *model.Module) *model.Module {
	c := *m
	if m.ActivatedAt != nil {
		t := *m.ActivatedAt
		c.ActivatedAt = &t
	}
	return &c
}

func grantKey(userID, moduleID string) string {
	return userID + "/" + moduleID
}

// memRepo — общая часть in-memory репозиториев.
type memRepo struct {
	s    *memStore
	inTx bool
}

// lock захватывает блокировку хранилища вне транзакции.
func (r memRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

// --- users ---

type memUsers struct{ memRepo }

func (r memUsers) Create(_ context.Context, u *model.User) error {
	defer r.lock()()
	if _, ok := r.s.users[u.ID]; ok {
		return repository.ErrConflict
	}
	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.users[u.ID] = copyUser(u)
	return nil
}

func (r memUsers) get(id string) (*model.User, error) {
	u, ok := r.s.users[id]
	if !ok || u.IsDeleted() {
		return nil, repository.ErrNotFound
	}
	return copyUser(u), nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	defer r.lock()()
	return r.get(id)
}

func (r memUsers) GetByIDForUpdate(_ context.Context, id string) (*model.User, error) {
	defer r.lock()()
	return r.get(id)
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	defer r.lock()()
	for _, u := range r.s.users {
		if !u.IsDeleted() && strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memUsers) GetByCustomerRef(_ context.Context, customerRef string) (*model.User, error) {
	defer r.lock()()
	for _, u := range r.s.users {
		if !u.IsDeleted() && refEquals(u.BillingCustomerRef, customerRef) {
			return copyUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memUsers) UpdateBilling(_ context.Context, u *model.User) error {
	defer r.lock()()
	stored, ok := r.s.users[u.ID]
	if !ok || stored.IsDeleted() {
		return repository.ErrNotFound
	}
	if u.BillingCustomerRef != nil {
		for id, other := range r.s.users {
			if id != u.ID && !other.IsDeleted() && refEquals(other.BillingCustomerRef, *u.BillingCustomerRef) {
				return repository.ErrConflict
			}
		}
	}
	stored.Plan = u.Plan
	stored.SubscriptionStatus = u.SubscriptionStatus
	stored.BillingCustomerRef = copyUser(u).BillingCustomerRef
	stored.BillingSubscriptionRef = copyUser(u).BillingSubscriptionRef
	stored.UpdatedAt = time.Now().UTC()
	u.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r memUsers) ListWithCustomerRef(_ context.Context, limit, offset int) ([]*model.User, error) {
	defer r.lock()()
	var all []*model.User
	for _, u := range r.s.users {
		if !u.IsDeleted() && u.BillingCustomerRef != nil {
			all = append(all, copyUser(u))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r memUsers) SoftDelete(_ context.Context, id string, at time.Time) error {
	defer r.lock()()
	u, ok := r.s.users[id]
	if !ok || u.IsDeleted() {
		return repository.ErrNotFound
	}
	u.DeletedAt = &at
	return nil
}

func (r memUsers) PurgeDeleted(_ context.Context, before time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for id, u := range r.s.users {
		if u.DeletedAt != nil && u.DeletedAt.Before(before) {
			delete(r.s.users, id)
			for k, g := range r.s.grants {
				if g.UserID == id {
					delete(r.s.grants, k)
				}
			}
			n++
		}
	}
	return n, nil
}

// --- modules ---

type memModules struct{ memRepo }

func (r memModules) Create(_ context.Context, m *model.Module) error {
	defer r.lock()()
	for _, existing := range r.s.modules {
		if existing.ID == m.ID || existing.Key == m.Key {
			return repository.ErrConflict
		}
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	r.s.modules[m.ID] = copyModule(m)
	return nil
}

func (r memModules) get(id string) (*model.Module, error) {
	m, ok := r.s.modules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyModule(m), nil
}

func (r memModules) GetByID(_ context.Context, id string) (*model.Module, error) {
	defer r.lock()()
	return r.get(id)
}

func (r memModules) GetByIDForUpdate(_ context.Context, id string) (*model.Module, error) {
	defer r.lock()()
	return r.get(id)
}

func (r memModules) GetByKey(_ context.Context, key string) (*model.Module, error) {
	defer r.lock()()
	for _, m := range r.s.modules {
		if m.Key == key {
			return copyModule(m), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memModules) Update(_ context.Context, m *model.Module) error {
	defer r.lock()()
	if _, ok := r.s.modules[m.ID]; !ok {
		return repository.ErrNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	r.s.modules[m.ID] = copyModule(m)
	return nil
}

func (r memModules) sorted(includeArchived, onlyAvailable bool) []*model.Module {
	var all []*model.Module
	for _, m := range r.s.modules {
		if !includeArchived && m.IsArchived {
			continue
		}
		if onlyAvailable && !m.Available() {
			continue
		}
		all = append(all, copyModule(m))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all
}

func (r memModules) List(_ context.Context, includeArchived bool, limit, offset int) ([]*model.Module, error) {
	defer r.lock()()
	all := r.sorted(includeArchived, false)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r memModules) Count(_ context.Context, includeArchived bool) (int, error) {
	defer r.lock()()
	return len(r.sorted(includeArchived, false)), nil
}

func (r memModules) ListAvailable(_ context.Context) ([]*model.Module, error) {
	defer r.lock()()
	return r.sorted(false, true), nil
}

// --- grants ---

type memGrants struct{ memRepo }

func (r memGrants) Insert(_ context.Context, g *model.ModuleAccessGrant) (bool, error) {
	defer r.lock()()
	key := grantKey(g.UserID, g.ModuleID)
	if _, ok := r.s.grants[key]; ok {
		return false, nil
	}
	c := *g
	c.CreatedAt = time.Now().UTC()
	g.CreatedAt = c.CreatedAt
	r.s.grants[key] = &c
	return true, nil
}

func (r memGrants) Delete(_ context.Context, userID, moduleID string) (bool, error) {
	defer r.lock()()
	key := grantKey(userID, moduleID)
	if _, ok := r.s.grants[key]; !ok {
		return false, nil
	}
	delete(r.s.grants, key)
	return true, nil
}

func (r memGrants) Exists(_ context.Context, userID, moduleID string) (bool, error) {
	defer r.lock()()
	_, ok := r.s.grants[grantKey(userID, moduleID)]
	return ok, nil
}

func (r memGrants) ModuleIDsForUser(_ context.Context, userID string) (map[string]bool, error) {
	defer r.lock()()
	ids := make(map[string]bool)
	for _, g := range r.s.grants {
		if g.UserID == userID {
			ids[g.ModuleID] = true
		}
	}
	return ids, nil
}

// --- audit ---

type memAudit struct{ memRepo }

func (r memAudit) Append(_ context.Context, e *model.AuditEntry) error {
	defer r.lock()()
	if r.s.appendErr != nil {
		return r.s.appendErr
	}
	c := *e
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func (r memAudit) filtered(f repository.AuditFilter) []*model.AuditEntry {
	var out []*model.AuditEntry
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		e := r.s.audit[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r memAudit) List(_ context.Context, f repository.AuditFilter, limit, offset int) ([]*model.AuditEntry, error) {
	defer r.lock()()
	all := r.filtered(f)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r memAudit) Count(_ context.Context, f repository.AuditFilter) (int, error) {
	defer r.lock()()
	return len(r.filtered(f)), nil
}

// --- webhook events ---

type memEvents struct{ memRepo }

func (r memEvents) IsProcessed(_ context.Context, eventID string) (bool, error) {
	defer r.lock()()
	_, ok := r.s.events[eventID]
	return ok, nil
}

func (r memEvents) MarkProcessed(_ context.Context, eventID, _ string) error {
	defer r.lock()()
	if _, ok := r.s.events[eventID]; !ok {
		r.s.events[eventID] = time.Now().UTC()
	}
	return nil
}

func (r memEvents) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for id, at := range r.s.events {
		if at.Before(before) {
			delete(r.s.events, id)
			n++
		}
	}
	return n, nil
}

// --- sync state ---

type memSyncState struct{ memRepo }

func (r memSyncState) Get(_ context.Context) (*model.SyncState, error) {
	defer r.lock()()
	st := r.s.syncState
	return &st, nil
}

func (r memSyncState) UpdatePlanResyncAt(_ context.Context, t time.Time) error {
	defer r.lock()()
	r.s.syncState.LastPlanResyncAt = &t
	return nil
}

func (r memSyncState) UpdateUserPurgeAt(_ context.Context, t time.Time) error {
	defer r.lock()()
	r.s.syncState.LastUserPurgeAt = &t
	return nil
}

// mockProvider — BillingProvider с подменяемой функцией.
type mockProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, customerRef string) (*model.ProviderSubscription, error)
}

func (p *mockProvider) GetSubscription(ctx context.Context, customerRef string) (*model.ProviderSubscription, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fn == nil {
		return nil, errors.New("провайдер не настроен")
	}
	return p.fn(ctx, customerRef)
}

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
