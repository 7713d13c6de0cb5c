// purge_test.go — unit-тесты очистки удалённых пользователей.
package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/saaskit/entitlement-module/internal/domain/model"
)

func TestUserPurgeService_PurgeNow(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	longAgo := now.Add(-40 * 24 * time.Hour)
	recently := now.Add(-time.Hour)
	store.addUser(&model.User{ID: testUserID, Email: "old@example.com", DeletedAt: &longAgo})
	store.addUser(&model.User{ID: testAdminID, Email: "recent@example.com", DeletedAt: &recently})
	store.addUser(&model.User{ID: testOtherID, Email: "alive@example.com"})
	store.addModule(&model.Module{ID: modReportsID, Key: "reports", MinPlan: model.PlanFree, Enabled: true})
	if _, err := store.repos().Grants.Insert(context.Background(), &model.ModuleAccessGrant{UserID: testUserID, ModuleID: modReportsID}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	svc := NewUserPurgeService(store.repos(), 30*24*time.Hour, time.Hour, testLogger())
	svc.now = func() time.Time { return now }

	result, err := svc.PurgeNow(context.Background())
	if err != nil {
		t.Fatalf("PurgeNow: %v", err)
	}
	if result.Purged != 1 {
		t.Errorf("Purged = %d, ожидается 1", result.Purged)
	}
	if !result.Cutoff.Equal(now.Add(-30 * 24 * time.Hour)) {
		t.Errorf("Cutoff = %v", result.Cutoff)
	}

	if store.user(testUserID) != nil {
		t.Error("давно удалённый пользователь должен быть очищен")
	}
	if store.user(testAdminID) == nil || store.user(testOtherID) == nil {
		t.Error("недавно удалённый и живой пользователи должны остаться")
	}
	if ok, _ := store.repos().Grants.Exists(context.Background(), testUserID, modReportsID); ok {
		t.Error("выдачи очищенного пользователя должны быть удалены")
	}

	st, _ := store.repos().SyncState.Get(context.Background())
	if st.LastUserPurgeAt == nil || !st.LastUserPurgeAt.Equal(now) {
		t.Errorf("LastUserPurgeAt = %v, ожидается %v", st.LastUserPurgeAt, now)
	}
}

func TestUserPurgeService_StartStop(t *testing.T) {
	store := newMemStore()
	svc := NewUserPurgeService(store.repos(), time.Hour, 10*time.Millisecond, testLogger())

	svc.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	svc.Stop()

	st, _ := store.repos().SyncState.Get(context.Background())
	if st.LastUserPurgeAt == nil {
		t.Error("фоновая очистка должна была выполниться хотя бы раз")
	}
}
