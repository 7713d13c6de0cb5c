package main

import "testing"

// TestCommandTree проверяет набор подкоманд и ограничения аргументов.
func TestCommandTree(t *testing.T) {
	for _, name := range []string{"serve", "migrate", "sync-plan"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("подкоманда %s не зарегистрирована: %v", name, err)
		}
	}

	tests := []struct {
		name    string
		check   func() error
		wantErr bool
	}{
		{"sync-plan без аргумента", func() error { return syncPlanCmd.Args(syncPlanCmd, nil) }, true},
		{"sync-plan с user-id", func() error {
			return syncPlanCmd.Args(syncPlanCmd, []string{"11111111-1111-4111-8111-111111111111"})
		}, false},
		{"migrate без аргументов", func() error { return migrateCmd.Args(migrateCmd, nil) }, false},
		{"migrate down 2", func() error { return migrateCmd.Args(migrateCmd, []string{"down", "2"}) }, false},
		{"migrate лишние аргументы", func() error { return migrateCmd.Args(migrateCmd, []string{"down", "2", "3"}) }, true},
		{"serve с аргументом", func() error { return serveCmd.Args(serveCmd, []string{"x"}) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if (err != nil) != tt.wantErr {
				t.Errorf("ошибка = %v, ожидалась ошибка: %v", err, tt.wantErr)
			}
		})
	}
}

// TestRunMigrate_BadConfig — без обязательных переменных окружения команда завершается ошибкой.
func TestRunMigrate_BadConfig(t *testing.T) {
	t.Setenv("EM_DB_HOST", "")
	t.Setenv("EM_ENV_FILE", "")
	if err := runMigrate([]string{"up"}); err == nil {
		t.Error("runMigrate без конфигурации должен вернуть ошибку")
	}
}
