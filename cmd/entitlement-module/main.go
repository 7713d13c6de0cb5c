// Точка входа Entitlement Module — тарифы, подписки и доступ к модулям SaaS.
// Команды: serve (по умолчанию) — HTTP API, webhook Stripe и фоновые задачи;
// migrate — миграции БД; sync-plan — ручная сверка тарифа пользователя.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/saaskit/entitlement-module/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "entitlement-module",
	Short:         "Entitlement Module — тарифы и доступ пользователей к модулям",
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP-сервер и фоновые задачи",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down N]",
	Short: "Применить или откатить миграции БД",
	Example: `  # Применить все миграции
  entitlement-module migrate up

  # Откатить две последние миграции
  entitlement-module migrate down 2`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(args)
	},
}

var syncPlanCmd = &cobra.Command{
	Use:   "sync-plan <user-id>",
	Short: "Сверить тариф пользователя с биллинг-провайдером",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSyncPlan(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncPlanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
