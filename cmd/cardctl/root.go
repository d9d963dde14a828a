package main

import (
	"fmt"
	"os"

	"card_shop/internal/config"
	"card_shop/internal/db"
	"card_shop/internal/logging"
	"card_shop/internal/store"

	"github.com/spf13/cobra"
)

var (
	dsnFlag string
	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:           "cardctl",
		Short:         "Card shop maintenance commands",
		Long:          `cardctl migrates the schema, imports card codes, sweeps expired orders and reports stock.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "database DSN (defaults to DB_DSN / config file)")
}

// Execute 运行根命令。
func Execute() error {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(stockCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// openStore 加载配置、初始化日志并打开数据库。
func openStore() (*store.Store, config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.AppConfig{}, err
	}
	if dsnFlag != "" {
		cfg.DBDSN = dsnFlag
	}
	logging.Setup(cfg.Log)

	conn, err := db.Open(cfg.DBDSN)
	if err != nil {
		return nil, cfg, err
	}
	if err := db.Migrate(conn); err != nil {
		return nil, cfg, err
	}
	return store.New(conn), cfg, nil
}
