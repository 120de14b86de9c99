package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/store"
)

func main() {
	root := &cobra.Command{Use: "agentd", Short: "Agent orchestration daemon"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			dsn := cfg.Postgres.DSN()
			if dsn == "" {
				return fmt.Errorf("postgres is not configured")
			}
			return store.Migrate(dsn)
		},
	}

	hashpw := &cobra.Command{
		Use:   "hashpw <password>",
		Short: "Hash an admin password for server.admin_pass_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Println(string(hash))
			return nil
		},
	}

	root.AddCommand(serve, migrate, hashpw)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
