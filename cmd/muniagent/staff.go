package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/diego-ramazzini/muniagent/config"
	"github.com/diego-ramazzini/muniagent/internal/store"
)

func staffCMD() *cobra.Command {
	var cfgPath string
	var staff = &cobra.Command{
		Use:   "staff",
		Short: "Manage staff console accounts",
	}

	var email, password string
	var add = &cobra.Command{
		Use:   "add",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || len(password) < 8 {
				return fmt.Errorf("email and a password of at least 8 characters are required")
			}
			cfg := config.LoadConfig(cfgPath)
			dsn, err := cfg.Databases.Postgres.DSN()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connecting to postgres: %w", err)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			if err := st.CreateStaffUser(ctx, email, string(hash)); err != nil {
				return fmt.Errorf("creating staff account: %w", err)
			}
			fmt.Printf("staff account %s created\n", email)
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "staff email")
	add.Flags().StringVar(&password, "password", "", "staff password")
	staff.AddCommand(add)
	staff.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return staff
}
