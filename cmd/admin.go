/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/internal/db"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/internal/store"
)

var promoteEmail string

// adminCmd groups account administration tasks.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Account administration",
}

var adminPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Grant administrator rights to an existing account",
	Long: `Grant administrator rights to an existing account. Usage:

	storefront admin promote --email someone@example.com
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		database, err := db.Open(cmd.Context(), cfg.Mongo)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		defer func() {
			_ = db.Close(context.Background(), database)
		}()

		users := services.NewUserService(store.NewUserRepository(database), nil)
		if err := users.Promote(cmd.Context(), promoteEmail); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no account with email %q", promoteEmail)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now an administrator\n", promoteEmail)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminPromoteCmd)
	adminPromoteCmd.Flags().StringVar(&promoteEmail, "email", "", "email of the account to promote")
	_ = adminPromoteCmd.MarkFlagRequired("email")
}
