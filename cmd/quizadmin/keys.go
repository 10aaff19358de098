package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quizora/internal/domain"
	"quizora/internal/middleware"
)

func newGeminiKeyCmd(with runWith) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gemini-key",
		Short: "Manage the stored Gemini API key",
	}

	var key string
	set := &cobra.Command{
		Use:   "set [key]",
		Short: "Store the Gemini API key used when GEMINI_API_KEY is unset",
		Args:  cobra.MaximumNArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			k := strings.TrimSpace(key)
			if len(args) == 1 {
				k = strings.TrimSpace(args[0])
			}
			if k == "" {
				k = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
			}
			if k == "" {
				return errors.New("an API key is required as an argument, via --key or GEMINI_API_KEY")
			}
			if err := e.keys.SetGeminiAPIKey(cmd.Context(), k); err != nil {
				return fmt.Errorf("persist gemini api key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "gemini api key stored; restart the API to pick it up")
			return nil
		}),
	}
	set.Flags().StringVar(&key, "key", "", "API key (defaults to GEMINI_API_KEY)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored Gemini API key",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, _ []string, e *env) error {
			removed, err := e.keys.ClearGeminiAPIKey(cmd.Context())
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "no stored gemini api key")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "gemini api key removed")
			return nil
		}),
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func newTokenCmd(with runWith) *cobra.Command {
	var (
		role  string
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <account-id>",
		Short: "Issue a bearer token for local testing and operations",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			r := domain.AccountRole(strings.ToLower(strings.TrimSpace(role)))
			if r != domain.AccountRoleUser && r != domain.AccountRoleAdmin {
				return fmt.Errorf("role must be %q or %q", domain.AccountRoleUser, domain.AccountRoleAdmin)
			}
			token, err := middleware.IssueToken(e.jwtSecret, middleware.Identity{
				AccountID: args[0],
				Email:     email,
				Role:      r,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
	cmd.Flags().StringVar(&role, "role", string(domain.AccountRoleUser), "user or admin")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
