package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quizora/internal/bootstrap"
	"quizora/internal/ledger"
	"quizora/internal/tutor"
)

func newBalanceCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show an account's balance and active subscription",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			acct, err := e.svc.Account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account:  %s (%s)\n", acct.ID, acct.Role)
			fmt.Fprintf(out, "balance:  %d\n", acct.Balance)
			fmt.Fprintf(out, "consumed: %d\n", acct.LifetimeConsumed)
			grant, err := e.svc.ActiveSubscription(cmd.Context(), acct.ID)
			if err != nil {
				return err
			}
			if grant == nil {
				fmt.Fprintln(out, "plan:     none")
				return nil
			}
			fmt.Fprintf(out, "plan:     %s (%d of %d credits left", grant.Plan, grant.CreditsRemaining, grant.Credits)
			if grant.ValidUntil != nil {
				fmt.Fprintf(out, ", until %s", grant.ValidUntil.Format(time.DateOnly))
			}
			fmt.Fprintln(out, ")")
			return nil
		}),
	}
}

func newGrantCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <account-id> <amount>",
		Short: "Add credits to an account",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			bal, err := e.svc.Grant(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance %d\n", amount, args[0], bal)
			return nil
		}),
	}
}

func newSubscribeCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <account-id> <plan>",
		Short: "Activate a plan for an account",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			if _, err := e.svc.Account(cmd.Context(), args[0]); err != nil {
				return err
			}
			grant, bal, err := e.svc.Subscribe(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscription %s: %s, +%d credits, balance %d\n", grant.ID, grant.Plan, grant.Credits, bal)
			return nil
		}),
	}
}

func newCancelSubscriptionCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-subscription <grant-id>",
		Short: "Cancel a subscription and reclaim its unused credits",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			grant, reclaimed, bal, err := e.svc.CancelSubscription(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s for %s, reclaimed %d, balance %d\n", grant.ID, grant.AccountID, reclaimed, bal)
			return nil
		}),
	}
}

func newUsageCmd(with runWith) *cobra.Command {
	var (
		limit  int
		cursor string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "usage <account-id>",
		Short: "List an account's usage events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			page, err := e.history.List(cmd.Context(), ledger.ListQuery{AccountID: args[0], Cursor: cursor, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tKIND\tSTATUS\tCOST\tID")
			for _, ev := range page.Events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", ev.CreatedAt.Format(time.RFC3339), ev.Kind, ev.Status, ev.ActualCost, ev.ID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Fprintf(out, "next: --cursor %s\n", page.NextCursor)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size (max 100)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the page as JSON")
	return cmd
}

func newDeleteAccountCmd(with runWith) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account <account-id>",
		Short: "Delete an account with its usage history and grants",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			return nil
		},
		RunE: with(func(cmd *cobra.Command, args []string, e *env) error {
			if err := e.svc.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			if e.files != nil {
				if err := e.files.RemoveAll(cmd.Context(), tutor.AttachmentDir(args[0])); err != nil {
					return fmt.Errorf("account deleted but attachments remain: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func newSweepCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail stale pending events and expire lapsed subscriptions once",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, _ []string, e *env) error {
			res := bootstrap.RunSweep(cmd.Context(), ledger.NewSweeper(e.svc), zerolog.Nop())
			fmt.Fprintf(cmd.OutOrStdout(), "failed %d, skipped %d, expired %d\n", res.Failed, res.Skipped, res.Expired)
			return nil
		}),
	}
}
