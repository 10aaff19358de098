package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"quizora/internal/bootstrap"
	"quizora/internal/infra"
	"quizora/internal/infra/credentials"
	"quizora/internal/ledger"
	"quizora/internal/storage"
)

// keyStore is the credential surface the CLI manages.
type keyStore interface {
	SetGeminiAPIKey(ctx context.Context, key string) error
	ClearGeminiAPIKey(ctx context.Context) (bool, error)
}

type attachmentRemover interface {
	RemoveAll(ctx context.Context, key string) error
}

// env holds what a command needs. Tests build one over the memory ledger.
type env struct {
	svc       *ledger.Service
	history   *ledger.History
	keys      keyStore
	files     attachmentRemover
	jwtSecret string
	close     func()
}

type opener func(ctx context.Context) (*env, error)

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.UsesPostgres() {
		return nil, errors.New("quizadmin needs LEDGER_DRIVER=postgres; the memory ledger lives inside the API process")
	}
	logger := infra.NewLogger("cli", "warn").With().Str("cmd", "quizadmin").Logger()
	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	stack, err := bootstrap.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		svc:       stack.Service,
		history:   stack.History,
		keys:      credentials.NewStore(stack.Runner),
		files:     files,
		jwtSecret: cfg.JWTSecret,
		close:     stack.Close,
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "quizadmin",
		Short:         "Operate the Quizora credit ledger",
		Long:          "quizadmin inspects and adjusts account balances, subscriptions and provider credentials directly against the ledger database.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// with opens the environment for the duration of one command.
	with := func(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			if e.close != nil {
				defer e.close()
			}
			return fn(cmd, args, e)
		}
	}

	root.AddCommand(
		newBalanceCmd(with),
		newGrantCmd(with),
		newSubscribeCmd(with),
		newCancelSubscriptionCmd(with),
		newUsageCmd(with),
		newDeleteAccountCmd(with),
		newSweepCmd(with),
		newGeminiKeyCmd(with),
		newTokenCmd(with),
	)
	return root
}

type runWith func(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error
