package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/config"
	"github.com/congo-pay/upi_settle/internal/ids"
	"github.com/congo-pay/upi_settle/internal/infra"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/logging"
	"github.com/congo-pay/upi_settle/internal/secret"
	"github.com/congo-pay/upi_settle/internal/store"
)

var errChainInvalid = errors.New("ledger chain is invalid")

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the settlement ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(blocksCmd())
	rootCmd.AddCommand(deriveCmd())
	rootCmd.AddCommand(setBalanceCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errChainInvalid) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// withStore opens the configured Postgres store for the duration of fn.
func withStore(ctx context.Context, fn func(config.Config, *store.Postgres) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		return err
	}
	return fn(cfg, store.NewPostgres(db))
}

// withLedger opens the configured Postgres ledger for the duration of fn.
func withLedger(ctx context.Context, fn func(*ledger.Service) error) error {
	return withStore(ctx, func(cfg config.Config, pg *store.Postgres) error {
		logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)
		return fn(ledger.NewService(pg, logger, false))
	})
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Walk the chain and report the first broken block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(svc *ledger.Service) error {
				res, err := svc.Verify(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.Valid {
					fmt.Fprintf(out, "valid: %d blocks examined\n", res.Examined)
					return nil
				}
				fmt.Fprintf(out, "INVALID at position %d (block %s): %s\n", res.Position, res.BlockID, res.Reason)
				return errChainInvalid
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Append blocks for transaction records that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(svc *ledger.Service) error {
				appended, err := svc.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, b := range appended {
					fmt.Fprintf(out, "%d\t%s\t%s\n", b.Height, b.ID, b.TransactionID)
				}
				fmt.Fprintf(out, "reconciled %d transactions\n", len(appended))
				return nil
			})
		},
	}
}

func blocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocks",
		Short: "List ledger blocks in append order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(svc *ledger.Service) error {
				blocks, err := svc.Blocks(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, b := range blocks {
					fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n", b.Height, b.ID, b.PrevID, b.TransactionID, b.Timestamp.Format(time.RFC3339Nano))
				}
				return nil
			})
		},
	}
}

func deriveCmd() *cobra.Command {
	var useTime bool
	cmd := &cobra.Command{
		Use:   "derive part...",
		Short: "Print the 16-hex identifier derived from the given seed parts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), ids.Derive(args, useTime))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&useTime, "time", "t", false, "Append the current timestamp to the seed")
	return cmd
}

func setBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-balance account-id amount",
		Short: "Correct an account balance outside the settlement flow",
		Long: `Overwrites the balance of one account. The change is not a settlement
and leaves no transaction record or ledger block; use it only for operator
corrections.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("parse amount: %w", err)
			}
			return withStore(cmd.Context(), func(cfg config.Config, pg *store.Postgres) error {
				acct, err := setBalance(cmd.Context(), account.NewService(pg, secret.NewBcrypt(cfg.BcryptCost), nil), args[0], amount)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", acct.ID, acct.Kind, acct.Balance.StringFixed(2))
				return nil
			})
		},
	}
}

// setBalance applies an operator balance correction to whichever kind of
// account id names.
func setBalance(ctx context.Context, accounts *account.Service, id string, amount decimal.Decimal) (account.Account, error) {
	current, err := accounts.Get(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	return accounts.Update(ctx, id, current.Kind, account.Patch{Balance: &amount})
}
