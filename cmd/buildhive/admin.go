package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/buildhive/buildhive/internal/adapter/postgres"
	"github.com/buildhive/buildhive/internal/config"
	"github.com/buildhive/buildhive/internal/service"
)

// runAdmin dispatches admin subcommands (grant-credits, balance, ledger).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "grant-credits":
		return runAdminGrantCredits(args[1:])
	case "balance":
		return runAdminBalance(args[1:])
	case "ledger":
		return runAdminLedger(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: buildhive admin <command> [options]

Commands:
  grant-credits    Add credits to a user's balance
  balance          Show a user's credit balance
  ledger           Show a user's recent ledger entries
  help             Show this help message

Examples:
  buildhive admin grant-credits --user 5f1c... --amount 100 --reason "Promo top-up"
  buildhive admin balance --user 5f1c...
  buildhive admin ledger --user 5f1c... --limit 20
`)
}

func loadAdminDeps() (*service.CreditService, *postgres.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool)
	creditSvc := service.NewCreditService(store, nil, 0)

	cleanup := func() {
		pool.Close()
	}
	return creditSvc, store, cleanup, nil
}

func runAdminGrantCredits(args []string) error {
	fs := flag.NewFlagSet("grant-credits", flag.ContinueOnError)
	userID := fs.String("user", "", "user ID (required)")
	amount := fs.Float64("amount", 0, "credits to add (required, positive)")
	reason := fs.String("reason", "Admin grant", "ledger reason")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("--user is required")
	}
	if *amount <= 0 {
		return fmt.Errorf("--amount must be positive")
	}

	creditSvc, _, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	balance, err := creditSvc.Add(context.Background(), *userID, *amount, *reason, "admin", "")
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Granted %.4f credits to %s (new balance: %.4f)\n", *amount, *userID, balance)
	return nil
}

func runAdminBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	userID := fs.String("user", "", "user ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("--user is required")
	}

	_, store, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	balance, err := store.UserCredits(context.Background(), *userID)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	fmt.Printf("%.4f\n", balance)
	return nil
}

func runAdminLedger(args []string) error {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	userID := fs.String("user", "", "user ID (required)")
	limit := fs.Int("limit", 20, "maximum entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return fmt.Errorf("--user is required")
	}

	creditSvc, _, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := creditSvc.History(context.Background(), *userID, *limit)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No ledger entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tDELTA\tBALANCE\tREASON\tREF")
	for i := range entries {
		ref := entries[i].ReferenceType
		if entries[i].ReferenceID != "" {
			ref += ":" + entries[i].ReferenceID
		}
		_, _ = fmt.Fprintf(w, "%s\t%+.4f\t%.4f\t%s\t%s\n",
			entries[i].CreatedAt.Format("2006-01-02 15:04:05"), entries[i].Delta, entries[i].BalanceAfter, entries[i].Reason, ref)
	}
	return w.Flush()
}
