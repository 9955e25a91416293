package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"entitlements/internal/adapter/repo"
	"entitlements/internal/domain"
	"entitlements/internal/infra"
	"entitlements/internal/ledger"
)

func main() {
	var (
		emailFlag string
		planFlag  string
		quotaFlag int
	)

	flag.StringVar(&emailFlag, "email", "", "account email to update")
	flag.StringVar(&planFlag, "plan", "", "plan to assign (free, premium); empty keeps the current plan")
	flag.IntVar(&quotaFlag, "quota", -1, "remaining free calls to set (negative keeps the current value)")
	flag.Parse()

	_ = godotenv.Load()

	email := domain.NormalizeEmail(emailFlag)
	plan := strings.TrimSpace(strings.ToLower(planFlag))
	if email == "" {
		exitWithError(errors.New("-email is required"))
	}
	switch plan {
	case "", "free", "premium":
	default:
		exitWithError(fmt.Errorf("unsupported plan %q", plan))
	}
	if plan == "" && quotaFlag < 0 {
		exitWithError(errors.New("nothing to do: pass -plan and/or -quota"))
	}

	cfg, err := infra.LoadStorageConfig()
	if err != nil {
		exitWithError(err)
	}
	if cfg.LedgerDriver == infra.LedgerMemory {
		exitWithError(errors.New("LEDGER_DRIVER=memory has no shared state to update; use postgres or mongo"))
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "userplan").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, closeStore, err := repo.OpenUserStore(ctx, cfg, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to open ledger: %w", err))
	}
	defer closeStore()

	svc := ledger.NewService(store, ledger.WithLogger(logger))
	user, err := svc.Get(ctx, email)
	if err != nil {
		exitWithError(fmt.Errorf("failed to load user: %w", err))
	}

	if plan != "" {
		if user.BillingCustomerID == "" {
			exitWithError(fmt.Errorf("user %s has no billing customer", email))
		}
		if _, err := svc.SetPremium(ctx, domain.PremiumUpdate{
			Lookup:  domain.ByCustomer,
			ID:      user.BillingCustomerID,
			Premium: plan == "premium",
		}); err != nil {
			exitWithError(fmt.Errorf("failed to update plan: %w", err))
		}
	}
	if quotaFlag >= 0 {
		if _, err := svc.AdjustQuota(ctx, email, quotaFlag); err != nil {
			exitWithError(fmt.Errorf("failed to update quota: %w", err))
		}
	}

	user, err = svc.Get(ctx, email)
	if err != nil {
		exitWithError(fmt.Errorf("failed to reload user: %w", err))
	}
	fmt.Printf("User %s (%s) updated\n", user.Email, user.SubjectID)
	fmt.Printf("is_premium=%v\n", user.IsPremium)
	fmt.Printf("api_calls_remaining=%d\n", user.QuotaRemaining)
	if user.BillingSubscriptionID != "" {
		fmt.Printf("stripe_subscription_id=%s\n", user.BillingSubscriptionID)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
