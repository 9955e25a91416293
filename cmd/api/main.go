package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"entitlements/internal/adapter/repo"
	"entitlements/internal/billing"
	"entitlements/internal/http/handlers"
	httpapi "entitlements/internal/http/httpapi"
	"entitlements/internal/infra"
	"entitlements/internal/infra/geoip"
	"entitlements/internal/infra/google"
	"entitlements/internal/ledger"
	"entitlements/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx := context.Background()

	store, closeStore, err := repo.OpenUserStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.LedgerDriver).Msg("failed to open ledger store")
	}
	defer closeStore()

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(infra.Component(logger, "ledger")),
		ledger.WithFreeQuota(cfg.FreeQuota),
		ledger.WithFactoryTimeout(cfg.BillingTimeout),
	}
	var dedup billing.Deduper = billing.NewMemoryDeduper(cfg.WebhookDedupTTL)
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithLocker(ledger.NewRedisLocker(rdb, ledger.CreationLockTTL(cfg.BillingTimeout))))
		dedup = billing.NewRedisDeduper(rdb, cfg.WebhookDedupTTL)
	}
	led := ledger.NewService(store, ledgerOpts...)

	sessions, err := session.NewIssuer(cfg.JWTSecret, session.WithTTL(cfg.SessionTTL))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid session configuration")
	}

	if !cfg.WebhookVerificationEnabled() {
		logger.Warn().Msg("STRIPE_WEBHOOK_SECRET not set; webhook payloads are trusted without signature checks")
	}
	billingLog := infra.Component(logger, "billing")
	webhooks := billing.NewProcessor(
		billing.NewStripeParser(cfg.StripeWebhookSecret),
		led,
		billing.WithDeduper(dedup),
		billing.WithNotifier(billing.NewLogNotifier(billingLog)),
		billing.WithProcessorLogger(billingLog),
	)

	metered, err := handlers.NewMeteredProxy(cfg.MeteredUpstreamURL, infra.Component(logger, "metered"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid metered upstream")
	}

	countries, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer countries.Close()

	app := &handlers.App{
		Config:   cfg,
		Logger:   logger,
		Verifier: google.NewVerifier(cfg.GoogleIssuer, cfg.GoogleClientID),
		Sessions: sessions,
		Ledger:   led,
		Billing:  billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripePriceID, billing.WithTimeout(cfg.BillingTimeout)),
		Webhooks: webhooks,
		Metered:  metered,
	}

	router := httpapi.NewRouter(app, countries.Lookup())
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("ledger", cfg.LedgerDriver).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
