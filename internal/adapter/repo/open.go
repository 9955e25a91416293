package repo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"entitlements/internal/domain"
	"entitlements/internal/infra"
	"entitlements/internal/ledger"
)

// OpenUserStore connects the ledger backend selected by LEDGER_DRIVER. The
// returned close func releases the connection and is never nil.
func OpenUserStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (domain.UserStore, func(), error) {
	switch cfg.LedgerDriver {
	case infra.LedgerPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, func() {}, err
		}
		runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
		return NewUserStore(runner), pool.Close, nil

	case infra.LedgerMongo:
		db, err := infra.NewMongoDatabase(ctx, cfg)
		if err != nil {
			return nil, func() {}, err
		}
		closeFn := func() { _ = db.Client().Disconnect(context.Background()) }
		store := NewUserStoreMongo(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, func() {}, fmt.Errorf("mongo indexes: %w", err)
		}
		return store, closeFn, nil

	case infra.LedgerMemory:
		logger.Warn().Msg("ledger uses in-memory storage; records are lost on restart")
		return ledger.NewMemoryStore(), func() {}, nil
	}
	return nil, func() {}, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
}
