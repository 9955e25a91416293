package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"entitlements/internal/domain"
	"entitlements/internal/infra"
	"entitlements/internal/sqlinline"
)

const pgUniqueViolation = "23505"

// UserStorePG implements domain.UserStore on PostgreSQL. Every mutation is a
// single conditional statement, so row-level locking gives per-record atomicity.
type UserStorePG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewUserStore creates a new UserStorePG.
func NewUserStore(sql infra.SQLExecutor) *UserStorePG {
	return &UserStorePG{sql: sql, now: time.Now}
}

func (r *UserStorePG) Get(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.sql.QueryRow(ctx, sqlinline.QSelectLedgerUser, email))
}

func (r *UserStorePG) Insert(ctx context.Context, u *domain.User) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	var stored time.Time
	err := r.sql.QueryRow(ctx, sqlinline.QInsertLedgerUser,
		u.Email,
		u.SubjectID,
		u.QuotaRemaining,
		u.IsPremium,
		u.BillingCustomerID,
		u.BillingSubscriptionID,
		createdAt,
	).Scan(&stored)
	switch {
	case err == nil:
		u.CreatedAt, u.UpdatedAt = stored, stored
		return nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		return domain.ErrDuplicate
	default:
		return err
	}
}

func (r *UserStorePG) ConsumeQuota(ctx context.Context, email string) (*domain.User, bool, error) {
	u, err := scanUser(r.sql.QueryRow(ctx, sqlinline.QConsumeLedgerQuota, email))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	// nothing decremented: the record is premium, exhausted or absent
	u, err = r.Get(ctx, email)
	if err != nil {
		return nil, false, err
	}
	return u, u.IsPremium, nil
}

func (r *UserStorePG) SetPremium(ctx context.Context, upd domain.PremiumUpdate) (bool, error) {
	query := sqlinline.QSetPremiumByCustomer
	if upd.Lookup == domain.BySubscription {
		query = sqlinline.QSetPremiumBySubscription
	}
	tag, err := r.sql.Exec(ctx, query, upd.ID, upd.Premium, int(upd.Subscription), upd.SubscriptionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *UserStorePG) AdjustQuota(ctx context.Context, email string, remaining int) (*domain.User, error) {
	return scanUser(r.sql.QueryRow(ctx, sqlinline.QAdjustLedgerQuota, email, remaining))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.Email,
		&u.SubjectID,
		&u.QuotaRemaining,
		&u.IsPremium,
		&u.BillingCustomerID,
		&u.BillingSubscriptionID,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ domain.UserStore = (*UserStorePG)(nil)
