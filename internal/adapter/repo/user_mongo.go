package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"entitlements/internal/domain"
)

const ledgerCollection = "ledger_users"

type ledgerDoc struct {
	Email                 string    `bson:"_id"`
	SubjectID             string    `bson:"subject_id"`
	QuotaRemaining        int       `bson:"quota_remaining"`
	IsPremium             bool      `bson:"is_premium"`
	BillingCustomerID     string    `bson:"billing_customer_id"`
	BillingSubscriptionID string    `bson:"billing_subscription_id,omitempty"`
	CreatedAt             time.Time `bson:"created_at"`
	UpdatedAt             time.Time `bson:"updated_at"`
}

func (d ledgerDoc) user() *domain.User {
	return &domain.User{
		Email:                 d.Email,
		SubjectID:             d.SubjectID,
		QuotaRemaining:        d.QuotaRemaining,
		IsPremium:             d.IsPremium,
		BillingCustomerID:     d.BillingCustomerID,
		BillingSubscriptionID: d.BillingSubscriptionID,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

// UserStoreMongo implements domain.UserStore on MongoDB using single-document
// conditional updates.
type UserStoreMongo struct {
	col *mongo.Collection
	now func() time.Time
}

func NewUserStoreMongo(db *mongo.Database) *UserStoreMongo {
	return &UserStoreMongo{col: db.Collection(ledgerCollection), now: time.Now}
}

// EnsureIndexes creates the unique customer and subscription indexes.
func (s *UserStoreMongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "billing_customer_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "billing_subscription_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create ledger indexes: %w", err)
	}
	return nil
}

func (s *UserStoreMongo) Get(ctx context.Context, email string) (*domain.User, error) {
	var doc ledgerDoc
	if err := s.col.FindOne(ctx, bson.M{"_id": email}).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	return doc.user(), nil
}

func (s *UserStoreMongo) Insert(ctx context.Context, u *domain.User) error {
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt
	_, err := s.col.InsertOne(ctx, ledgerDoc{
		Email:                 u.Email,
		SubjectID:             u.SubjectID,
		QuotaRemaining:        u.QuotaRemaining,
		IsPremium:             u.IsPremium,
		BillingCustomerID:     u.BillingCustomerID,
		BillingSubscriptionID: u.BillingSubscriptionID,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicate
	}
	return err
}

func (s *UserStoreMongo) ConsumeQuota(ctx context.Context, email string) (*domain.User, bool, error) {
	filter := bson.M{"_id": email, "is_premium": false, "quota_remaining": bson.M{"$gt": 0}}
	update := bson.M{
		"$inc": bson.M{"quota_remaining": -1},
		"$set": bson.M{"updated_at": s.now().UTC()},
	}
	var doc ledgerDoc
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.user(), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}
	u, err := s.Get(ctx, email)
	if err != nil {
		return nil, false, err
	}
	return u, u.IsPremium, nil
}

func (s *UserStoreMongo) SetPremium(ctx context.Context, upd domain.PremiumUpdate) (bool, error) {
	filter := bson.M{"billing_customer_id": upd.ID}
	if upd.Lookup == domain.BySubscription {
		filter = bson.M{"billing_subscription_id": upd.ID}
	}
	set := bson.M{"is_premium": upd.Premium, "updated_at": s.now().UTC()}
	update := bson.M{"$set": set}
	switch upd.Subscription {
	case domain.SubscriptionSet:
		if upd.SubscriptionID != "" {
			set["billing_subscription_id"] = upd.SubscriptionID
		} else {
			update["$unset"] = bson.M{"billing_subscription_id": ""}
		}
	case domain.SubscriptionClear:
		update["$unset"] = bson.M{"billing_subscription_id": ""}
	}
	res, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *UserStoreMongo) AdjustQuota(ctx context.Context, email string, remaining int) (*domain.User, error) {
	var doc ledgerDoc
	err := s.col.FindOneAndUpdate(ctx,
		bson.M{"_id": email},
		bson.M{"$set": bson.M{"quota_remaining": remaining, "updated_at": s.now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, mongoErr(err)
	}
	return doc.user(), nil
}

func mongoErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return err
}

var _ domain.UserStore = (*UserStoreMongo)(nil)
