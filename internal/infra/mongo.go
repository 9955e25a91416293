package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NewMongoDatabase connects to MONGODB_URL and returns the configured database handle.
func NewMongoDatabase(ctx context.Context, cfg *Config) (*mongo.Database, error) {
	if cfg == nil || cfg.MongoURL == "" {
		return nil, errors.New("mongodb url is required")
	}

	client, err := mongo.Connect(
		options.Client().
			ApplyURI(cfg.MongoURL).
			SetConnectTimeout(10 * time.Second).
			SetMaxPoolSize(20).
			SetRetryWrites(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client.Database(cfg.MongoDatabase), nil
}
