package billing

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers webhook event ids that were already applied.
type Deduper interface {
	// Claim records id and reports whether this is its first delivery.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so a redelivery is processed again.
	Release(ctx context.Context, id string) error
}

// MemoryDeduper keeps claimed ids in process until they expire.
type MemoryDeduper struct {
	mu      sync.Mutex
	ttl     time.Duration
	seen    map[string]time.Time
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:     ttl,
		seen:    make(map[string]time.Time),
		now:     time.Now,
		gcEvery: time.Minute,
	}
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if now.Sub(d.lastGC) > d.gcEvery {
		for k, exp := range d.seen {
			if now.After(exp) {
				delete(d.seen, k)
			}
		}
		d.lastGC = now
	}
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[id] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}

// RedisDeduper shares claimed ids across instances with SET NX and a TTL.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "entitlements:webhook:", ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+id, time.Now().Unix(), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.prefix+id).Err()
}

var (
	_ Deduper = (*MemoryDeduper)(nil)
	_ Deduper = (*RedisDeduper)(nil)
)
