package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence tracks which gateway node a user is connected to, through Redis
// keys with a TTL. The TTL is the online validity window; the gateway
// refreshes it while sessions live and deletes the key on the last
// disconnect.
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresence(rdb *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

func presenceKey(user string) string { return "chat:presence:" + user }

// TTL is the online validity window; callers refresh faster than this.
func (p *Presence) TTL() time.Duration { return p.ttl }

// Online marks the user online on the given gateway and renews the TTL.
func (p *Presence) Online(ctx context.Context, user, gatewayID string) error {
	return p.rdb.Set(ctx, presenceKey(user), gatewayID, p.ttl).Err()
}

// Offline deletes the presence key.
func (p *Presence) Offline(ctx context.Context, user string) error {
	return p.rdb.Del(ctx, presenceKey(user)).Err()
}

// Lookup reports whether the user is online and on which gateway.
func (p *Presence) Lookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (p *Presence) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err() == nil
}
