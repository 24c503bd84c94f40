package config

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ChatSync/module/status"
	"ChatSync/service/bus"
)

// NewBus builds the configured Event Bus driver.
func (c *AppConfig) NewBus() (bus.Bus, error) {
	switch c.BusDriver {
	case BusDriverNats:
		return bus.NewNatsBus(c.NatsURL)
	case BusDriverRedis:
		return bus.NewRedisBus(bus.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
	default:
		return nil, errors.Errorf("unknown bus driver: %s", c.BusDriver)
	}
}

// NewPgPool connects the relational database.
func (c *AppConfig) NewPgPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, c.PostgresDSN)
	if err != nil {
		return nil, errors.Wrap(err, "pgx pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres ping")
	}
	return pool, nil
}

// NewMongoDatabase connects the document database.
func (c *AppConfig) NewMongoDatabase(ctx context.Context) (*mongo.Database, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(c.MongoURI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(connCtx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo ping")
	}
	return client.Database(c.MongoDatabase), nil
}

// NewStatusStore builds the configured status store backend. The pg pool is
// reused when the relational driver is selected.
func (c *AppConfig) NewStatusStore(ctx context.Context, pool *pgxpool.Pool) (status.Store, error) {
	switch c.StoreDriver {
	case StoreDriverMongo:
		db, err := c.NewMongoDatabase(ctx)
		if err != nil {
			return nil, err
		}
		return status.NewMongoStore(db)
	case StoreDriverPostgres:
		if pool == nil {
			return nil, errors.New("nil pg pool for postgres status store")
		}
		return status.NewPgStore(pool), nil
	default:
		return nil, errors.Errorf("unknown store driver: %s", c.StoreDriver)
	}
}

// InlineStatuses reports whether the message insert transaction also covers
// the status rows (only when both live in Postgres).
func (c *AppConfig) InlineStatuses() bool {
	return c.StoreDriver == StoreDriverPostgres
}
