package backend

import (
	"context"
	"fmt"

	"github.com/pnptcn/nuner/internal/config"
	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/store"
	"github.com/pnptcn/nuner/pkg/store/badger"
	"github.com/pnptcn/nuner/pkg/store/neo4j"
	"github.com/pnptcn/nuner/pkg/store/pgx"
	"github.com/pnptcn/nuner/pkg/store/redis"
)

// Open connects the storage backend selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	var (
		b   store.Backend
		err error
	)
	switch cfg.Backend {
	case "postgres":
		if err := pgx.Migrate(cfg.Postgres.URL); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b, err = pgx.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	case "neo4j":
		b, err = neo4j.Connect(ctx, neo4j.Options{
			URI:         cfg.Neo4j.URI,
			User:        cfg.Neo4j.User,
			Password:    cfg.Neo4j.Password,
			Database:    cfg.Neo4j.Database,
			MaxPoolSize: cfg.Neo4j.MaxPoolSize,
			Timeout:     cfg.Neo4j.Timeout,
		})
	case "redis":
		b, err = redis.Connect(ctx, redis.Options{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			Prefix:        cfg.Redis.Prefix,
			IdentityLocks: cfg.Redis.IdentityLocks,
		})
	case "badger":
		b, err = badger.New(badger.Options{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory})
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	logger.Info("[Backend] ready", "backend", b.Name())
	return b, nil
}
