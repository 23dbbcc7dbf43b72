package app

import (
	"context"
	"fmt"

	"github.com/yungbote/conceptgraph/internal/data/db"
	"github.com/yungbote/conceptgraph/internal/platform/gcp"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
	"github.com/yungbote/conceptgraph/internal/platform/neo4jdb"
	"github.com/yungbote/conceptgraph/internal/platform/redislock"
)

type Clients struct {
	Neo4j      *neo4jdb.Client
	RunHistory *db.RunHistoryService
	Objects    *gcp.ObjectReader
	LoadLock   *redislock.Locker
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Neo4j
	if cfg.Mode.Loads() {
		client, err := neo4jdb.NewFromConfig(ctx, cfg.Neo4j, log)
		if err != nil {
			return Clients{}, fmt.Errorf("init neo4j: %w", err)
		}
		c.Neo4j = client

		// Redis
		lock, err := redislock.NewFromEnv(log)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init load lock: %w", err)
		}
		c.LoadLock = lock
	}

	// Gcs
	if cfg.Mode.Stages() && usesObjectStorage(cfg.Sources) {
		objects, err := gcp.NewObjectReaderFromEnv(ctx, log)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init object reader: %w", err)
		}
		c.Objects = objects
	}

	// Run history
	if cfg.RunHistoryDSN != "" {
		rh, err := db.NewRunHistoryService(cfg.RunHistoryDSN, log)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init run history: %w", err)
		}
		c.RunHistory = rh
	}
	return c, nil
}

func usesObjectStorage(sources []SnapshotSource) bool {
	for _, s := range sources {
		if gcp.IsObjectURI(s.Current) || gcp.IsObjectURI(s.Previous) {
			return true
		}
	}
	return false
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.LoadLock != nil {
		_ = c.LoadLock.Close()
	}
	if c.Objects != nil {
		_ = c.Objects.Close()
	}
	if c.RunHistory != nil {
		_ = c.RunHistory.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(context.Background())
	}
}
