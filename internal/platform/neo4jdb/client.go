package neo4jdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/conceptgraph/internal/pkg/ctxutil"
	"github.com/yungbote/conceptgraph/internal/platform/envutil"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	Timeout     time.Duration
	MaxPoolSize int
}

// ConfigFromEnv reads NEO4J_*. An empty URI means the graph is not configured.
func ConfigFromEnv() Config {
	return Config{
		URI:         strings.TrimSpace(envutil.String("NEO4J_URI", "")),
		User:        envutil.String("NEO4J_USER", "neo4j"),
		Password:    strings.TrimSpace(envutil.String("NEO4J_PASSWORD", "")),
		Database:    strings.TrimSpace(envutil.String("NEO4J_DATABASE", "")),
		Timeout:     time.Duration(envutil.Int("NEO4J_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxPoolSize: envutil.Int("NEO4J_MAX_POOL_SIZE", 50),
	}
}

type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	cfg := ConfigFromEnv()
	if cfg.URI == "" {
		return nil, nil
	}
	return NewFromConfig(context.Background(), cfg, log)
}

func NewFromConfig(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4jdb: uri required")
	}
	ctx = ctxutil.Default(ctx)
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(vctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	log.Info("neo4j connected", "uri", cfg.URI, "database", cfg.Database, "user", cfg.User)
	return &Client{
		Driver:   driver,
		Database: cfg.Database,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	ctx = ctxutil.Default(ctx)
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
