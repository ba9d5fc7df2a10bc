package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/weblog-relay/internal/retry"
)

// Client wraps the shared pgx connection pool
type Client struct {
	pool     *pgxpool.Pool
	retryCfg retry.Config
}

// NewClient creates a new Postgres client with default retry config
func NewClient(ctx context.Context, dsn string) (*Client, error) {
	return NewClientWithRetry(ctx, dsn, retry.DefaultConfig())
}

// NewClientWithRetry creates a new Postgres client with custom retry configuration
func NewClientWithRetry(ctx context.Context, dsn string, retryCfg retry.Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection with retry
	if err := retry.Do(ctx, retryCfg, func() error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info().
		Str("database", poolCfg.ConnConfig.Database).
		Str("host", poolCfg.ConnConfig.Host).
		Msg("Connected to Postgres")

	return &Client{
		pool:     pool,
		retryCfg: retryCfg,
	}, nil
}

// Pool returns the underlying connection pool
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping checks database reachability
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close closes the pool
func (c *Client) Close() {
	log.Info().Msg("Closing Postgres connection pool")
	c.pool.Close()
}
