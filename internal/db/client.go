// Package db holds the PostgreSQL implementations of the durable stores:
// idempotency records, locks, checkpoints and workflow state.
package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// Client wraps pgxpool for database operations
type Client struct {
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewClient creates a new database client from a connection string.
func NewClient(ctx context.Context, connStr string, logger *zap.SugaredLogger) (*Client, error) {
	if connStr == "" {
		return nil, fmt.Errorf("database connection string is required")
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL")
	return &Client{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the worker's tables when they do not exist yet.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (c *Client) Close() {
	c.pool.Close()
}
