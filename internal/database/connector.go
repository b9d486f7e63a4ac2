package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Conn is the single relational connection the Executor drives.
// *sql.Conn satisfies it.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	Close() error
}

// Connector opens connections for an Executor.
type Connector interface {
	// Connect returns a fresh connection. It is called lazily on first use
	// and again after a connection was discarded by a retryable failure.
	Connect(ctx context.Context) (Conn, error)

	// Close releases everything the connector holds.
	Close() error
}

// ConnectorConfig holds the pool settings of a SQLConnector.
type ConnectorConfig struct {
	// Driver is the database/sql driver name ("postgres", "mysql", "sqlite3").
	Driver string

	// DSN is the driver-specific data source name.
	DSN string

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration

	// ConnMaxLifetime is passed to sql.DB.SetConnMaxLifetime.
	ConnMaxLifetime time.Duration
}

// SQLConnector hands out connections from a database/sql pool limited to a
// single open connection.
type SQLConnector struct {
	db *sql.DB
}

// NewSQLConnector opens the pool and verifies it can reach the server.
func NewSQLConnector(ctx context.Context, cfg ConnectorConfig) (*SQLConnector, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLConnector{db: db}, nil
}

// Connect implements Connector.
func (c *SQLConnector) Connect(ctx context.Context) (Conn, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close implements Connector.
func (c *SQLConnector) Close() error {
	return c.db.Close()
}
