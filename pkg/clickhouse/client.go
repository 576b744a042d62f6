package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

var errNoAddr = errors.New("clickhouse: at least one address is required")

// Client owns a database/sql pool backed by the native ClickHouse driver.
type Client struct {
	db *sql.DB
}

// NewClient opens the pool and verifies the server answers within DialTimeout.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	chOpts, err := s.driverOptions()
	if err != nil {
		return nil, err
	}

	db := ch.OpenDB(chOpts)
	pingCtx, cancel := context.WithTimeout(ctx, s.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{db: db}, nil
}

func (s Settings) driverOptions() (*ch.Options, error) {
	if len(s.Addrs) == 0 {
		return nil, errNoAddr
	}
	o := &ch.Options{
		Protocol: ch.Native,
		Addr:     s.Addrs,
		Auth: ch.Auth{
			Database: s.Database,
			Username: s.User,
			Password: s.Password,
		},
		DialTimeout:     s.DialTimeout,
		ReadTimeout:     s.ReadTimeout,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
		Settings:        ch.Settings{},
	}
	if s.AsyncInsert {
		o.Settings["async_insert"] = 1
		if s.WaitForAsync {
			o.Settings["wait_for_async_insert"] = 1
		}
	}
	return o, nil
}

// DB exposes the pool to stores.
func (c *Client) DB() *sql.DB { return c.db }

// Health is used by the readiness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema applies idempotent DDL in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i, err)
		}
	}
	return nil
}
