package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Pool sizing for the archive writer. A single relay process holds one
// small pool; insert batches arrive at feed rate, not tick rate.
const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// Option configures Client.
type Option func(*settings)

type settings struct {
	host        string
	port        int
	database    string
	user        string
	password    string
	dialTimeout time.Duration
	readTimeout time.Duration
}

// WithAddr sets the server host and port.
func WithAddr(host string, port int) Option {
	return func(s *settings) {
		s.host = host
		s.port = port
	}
}

// WithDatabase sets the database name.
func WithDatabase(database string) Option {
	return func(s *settings) {
		s.database = database
	}
}

// WithCredentials sets username and password.
func WithCredentials(user, password string) Option {
	return func(s *settings) {
		s.user = user
		s.password = password
	}
}

// WithTimeouts sets dial and read timeouts.
func WithTimeouts(dial, read time.Duration) Option {
	return func(s *settings) {
		s.dialTimeout = dial
		s.readTimeout = read
	}
}

// Client manages the ClickHouse connection pool used by the signal
// archive.
type Client struct {
	db *sql.DB
}

// NewClient opens a pooled connection and verifies it with a ping.
func NewClient(opts ...Option) (*Client, error) {
	s := &settings{
		port:        9000,
		dialTimeout: 5 * time.Second,
		readTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.host == "" {
		return nil, fmt.Errorf("host is required")
	}

	db, err := sql.Open("clickhouse", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), s.dialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return &Client{db: db}, nil
}

func (s *settings) dsn() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?dial_timeout=%s&read_timeout=%s",
		s.user, s.password, s.host, s.port, s.database, s.dialTimeout, s.readTimeout)
}

// DB returns the underlying *sql.DB.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema executes the given DDL statements. Safe to run on every
// start when the statements are IF NOT EXISTS.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
