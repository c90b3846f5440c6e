// Package db stores conversations, messages and memories in SurrealDB.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// The websocket upgrade needs HTTP/1.1; without this wss:// endpoints
	// negotiate h2 via ALPN and the handshake fails.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

const (
	AuthRoot     = "root"
	AuthDatabase = "database"
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // AuthRoot (default) or AuthDatabase
}

var reconnect = struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	maxRetries   int
	checkEvery   time.Duration
}{
	initialDelay: time.Second,
	maxDelay:     30 * time.Second,
	maxRetries:   10,
	checkEvery:   5 * time.Second,
}

// Client is the SurrealDB store. The underlying websocket reconnects on its
// own; session state (auth, namespace) is restored by rews.
type Client struct {
	conn *rews.Connection[*gorillaws.Connection]
	db   *surrealdb.DB
	cfg  Config
	log  *slog.Logger
}

// NewClient connects, signs in and selects the namespace and database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("store", "surrealdb")

	conn := dial(cfg, logger.New(log.Handler()))

	log.Info("connecting", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	sdb, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	c := &Client{conn: conn, db: sdb, cfg: cfg, log: log}
	if err := c.signIn(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	if err := sdb.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("connected", "namespace", cfg.Namespace, "database", cfg.Database)
	return c, nil
}

// dial builds an auto-reconnecting connection. gorillaws appends /rpc
// itself, so a configured /rpc suffix is stripped.
func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		reconnect.checkEvery,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = reconnect.initialDelay
	retryer.MaxDelay = reconnect.maxDelay
	retryer.Multiplier = 2.0
	retryer.MaxRetries = reconnect.maxRetries
	conn.Retryer = retryer
	return conn
}

func (c *Client) signIn(ctx context.Context) error {
	auth := surrealdb.Auth{
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	}
	if c.cfg.AuthLevel == AuthDatabase {
		auth.Namespace = c.cfg.Namespace
		auth.Database = c.cfg.Database
	}
	c.log.Debug("signing in", "user", c.cfg.Username, "auth_level", c.cfg.AuthLevel)
	if _, err := c.db.SignIn(ctx, auth); err != nil {
		return fmt.Errorf("signin: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.log.Info("closing connection")
	return c.conn.Close(ctx)
}

// InitSchema defines tables, fields and indexes. Safe to run on every start.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.log.Debug("schema initialized")
	return nil
}

// Ping runs a trivial query to check the connection.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// WipeData deletes every message, memory and conversation in one
// transaction. The schema is kept.
func (c *Client) WipeData(ctx context.Context) error {
	c.log.Warn("wiping all data")
	const wipe = `
BEGIN TRANSACTION;
DELETE message;
DELETE memory;
DELETE conversation;
COMMIT TRANSACTION;`
	if _, err := surrealdb.Query[any](ctx, c.db, wipe, nil); err != nil {
		return fmt.Errorf("wipe: %w", wrapQueryError(err))
	}
	return nil
}
