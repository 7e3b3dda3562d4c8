package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultURL     = "ws://localhost:9000/graphql"
	DefaultTimeout = 30 * time.Second
)

// Network executes operation handlers against a server. Implemented by the
// websocket Client and by HTTPClient.
type Network interface {
	Execute(h Handler) error
	Complete(h Handler) error
	Close() error
}

// NewOperationID returns a fresh correlation id
func NewOperationID() string {
	return uuid.New().String()
}

// Client is the websocket GraphQL client
type Client struct {
	conn *Connection
}

// NewClient creates a new client and starts connecting
func NewClient(settings *Settings) *Client {
	if settings.URL == "" {
		settings.URL = DefaultURL
	}
	c := &Client{conn: NewConnection(settings)}
	c.conn.Open()
	return c
}

// Connection exposes the underlying state machine
func (c *Client) Connection() *Connection {
	return c.conn
}

// Connect waits until the protocol handshake completes
func (c *Client) Connect(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	if err := c.conn.Open(); err != nil {
		return err
	}
	if err := c.conn.WaitState(ctx, Valid); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.conn.settings.URL, err)
	}
	return nil
}

// Close shuts the connection down
func (c *Client) Close() error {
	c.conn.Shutdown()
	return nil
}

// Execute registers h and subscribes
func (c *Client) Execute(h Handler) error {
	return c.conn.Execute(h)
}

// Complete cancels h
func (c *Client) Complete(h Handler) error {
	return c.conn.Complete(h)
}

// IsValid reports whether the socket is open
func (c *Client) IsValid() bool {
	return c.conn.IsOpen()
}

// IsProtocolValid reports whether the init/ack handshake completed
func (c *Client) IsProtocolValid() bool {
	return c.conn.IsProtocolValid()
}

// Ping sends a ping and waits for the next pong, returning the round trip
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	return c.conn.Ping(ctx)
}
