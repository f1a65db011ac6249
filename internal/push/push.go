// Package push maintains the persistent server-to-client event stream. The
// client owns reconnection: a dropped stream is re-dialed with capped
// exponential backoff, and every received event is handed to a single
// consumer callback in arrival order.
package push

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/protocard/protosync/internal/config"
	"github.com/protocard/protosync/internal/logger"
	"github.com/protocard/protosync/models"
)

//go:generate mockgen -source=push.go -destination=../mock/push_source_mock.go -package=mock

// Source is a stream of push events. Run blocks until ctx is cancelled,
// invoking handler for every event; delivery order matches arrival order.
type Source interface {
	Run(ctx context.Context, handler func(models.PushEvent)) error
}

// Client is the websocket implementation of [Source].
type Client struct {
	url    string
	cfg    config.Engine
	logger *logger.Logger
	dialer *websocket.Dialer
}

// NewClient constructs a Client dialing the event stream at cfg.PushAddress.
func NewClient(cfg config.Engine, log *logger.Logger) (*Client, error) {
	streamURL, err := normalizeStreamURL(cfg.PushAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid push address: %w", err)
	}

	return &Client{
		url:    streamURL,
		cfg:    cfg,
		logger: log.Component("push"),
		dialer: websocket.DefaultDialer,
	}, nil
}

func normalizeStreamURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("address must include host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/events"
	}

	return u.String(), nil
}

// Run implements [Source]. Each (re)connection starts a fresh backoff
// schedule, so a long-lived stream that drops reconnects promptly.
func (c *Client) Run(ctx context.Context, handler func(models.PushEvent)) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.logger.Info().Str("url", c.url).Msg("push stream connected")

		err = c.read(ctx, conn, handler)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Msg("push stream dropped, reconnecting")
	}
}

// dial connects with unbounded capped exponential backoff; it only returns an
// error when ctx is cancelled.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	backoff := retry.NewExponential(c.cfg.BackoffBase)
	backoff = retry.WithCappedDuration(c.cfg.BackoffCap, backoff)

	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var dialErr error
		conn, _, dialErr = c.dialer.DialContext(ctx, c.url, nil)
		if dialErr != nil {
			c.logger.Debug().Err(dialErr).Str("url", c.url).Msg("push dial failed")
			return retry.RetryableError(dialErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dialing push stream: %w", err)
	}
	return conn, nil
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn, handler func(models.PushEvent)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev models.PushEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		handler(ev)
	}
}
