// Package hermes is dealintel's NATS transport. Analysis tasks travel on a
// JetStream work queue (Queue); lifecycle events for the live event stream,
// Slack alerts and the events command are plain subjects on the Client.
package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// EventHandler receives the subject and raw JSON body of an event.
type EventHandler func(subject string, data []byte)

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("dealintel"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Publish sends data as JSON. Analysis events are fire-and-forget: the
// request row, not the event, is the source of truth.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Subscribe delivers every message on subject to handler. Every replica
// subscribed sees every event.
func (c *Client) Subscribe(subject string, handler EventHandler) error {
	if _, err := c.conn.Subscribe(subject, c.dispatch(handler)); err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// QueueSubscribe delivers each message to one member of the named queue
// group, so replicated workers handle an event once.
func (c *Client) QueueSubscribe(subject, queue string, handler EventHandler) error {
	if _, err := c.conn.QueueSubscribe(subject, queue, c.dispatch(handler)); err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return nil
}

// dispatch keeps a panicking handler from taking down the subscription.
func (c *Client) dispatch(handler EventHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("event handler panicked", "subject", msg.Subject, "panic", r)
			}
		}()
		handler(msg.Subject, msg.Data)
	}
}

// Close drains subscriptions and pending publishes, so events emitted just
// before shutdown still go out.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
}
