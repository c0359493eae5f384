package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay    = time.Second
	defaultMaxReconnectDelay = 5 * time.Minute
)

// Message is an app mention delivered over Socket Mode.
type Message struct {
	Channel string
	User    string
	Text    string
}

// Handler is called on its own goroutine for every received mention.
type Handler func(ctx context.Context, m Message)

type envelope struct {
	EnvelopeID string `json:"envelope_id"`
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	Payload    struct {
		Event struct {
			Type    string `json:"type"`
			Channel string `json:"channel"`
			User    string `json:"user"`
			Text    string `json:"text"`
		} `json:"event"`
	} `json:"payload"`
}

var errConnectionClosed = errors.New("socket mode connection closed")

// Listen keeps a Socket Mode connection open until ctx is done, handing
// every app mention to handler. Refresh requests reconnect immediately;
// errors back off before reconnecting.
func (c *Client) Listen(ctx context.Context, handler Handler) error {
	delay := c.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	maxDelay := c.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}
	backoff := delay

	for {
		refresh, err := c.listenOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if refresh {
			backoff = delay
			continue
		}

		c.logger().Warn("socket mode connection lost",
			zap.Error(err),
			zap.Duration("retry_in", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxDelay)
	}
}

// Serve runs connections Listen loops side by side, starting each one
// stagger after the previous, and waits for all of them to stop.
func (c *Client) Serve(ctx context.Context, connections int, stagger time.Duration, handler Handler) error {
	if connections <= 1 {
		return c.Listen(ctx, handler)
	}

	var wg sync.WaitGroup
	for i := range connections {
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(stagger):
			}
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Listen(ctx, handler)
		}()
	}
	wg.Wait()

	return ctx.Err()
}

// listenOnce reads one connection until it fails or Slack asks for a
// refresh, in which case refresh is true.
func (c *Client) listenOnce(ctx context.Context, handler Handler) (refresh bool, err error) {
	wsURL, err := c.OpenConnection(ctx)
	if err != nil {
		return false, err
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("slack: dial socket mode: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	c.logger().Info("socket mode connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false, errors.Join(errConnectionClosed, err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger().Debug("skipping undecodable envelope", zap.Error(err))
			continue
		}

		if env.EnvelopeID != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": env.EnvelopeID}); err != nil {
				return false, fmt.Errorf("slack: acknowledge envelope: %w", err)
			}
		}

		switch env.Type {
		case "events_api":
			ev := env.Payload.Event
			if ev.Type != "app_mention" || ev.Channel == "" || ev.User == "" {
				continue
			}
			c.logger().Debug("mention received",
				zap.String("channel", ev.Channel),
				zap.String("user", ev.User),
			)
			go handler(ctx, Message{Channel: ev.Channel, User: ev.User, Text: ev.Text})

		case "disconnect":
			switch env.Reason {
			case "warning", "refresh_requested":
				c.logger().Info("socket mode refresh requested", zap.String("reason", env.Reason))
				return true, nil
			}
			return false, fmt.Errorf("slack: disconnected: %s", env.Reason)
		}
	}
}
