package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/rs/zerolog"
)

const clientWriteTimeout = 10 * time.Second

// Client is a relay connection speaking the client side of the protocol
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
	closed  bool
}

// Dial connects to a relay websocket
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial relay %s (%s): %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial relay %s: %w", url, err)
	}
	return &Client{
		conn:   conn,
		logger: logger.With().Str("component", "relay_client").Logger(),
	}, nil
}

// Send writes one message to the relay
func (c *Client) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Run reads relay messages and passes them to handle until the connection
// closes or ctx is done
func (c *Client) Run(ctx context.Context, handle func(protocol.Message)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("relay read failed: %w", err)
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown relay message")
			} else {
				c.logger.Warn().Err(err).Msg("Ignoring malformed relay message")
			}
			continue
		}
		handle(msg)
	}
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
