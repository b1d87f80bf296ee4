package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/resilience"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Send while the provider connection is down
var ErrNotConnected = errors.New("upstream not connected")

const (
	defaultReadLimit   = 16 << 20
	defaultEventBuffer = 256
	defaultDialTimeout = 10 * time.Second
)

// Config configures the provider connection
type Config struct {
	URL          string
	Model        string
	APIKey       string
	Voice        string
	Instructions string
	DialTimeout  time.Duration
	ReadLimit    int64
	EventBuffer  int
	Reconnect    *resilience.ReconnectConfig
	Breaker      *resilience.CircuitBreaker
}

// Client owns the single provider websocket. Run supervises the connection;
// inbound events are published on Events in arrival order.
type Client struct {
	cfg    Config
	logger zerolog.Logger
	events chan Event

	mu   sync.RWMutex
	conn *websocket.Conn

	connected atomic.Bool
}

// NewClient creates a provider client. Nothing is dialed until Run.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = resilience.DefaultReconnectConfig()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "upstream").Logger(),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events returns the inbound event stream. It is closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether the provider connection is open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// HealthCheck adapts Connected for the readiness handler
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if !c.Connected() {
		return false, ErrNotConnected
	}
	return true, nil
}

// Send writes one command to the provider. Writes are serialized by the
// websocket library, so commands from one caller keep their order.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", cmd.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Type, err)
	}
	return nil
}

// Run connects and keeps the provider connection alive until ctx is
// cancelled. Each drop publishes EventUpstreamDisconnected before redialing.
// It returns an error only when reconnection gives up.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	for {
		var conn *websocket.Conn
		err := resilience.Reconnect(ctx, func(ctx context.Context) error {
			var dialErr error
			conn, dialErr = c.connect(ctx)
			return dialErr
		}, c.cfg.Reconnect, c.logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("upstream connection failed: %w", err)
		}

		c.setConn(conn)
		c.logger.Info().Str("model", c.cfg.Model).Msg("Connected to realtime provider")

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn().Err(err).Msg("Realtime provider connection lost")
		if !c.publish(ctx, Event{Type: EventUpstreamDisconnected}) {
			return nil
		}
	}
}

// connect dials the provider through the circuit breaker and configures the session
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	dial := func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()

		endpoint, err := c.endpoint()
		if err != nil {
			return resilience.Permanent(err)
		}

		ws, resp, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Authorization": []string{"Bearer " + c.cfg.APIKey},
				"OpenAI-Beta":   []string{"realtime=v1"},
			},
		})
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return resilience.Permanent(fmt.Errorf("provider rejected credentials: %s", resp.Status))
			}
			return fmt.Errorf("failed to dial provider: %w", err)
		}
		ws.SetReadLimit(c.cfg.ReadLimit)

		update := SessionUpdateCommand(c.cfg.Voice, c.cfg.Instructions)
		data, err := json.Marshal(update)
		if err == nil {
			err = ws.Write(dialCtx, websocket.MessageText, data)
		}
		if err != nil {
			ws.Close(websocket.StatusInternalError, "session update failed")
			return fmt.Errorf("failed to send session update: %w", err)
		}

		conn = ws
		return nil
	}

	var err error
	if c.cfg.Breaker != nil {
		err = c.cfg.Breaker.Execute(ctx, dial)
	} else {
		err = dial(ctx)
	}
	return conn, err
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid provider URL %q: %w", c.cfg.URL, err)
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// readLoop publishes events until the connection fails or ctx ends
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		evt, err := DecodeEvent(data)
		if err != nil {
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed provider event")
			continue
		}
		observability.RecordProviderEvent(evt.Type)

		if !c.publish(ctx, evt) {
			return ctx.Err()
		}
	}
}

func (c *Client) publish(ctx context.Context, evt Event) bool {
	select {
	case c.events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(conn != nil)
	observability.SetUpstreamConnected(conn != nil)
}
