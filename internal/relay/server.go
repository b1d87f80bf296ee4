package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	// ErrConnClosed is returned by Conn.Send after the socket closed
	ErrConnClosed = errors.New("client connection closed")
	// ErrSendBufferFull is returned when a client cannot keep up; the socket is closed
	ErrSendBufferFull = errors.New("client send buffer full")
)

// ServerConfig tunes client socket handling
type ServerConfig struct {
	AllowedOrigins []string // empty allows every origin
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	SendBuffer     int
}

func (c *ServerConfig) setDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// Server accepts client websockets and attaches each one to the manager
type Server struct {
	manager  *Manager
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

// NewServer creates the client-facing websocket handler
func NewServer(manager *Manager, cfg ServerConfig, logger zerolog.Logger) *Server {
	cfg.setDefaults()
	s := &Server{
		manager: manager,
		cfg:     cfg,
		logger:  logger.With().Str("component", "client_ws").Logger(),
		conns:   make(map[string]*Conn),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send an Origin header.
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warn().Str("origin", origin).Msg("Rejected websocket origin")
	return false
}

// ServeHTTP upgrades the request and serves the socket until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := newConn(ws, s.cfg, s.logger)
	s.track(c)
	defer s.untrack(c)

	c.serve(r.Context(), s.manager)
}

// ActiveConnections returns the number of open client sockets
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every client socket and waits for their handlers to return
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// Conn is one client socket. A single write pump owns all writes; Send only
// enqueues so it is safe to call while holding turn state.
type Conn struct {
	id      string
	ws      *websocket.Conn
	cfg     ServerConfig
	logger  zerolog.Logger
	metrics *observability.Metrics

	out       chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, cfg ServerConfig, logger zerolog.Logger) *Conn {
	id := observability.NewSessionID()
	return &Conn{
		id:      id,
		ws:      ws,
		cfg:     cfg,
		logger:  observability.WithSession(logger, id, ""),
		metrics: observability.NewSessionMetrics(id),
		out:     make(chan protocol.Message, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

// ID returns the session id assigned to the socket
func (c *Conn) ID() string {
	return c.id
}

// Send queues msg for the write pump
func (c *Conn) Send(msg protocol.Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn().Int("buffer", cap(c.out)).Msg("Client too slow, closing connection")
		c.close()
		return ErrSendBufferFull
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// Unblocks the read loop; the write pump sends the close frame.
		c.ws.SetReadDeadline(time.Now())
	})
}

// serve runs the socket until either side closes. The session is detached on
// every exit path.
func (c *Conn) serve(ctx context.Context, manager *Manager) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.metrics.RecordSessionStart()
	defer c.metrics.RecordSessionEnd()

	if err := manager.Attach(c.id, c, c.logger, c.metrics); err != nil {
		c.logger.Error().Err(err).Msg("Failed to attach session")
		c.ws.Close()
		return
	}
	defer manager.Detach(c.id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := c.writePump(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Write pump stopped")
		}
		c.close()
	}()

	c.readLoop(ctx, manager)
	c.close()
	<-writerDone
	c.ws.Close()
}

func (c *Conn) readLoop(ctx context.Context, manager *Manager) {
	pongWait := c.cfg.PingInterval * 2
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn().Err(err).Msg("WebSocket read error")
				}
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.metrics.RecordError("protocol", "client")
			if errors.Is(err, protocol.ErrUnknownType) {
				c.logger.Warn().Str("type", msg.Type).Msg("Ignoring unknown message type")
			} else {
				c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed message")
			}
			continue
		}

		if err := manager.HandleClientMessage(ctx, c.id, msg); err != nil {
			c.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to handle client message")
		}
	}
}

// writePump is the only writer on the socket
func (c *Conn) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeClose()
			return nil
		case <-c.done:
			c.writeClose()
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		case msg := <-c.out:
			data, err := protocol.Encode(msg)
			if err != nil {
				c.logger.Error().Err(err).Msg("Failed to encode client message")
				continue
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return err
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) writeClose() {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
