// Package relay bridges voice client sessions to the single realtime provider
// connection and coordinates turn-taking between them.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/lexiqai/voice-relay/internal/upstream"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownSession is returned for commands from a session that is not attached
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionExists is returned when attaching an id twice
	ErrSessionExists = errors.New("session already attached")
)

// Messages surfaced to clients for relay-side failures
const (
	msgUpstreamLost        = "upstream connection lost"
	msgUpstreamUnavailable = "upstream unavailable"
	msgResponseTimedOut    = "response timed out"
)

// Upstream is the provider leg as seen by the manager
type Upstream interface {
	Send(ctx context.Context, cmd upstream.Command) error
}

// Peer delivers messages to one client. Send must not block on the network.
type Peer interface {
	Send(msg protocol.Message) error
}

// Config tunes turn handling
type Config struct {
	PendingQueueMax int
	TurnTimeout     time.Duration // 0 disables the response watchdog
	SendTimeout     time.Duration
	Response        upstream.ResponseOptions
}

type session struct {
	id      string
	peer    Peer
	logger  zerolog.Logger
	metrics *observability.Metrics
	turn    *turn

	// ctx scopes the session's watchdogs; cancelled on Detach
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager is the session registry. Provider events go only to the bound
// session, which is the most recently attached one.
type Manager struct {
	cfg      Config
	upstream Upstream
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	bound    string
}

// NewManager creates a relay manager sending provider commands through up
func NewManager(cfg Config, up Upstream, logger zerolog.Logger) *Manager {
	if cfg.PendingQueueMax <= 0 {
		cfg.PendingQueueMax = 512
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		upstream: up,
		logger:   logger.With().Str("component", "relay").Logger(),
		sessions: make(map[string]*session),
	}
}

// Attach registers a session and binds it as the target for provider events.
// A previously bound session is displaced and its turn reset.
func (m *Manager) Attach(id string, peer Peer, logger zerolog.Logger, metrics *observability.Metrics) error {
	if metrics == nil {
		metrics = observability.NewSessionMetrics(id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      id,
		peer:    peer,
		logger:  logger,
		metrics: metrics,
		turn:    newTurn(m.cfg.PendingQueueMax),
		ctx:     ctx,
		cancel:  cancel,
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	m.sessions[id] = s
	displaced := m.sessions[m.bound]
	m.bound = id
	m.mu.Unlock()

	s.logger.Info().Msg("Session attached and bound")

	if displaced != nil {
		displaced.turn.mu.Lock()
		if displaced.turn.reset() {
			displaced.metrics.RecordTurnEnd(observability.TurnAborted)
		}
		displaced.turn.mu.Unlock()
		displaced.logger.Info().Str("bound_session", id).Msg("Session displaced by newer client")
	}
	return nil
}

// Detach removes a session, cancelling its watchdog and clearing the binding
// if it was bound. It is safe to call more than once.
func (m *Manager) Detach(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if m.bound == id {
			m.bound = ""
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	s.cancel()
	s.turn.mu.Lock()
	if s.turn.reset() {
		s.metrics.RecordTurnEnd(observability.TurnAborted)
	}
	s.turn.mu.Unlock()

	s.logger.Info().Msg("Session detached")
}

// Bound returns the id of the bound session, if any
func (m *Manager) Bound() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bound, m.bound != ""
}

// SessionCount returns the number of attached sessions
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) session(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) boundSession() *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[m.bound]
}

func (m *Manager) isBound(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bound == id
}

// HandleClientMessage applies one client command to the session's turn.
// Commands from an unbound session are dropped.
func (m *Manager) HandleClientMessage(ctx context.Context, id string, msg protocol.Message) error {
	s := m.session(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	t := s.turn
	t.mu.Lock()
	defer t.mu.Unlock()

	// Checked under the turn lock so a displacement cannot interleave.
	if !m.isBound(id) {
		s.logger.Warn().Str("type", msg.Type).Msg("Dropping command from unbound session")
		return nil
	}

	switch msg.Type {
	case protocol.TypeStartRecording:
		m.startRecording(ctx, s)
	case protocol.TypeAudioChunk:
		m.appendAudio(ctx, s, msg.Payload())
	case protocol.TypeStopRecording:
		m.stopRecording(ctx, s)
	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Ignoring unsupported client message")
	}
	return nil
}

// startRecording begins a turn. Caller must hold the turn lock.
func (m *Manager) startRecording(ctx context.Context, s *session) {
	t := s.turn
	if t.inFlight() {
		s.metrics.RecordTurnEnd(observability.TurnAborted)
	}
	t.begin()

	s.logger.Debug().Msg("Clearing provider input buffer")
	if err := m.send(ctx, s, upstream.ClearCommand()); err != nil {
		m.failTurn(s, msgUpstreamUnavailable)
	}
}

// appendAudio forwards or queues one chunk. Caller must hold the turn lock.
func (m *Manager) appendAudio(ctx context.Context, s *session, payload string) {
	t := s.turn
	if payload == "" {
		s.logger.Warn().Msg("Ignoring audio chunk without payload")
		return
	}
	if !t.recording {
		s.metrics.RecordChunk(observability.ChunkDropped)
		s.logger.Warn().Int("bytes", len(payload)).Msg("Dropping audio chunk - not recording")
		return
	}
	s.metrics.RecordAudioBytes("in", int64(base64.StdEncoding.DecodedLen(len(payload))))

	if !t.ready {
		if !t.pending.Push(payload) {
			s.metrics.RecordChunk(observability.ChunkOverflow)
			s.logger.Warn().Int("queued", t.pending.Len()).Msg("Pending audio queue full, dropping chunk")
			return
		}
		s.metrics.RecordChunk(observability.ChunkQueued)
		s.logger.Debug().Int("queued", t.pending.Len()).Msg("Queueing audio chunk, buffer not ready yet")
		return
	}

	if err := m.send(ctx, s, upstream.AppendCommand(payload)); err != nil {
		m.failTurn(s, msgUpstreamUnavailable)
		return
	}
	s.metrics.RecordChunk(observability.ChunkForwarded)
}

// stopRecording ends capture for the turn. Caller must hold the turn lock.
func (m *Manager) stopRecording(ctx context.Context, s *session) {
	t := s.turn
	if !t.recording {
		if t.aborted {
			t.aborted = false
			s.logger.Info().Msg("Closing out aborted turn")
			m.deliver(s, protocol.ProcessingComplete())
			return
		}
		s.logger.Info().Msg("Ignoring stop_recording - not recording")
		return
	}
	t.recording = false

	if !t.ready {
		// The commit must not overtake audio still waiting for the clear ack.
		t.commitPending = true
		s.logger.Debug().Int("queued", t.pending.Len()).Msg("Deferring commit until buffer is ready")
		return
	}
	m.commit(ctx, s)
}

// commit sends the commit and arms the response watchdog. Caller must hold the turn lock.
func (m *Manager) commit(ctx context.Context, s *session) {
	t := s.turn
	t.commitPending = false
	if err := m.send(ctx, s, upstream.CommitCommand()); err != nil {
		m.failTurn(s, msgUpstreamUnavailable)
		return
	}
	t.awaiting = true
	s.metrics.RecordTurnStart()
	m.armWatchdog(s)
	s.logger.Info().Msg("Committed audio buffer")
}

// Run consumes provider events until the stream closes or ctx is done
func (m *Manager) Run(ctx context.Context, events <-chan upstream.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			m.HandleProviderEvent(ctx, evt)
		}
	}
}

// HandleProviderEvent routes one provider event to the bound session
func (m *Manager) HandleProviderEvent(ctx context.Context, evt upstream.Event) {
	switch evt.Type {
	case upstream.EventUpstreamDisconnected:
		m.upstreamLost()
		return
	case upstream.EventSessionCreated, upstream.EventSessionUpdated:
		m.logger.Info().Str("event_type", evt.Type).Msg("Provider session event")
		return
	}

	s := m.boundSession()
	if s == nil {
		m.logger.Debug().Str("event_type", evt.Type).Msg("No bound session, dropping provider event")
		return
	}

	t := s.turn
	t.mu.Lock()
	defer t.mu.Unlock()

	if !m.isBound(s.id) {
		m.logger.Debug().Str("event_type", evt.Type).Msg("Bound session changed, dropping provider event")
		return
	}

	switch evt.Type {
	case upstream.EventInputAudioBufferCleared:
		m.bufferCleared(ctx, s)

	case upstream.EventInputAudioBufferCommitted:
		m.bufferCommitted(ctx, s)

	case upstream.EventResponseAudioDelta:
		if evt.Delta == "" {
			return
		}
		s.metrics.RecordAudioBytes("out", int64(base64.StdEncoding.DecodedLen(len(evt.Delta))))
		m.deliver(s, protocol.ResponseAudio(evt.Delta))

	case upstream.EventResponseTranscriptDelta:
		t.transcript.WriteString(evt.Delta)

	case upstream.EventResponseTranscriptDone:
		text := evt.Transcript
		if text == "" {
			text = t.transcript.String()
		}
		t.transcript.Reset()
		if text != "" {
			m.deliver(s, protocol.Transcription(text))
		}

	case upstream.EventResponseAudioDone:
		s.logger.Debug().Msg("Audio response completed")

	case upstream.EventResponseDone:
		t.finish()
		s.metrics.RecordTurnEnd(observability.TurnCompleted)
		m.deliver(s, protocol.ProcessingComplete())
		s.logger.Info().Msg("Response completed")

	case upstream.EventError:
		message := evt.ErrorMessage()
		s.logger.Error().Str("provider_error", message).Msg("Provider reported an error")
		s.metrics.RecordError("provider", "upstream")
		if t.abort() {
			s.metrics.RecordTurnEnd(observability.TurnFailed)
		}
		m.deliver(s, protocol.Error(message))

	default:
		s.logger.Debug().Str("event_type", evt.Type).Msg("Unhandled provider event")
	}
}

// bufferCleared marks the provider ready and flushes queued audio in order.
// Caller must hold the turn lock.
func (m *Manager) bufferCleared(ctx context.Context, s *session) {
	t := s.turn
	t.ready = true

	queued := t.pending.Drain()
	if len(queued) > 0 {
		s.logger.Debug().Int("chunks", len(queued)).Msg("Flushing queued audio")
	}
	for _, payload := range queued {
		if err := m.send(ctx, s, upstream.AppendCommand(payload)); err != nil {
			m.failTurn(s, msgUpstreamUnavailable)
			return
		}
		s.metrics.RecordChunk(observability.ChunkFlushed)
	}

	if t.commitPending {
		m.commit(ctx, s)
	}
}

// bufferCommitted requests exactly one response per turn. Caller must hold the turn lock.
func (m *Manager) bufferCommitted(ctx context.Context, s *session) {
	t := s.turn
	t.committed = true
	if t.responseRequested {
		s.logger.Warn().Msg("Response already requested for this turn")
		return
	}
	t.responseRequested = true

	if err := m.send(ctx, s, upstream.ResponseCreateCommand(m.cfg.Response)); err != nil {
		m.failTurn(s, msgUpstreamUnavailable)
		return
	}
	s.logger.Info().Msg("Requested response")
}

// upstreamLost resets every turn and tells the bound client
func (m *Manager) upstreamLost() {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	m.logger.Warn().Int("sessions", len(sessions)).Msg("Provider connection lost, resetting turns")
	for _, s := range sessions {
		s.turn.mu.Lock()
		if s.turn.abort() {
			s.metrics.RecordTurnEnd(observability.TurnFailed)
		}
		if m.isBound(s.id) {
			m.deliver(s, protocol.Error(msgUpstreamLost))
		}
		s.turn.mu.Unlock()
	}
}

// armWatchdog bounds the wait for response.done. Caller must hold the turn lock.
func (m *Manager) armWatchdog(s *session) {
	if m.cfg.TurnTimeout <= 0 {
		return
	}
	t := s.turn
	t.stopWatchdog()

	ctx, cancel := context.WithCancel(s.ctx)
	t.watchdog = cancel
	gen := t.gen
	timeout := m.cfg.TurnTimeout

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.turnTimedOut(s, gen)
	}()
}

func (m *Manager) turnTimedOut(s *session, gen uint64) {
	t := s.turn
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen != gen || s.ctx.Err() != nil {
		return
	}

	s.logger.Warn().Dur("timeout", m.cfg.TurnTimeout).Msg("No response from provider, resetting turn")
	t.reset()
	s.metrics.RecordTurnEnd(observability.TurnTimedOut)
	m.deliver(s, protocol.Error(msgResponseTimedOut))
	m.deliver(s, protocol.ProcessingComplete())
}

// failTurn resets the turn after a provider send failed. Caller must hold the turn lock.
func (m *Manager) failTurn(s *session, message string) {
	if s.turn.abort() {
		s.metrics.RecordTurnEnd(observability.TurnFailed)
	}
	m.deliver(s, protocol.Error(message))
}

func (m *Manager) send(ctx context.Context, s *session, cmd upstream.Command) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	if err := m.upstream.Send(sendCtx, cmd); err != nil {
		s.metrics.RecordError("send", "upstream")
		s.logger.Error().Err(err).Str("command", cmd.Type).Msg("Failed to send command to provider")
		return err
	}
	s.logger.Debug().Str("command", cmd.Type).Msg("Sent command to provider")
	return nil
}

func (m *Manager) deliver(s *session, msg protocol.Message) {
	if err := s.peer.Send(msg); err != nil {
		s.metrics.RecordError("deliver", "client")
		s.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to deliver message to client")
	}
}
