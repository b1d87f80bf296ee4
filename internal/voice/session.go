// Package voice is the client side of a relay conversation: it turns captured
// audio into turns with a voice activity detector and plays the replies.
package voice

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/rs/zerolog"
)

// State is the coarse conversation state shown to the user
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ErrRecorderReleased is returned when writing to a released recorder
var ErrRecorderReleased = errors.New("recorder released")

// Transport sends client messages to the relay
type Transport interface {
	Send(msg protocol.Message) error
}

// SessionConfig configures capture and turn detection
type SessionConfig struct {
	CaptureRate   int           // rate of the windows passed to Feed
	ChunkInterval time.Duration // captured audio per audio_chunk
	VAD           *audio.VADConfig
}

// DefaultSessionConfig returns a 48kHz capture with 250ms chunks
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CaptureRate:   48000,
		ChunkInterval: 250 * time.Millisecond,
		VAD:           audio.DefaultVADConfig(),
	}
}

// Session drives one user's side of the conversation:
// Idle -> Listening -> Processing -> Speaking -> Idle.
// Feed and HandleMessage may be called from different goroutines.
type Session struct {
	cfg       SessionConfig
	transport Transport
	player    *Player
	logger    zerolog.Logger

	mu       sync.Mutex
	state    State
	vad      *audio.Detector
	rec      *recorder
	complete bool // processing_complete or error seen for the current response
	notify   []func()

	onStateChange func(from, to State)
	onTranscript  func(text string)
	onError       func(message string)
}

// NewSession creates an idle session. Capture rates below the wire rate are
// rejected because the resampler only decimates.
func NewSession(cfg SessionConfig, transport Transport, player *Player, logger zerolog.Logger) (*Session, error) {
	if cfg.CaptureRate == 0 {
		cfg.CaptureRate = 48000
	}
	if cfg.CaptureRate < audio.WireSampleRate {
		return nil, fmt.Errorf("capture rate %d is below the wire rate %d: %w",
			cfg.CaptureRate, audio.WireSampleRate, audio.ErrUpsampleUnsupported)
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 250 * time.Millisecond
	}

	s := &Session{
		cfg:       cfg,
		transport: transport,
		player:    player,
		logger:    logger.With().Str("component", "voice_session").Logger(),
		vad:       audio.NewDetector(cfg.VAD),
	}
	player.OnDrained(s.playbackDrained)
	return s, nil
}

// OnStateChange registers a callback for state transitions
func (s *Session) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

// OnTranscript registers a callback for response transcripts
func (s *Session) OnTranscript(fn func(text string)) {
	s.mu.Lock()
	s.onTranscript = fn
	s.mu.Unlock()
}

// OnError registers a callback for errors reported by the relay
func (s *Session) OnError(fn func(message string)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Feed runs one analysis tick over a captured window at the capture rate
func (s *Session) Feed(now time.Time, window []float32) {
	s.mu.Lock()
	defer s.unlock()

	s.vad.SetSuppressed(s.state == StateProcessing || s.state == StateSpeaking)
	evt := s.vad.Process(now, window)

	switch s.state {
	case StateIdle:
		if evt == audio.VADSpeechStart {
			s.startListening()
			s.record(window)
		}
	case StateListening:
		s.record(window)
		if evt == audio.VADSpeechEnd {
			s.stopListening()
		}
	}
}

// startListening opens a turn. Caller must hold mu.
func (s *Session) startListening() {
	if err := s.transport.Send(protocol.StartRecording()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send start_recording")
		return
	}
	s.releaseRecorder()
	s.rec = newRecorder(s.cfg, s.transport)
	s.complete = false
	s.setState(StateListening)
}

// stopListening closes the turn. The recorder is released before
// stop_recording so no chunk can follow it. Caller must hold mu.
func (s *Session) stopListening() {
	if s.rec != nil {
		if err := s.rec.flush(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send final audio chunk")
		}
	}
	s.releaseRecorder()

	if err := s.transport.Send(protocol.StopRecording()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send stop_recording")
		s.toIdle()
		return
	}
	s.setState(StateProcessing)
}

func (s *Session) record(window []float32) {
	if s.rec == nil {
		return
	}
	if err := s.rec.write(window); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send audio chunk")
	}
}

func (s *Session) releaseRecorder() {
	if s.rec != nil {
		s.rec.release()
		s.rec = nil
	}
}

// HandleMessage applies one message from the relay
func (s *Session) HandleMessage(msg protocol.Message) {
	s.mu.Lock()
	defer s.unlock()

	switch msg.Type {
	case protocol.TypeAudioChunk:
		s.responseAudio(msg.Payload())

	case protocol.TypeTranscription:
		if fn := s.onTranscript; fn != nil {
			text := msg.Text
			s.notify = append(s.notify, func() { fn(text) })
		}

	case protocol.TypeProcessingComplete:
		s.responseComplete()

	case protocol.TypeError:
		s.logger.Warn().Str("message", msg.Message).Msg("Relay reported an error")
		if fn := s.onError; fn != nil {
			text := msg.Message
			s.notify = append(s.notify, func() { fn(text) })
		}
		if s.state == StateListening {
			// The relay already dropped this turn; no stop_recording follows.
			s.toIdle()
			return
		}
		s.responseComplete()

	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Ignoring relay message")
	}
}

// responseAudio queues one chunk of reply audio. Caller must hold mu.
func (s *Session) responseAudio(payload string) {
	if s.state != StateProcessing && s.state != StateSpeaking {
		s.logger.Warn().Str("state", s.state.String()).Msg("Dropping response audio outside a turn")
		return
	}
	samples, err := audio.DecodeWireToFloat(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping undecodable response audio")
		return
	}
	if s.state == StateProcessing {
		s.setState(StateSpeaking)
	}
	s.player.Enqueue(Segment{Samples: samples, SampleRate: audio.WireSampleRate})
}

// responseComplete ends the response once playback is done. Caller must hold mu.
func (s *Session) responseComplete() {
	switch s.state {
	case StateProcessing:
		s.toIdle()
	case StateSpeaking:
		s.complete = true
		if !s.player.Busy() {
			s.toIdle()
		}
	}
}

func (s *Session) playbackDrained() {
	s.mu.Lock()
	defer s.unlock()

	if s.state == StateSpeaking && s.complete && !s.player.Busy() {
		s.toIdle()
	}
}

// Stop abandons whatever the session is doing and returns to Idle
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.unlock()

	s.releaseRecorder()
	if n := s.player.Clear(); n > 0 {
		s.logger.Debug().Int("segments", n).Msg("Discarded queued playback")
	}
	s.toIdle()
}

func (s *Session) toIdle() {
	s.releaseRecorder()
	s.vad.Reset()
	s.complete = false
	s.setState(StateIdle)
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
	if fn := s.onStateChange; fn != nil {
		s.notify = append(s.notify, func() { fn(from, to) })
	}
}

// unlock releases mu and then runs callbacks queued while it was held
func (s *Session) unlock() {
	notify := s.notify
	s.notify = nil
	s.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// recorder turns captured windows into wire chunks at a fixed cadence
type recorder struct {
	transport Transport
	rate      int
	chunkLen  int
	buf       []float32
	released  bool
}

func newRecorder(cfg SessionConfig, transport Transport) *recorder {
	chunkLen := int(int64(cfg.CaptureRate) * int64(cfg.ChunkInterval) / int64(time.Second))
	if chunkLen <= 0 {
		chunkLen = 1
	}
	return &recorder{
		transport: transport,
		rate:      cfg.CaptureRate,
		chunkLen:  chunkLen,
		buf:       make([]float32, 0, chunkLen),
	}
}

func (r *recorder) write(window []float32) error {
	if r.released {
		return ErrRecorderReleased
	}
	r.buf = append(r.buf, window...)
	for len(r.buf) >= r.chunkLen {
		if err := r.emit(r.buf[:r.chunkLen]); err != nil {
			return err
		}
		r.buf = append(r.buf[:0], r.buf[r.chunkLen:]...)
	}
	return nil
}

// flush sends whatever is buffered as a short final chunk
func (r *recorder) flush() error {
	if r.released {
		return ErrRecorderReleased
	}
	if len(r.buf) == 0 {
		return nil
	}
	err := r.emit(r.buf)
	r.buf = r.buf[:0]
	return err
}

func (r *recorder) emit(samples []float32) error {
	resampled, err := audio.Resample(samples, r.rate, audio.WireSampleRate)
	if err != nil {
		return err
	}
	if len(resampled) == 0 {
		return nil
	}
	return r.transport.Send(protocol.ClientAudio(audio.EncodeFloatToWire(resampled)))
}

func (r *recorder) release() {
	r.released = true
	r.buf = nil
}
