package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoReply is returned when a probe run ends without a completed turn
	ErrNoReply = errors.New("no reply from relay")
	// ErrNoSpeech is returned when the input never crossed the VAD threshold
	ErrNoSpeech = errors.New("no speech detected in input")
)

// ProbeResult summarizes a probe run
type ProbeResult struct {
	Turns         int
	Transcripts   []string
	Errors        []string
	ResponseAudio time.Duration
}

// probeTracker counts turns from state transitions
type probeTracker struct {
	mu        sync.Mutex
	started   int
	completed int
	result    ProbeResult
	changed   chan struct{}
}

func (p *probeTracker) stateChanged(from, to State) {
	p.mu.Lock()
	switch {
	case to == StateListening:
		p.started++
	case to == StateIdle && (from == StateProcessing || from == StateSpeaking):
		p.completed++
	}
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *probeTracker) settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started > 0 && p.completed >= p.started
}

// RunProbe plays the scenario's input WAV as microphone audio through a
// Session connected to the relay and records the reply.
func RunProbe(ctx context.Context, sc *Scenario, logger zerolog.Logger) (*ProbeResult, error) {
	data, err := os.ReadFile(sc.InputWAV)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", sc.InputWAV, err)
	}
	samples := audio.PCM16ToFloat32(pcm)

	client, err := Dial(ctx, sc.RelayURL, logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sink := NewWAVSink(sc.OutputWAV, sc.Realtime)
	player := NewPlayer(sink, logger)
	session, err := NewSession(sc.SessionConfig(rate), client, player, logger)
	if err != nil {
		return nil, err
	}

	tracker := &probeTracker{changed: make(chan struct{}, 1)}
	session.OnStateChange(tracker.stateChanged)
	session.OnTranscript(func(text string) {
		tracker.mu.Lock()
		tracker.result.Transcripts = append(tracker.result.Transcripts, text)
		tracker.mu.Unlock()
	})
	session.OnError(func(message string) {
		tracker.mu.Lock()
		tracker.result.Errors = append(tracker.result.Errors, message)
		tracker.mu.Unlock()
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return player.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return client.Run(gctx, session.HandleMessage)
	})
	g.Go(func() error {
		defer cancel()
		feed(gctx, session, samples, rate, sc)
		return awaitReply(gctx, tracker, sc.MaxWait)
	})

	err = g.Wait()
	// Stopping an unanswered turn is not a completed one.
	session.OnStateChange(nil)
	session.Stop()

	if closeErr := sink.Close(); closeErr != nil {
		logger.Error().Err(closeErr).Msg("Failed to write response audio")
		if err == nil {
			err = closeErr
		}
	}

	tracker.mu.Lock()
	result := tracker.result
	result.Turns = tracker.completed
	tracker.mu.Unlock()
	result.ResponseAudio = sink.Duration()

	if err != nil {
		return &result, err
	}
	if result.Turns == 0 {
		return &result, ErrNoReply
	}
	return &result, nil
}

// feed pushes the input and then trailing silence through the session one
// tick at a time. Without realtime pacing the clock is simulated. It stops
// quietly when ctx ends.
func feed(ctx context.Context, session *Session, samples []float32, rate int, sc *Scenario) {
	window := int(int64(rate) * int64(sc.Tick) / int64(time.Second))
	if window <= 0 {
		window = 1
	}
	silence := make([]float32, window)
	trailing := int(sc.TrailingSilence / sc.Tick)

	var ticker *time.Ticker
	if sc.Realtime {
		ticker = time.NewTicker(sc.Tick)
		defer ticker.Stop()
	}

	now := time.Now()
	tick := func(w []float32) bool {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return false
			case <-ticker.C:
			}
			now = time.Now()
		} else {
			if ctx.Err() != nil {
				return false
			}
			now = now.Add(sc.Tick)
		}
		session.Feed(now, w)
		return true
	}

	for off := 0; off < len(samples); off += window {
		end := min(off+window, len(samples))
		if !tick(samples[off:end]) {
			return
		}
	}
	for i := 0; i < trailing; i++ {
		if !tick(silence) {
			return
		}
	}
}

func awaitReply(ctx context.Context, tracker *probeTracker, maxWait time.Duration) error {
	if ctx.Err() != nil {
		return nil
	}
	tracker.mu.Lock()
	started := tracker.started
	tracker.mu.Unlock()
	if started == 0 {
		return ErrNoSpeech
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for !tracker.settled() {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return fmt.Errorf("%w within %s", ErrNoReply, maxWait)
		case <-tracker.changed:
		}
	}
	return nil
}
