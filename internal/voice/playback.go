package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/rs/zerolog"
)

// Segment is one decoded block of response audio
type Segment struct {
	Samples    []float32
	SampleRate int
}

// Duration returns how long the segment plays
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Sink renders segments. Play blocks until the segment has been played.
type Sink interface {
	Play(ctx context.Context, seg Segment) error
}

// Player schedules segments onto a Sink one at a time. Run is the only
// goroutine that touches the sink.
type Player struct {
	sink   Sink
	logger zerolog.Logger
	queue  *audio.Queue[Segment]
	wake   chan struct{}

	mu        sync.Mutex
	active    bool // a burst is queued or playing
	onDrained func()
}

// NewPlayer creates a player for sink
func NewPlayer(sink Sink, logger zerolog.Logger) *Player {
	return &Player{
		sink:   sink,
		logger: logger.With().Str("component", "playback").Logger(),
		queue:  audio.NewQueue[Segment](0),
		wake:   make(chan struct{}, 1),
	}
}

// OnDrained registers fn to run once each time the queue empties after
// playing. It runs on the player goroutine.
func (p *Player) OnDrained(fn func()) {
	p.mu.Lock()
	p.onDrained = fn
	p.mu.Unlock()
}

// Enqueue adds seg to the tail of the queue without waiting for playback
func (p *Player) Enqueue(seg Segment) {
	if len(seg.Samples) == 0 {
		return
	}
	p.mu.Lock()
	p.queue.Push(seg)
	p.active = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Busy reports whether audio is queued or playing
func (p *Player) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Pending returns the number of queued segments
func (p *Player) Pending() int {
	return p.queue.Len()
}

// Clear drops every queued segment. The segment currently playing finishes.
func (p *Player) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.queue.Len()
	p.queue.Clear()
	return n
}

// Run plays queued segments until ctx is done
func (p *Player) Run(ctx context.Context) error {
	for {
		seg, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.wake:
				continue
			}
		}

		if err := p.sink.Play(ctx, seg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observability.RecordPlaybackSegment(false)
			p.logger.Warn().Err(err).Int("samples", len(seg.Samples)).Msg("Playback failed, skipping segment")
			continue
		}
		observability.RecordPlaybackSegment(true)
	}
}

// next pops the head segment. When the queue is empty it ends the current
// burst and fires the drained callback once.
func (p *Player) next() (Segment, bool) {
	p.mu.Lock()
	seg, ok := p.queue.Pop()
	if ok {
		p.mu.Unlock()
		return seg, true
	}
	fire := p.active
	p.active = false
	fn := p.onDrained
	p.mu.Unlock()

	if fire && fn != nil {
		fn()
	}
	return Segment{}, false
}

// WAVSink collects played audio and writes it as a WAV file on Close.
// With Realtime set, Play sleeps for each segment's duration.
type WAVSink struct {
	Path     string
	Realtime bool

	mu      sync.Mutex
	rate    int
	samples []float32
}

// NewWAVSink creates a sink that writes to path
func NewWAVSink(path string, realtime bool) *WAVSink {
	return &WAVSink{Path: path, Realtime: realtime}
}

// Play records seg, pacing it in real time if configured
func (w *WAVSink) Play(ctx context.Context, seg Segment) error {
	w.mu.Lock()
	if w.rate == 0 {
		w.rate = seg.SampleRate
	}
	if seg.SampleRate != w.rate {
		w.mu.Unlock()
		return fmt.Errorf("segment rate %d does not match recording rate %d", seg.SampleRate, w.rate)
	}
	w.samples = append(w.samples, seg.Samples...)
	w.mu.Unlock()

	if !w.Realtime {
		return nil
	}
	timer := time.NewTimer(seg.Duration())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Duration returns how much audio has been recorded
func (w *WAVSink) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Segment{Samples: w.samples, SampleRate: w.rate}.Duration()
}

// Close writes the WAV file. Nothing is written if no audio was played.
func (w *WAVSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.samples) == 0 {
		return nil
	}
	if w.Path == "" {
		return errors.New("wav sink has no output path")
	}
	data, err := audio.EncodeWAV(audio.Float32ToPCM16(w.samples), w.rate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(w.Path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.Path, err)
	}
	return nil
}
