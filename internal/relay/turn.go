package relay

import (
	"context"
	"strings"
	"sync"

	"github.com/lexiqai/voice-relay/internal/audio"
)

// turn is the upstream-facing state of one session's current user turn.
// Every field is guarded by mu, and commands to the provider are sent while
// holding it so their order matches the order of state changes.
type turn struct {
	mu sync.Mutex

	recording bool // between start_recording and stop_recording (or a reset)
	committed bool // provider acknowledged the commit
	ready     bool // provider acknowledged the clear; appends may flow

	// commitPending is set when stop_recording arrives before the clear was
	// acknowledged. The commit is sent after the queued audio is flushed.
	commitPending bool

	// awaiting is true from the commit being sent until response.done
	awaiting bool

	// responseRequested limits response.create to one per turn
	responseRequested bool

	// aborted is set when a reset cut a turn off while the user was still
	// talking. The client's late stop_recording is answered with
	// processing_complete instead of being ignored.
	aborted bool

	pending    *audio.Queue[string]
	transcript strings.Builder

	// gen changes on every reset so a stale watchdog can tell it lost the race
	gen      uint64
	watchdog context.CancelFunc
}

func newTurn(pendingMax int) *turn {
	return &turn{pending: audio.NewQueue[string](pendingMax)}
}

// begin starts a new turn. Caller must hold mu.
func (t *turn) begin() {
	t.reset()
	t.recording = true
}

// abort resets the turn after a failure and remembers whether the user was
// cut off mid-utterance. Caller must hold mu.
func (t *turn) abort() bool {
	wasRecording := t.recording
	active := t.reset()
	t.aborted = wasRecording
	return active
}

// reset returns the turn to its idle state and cancels the watchdog.
// It reports whether a turn was in flight. Caller must hold mu.
func (t *turn) reset() bool {
	active := t.inFlight()

	t.recording = false
	t.committed = false
	t.ready = false
	t.commitPending = false
	t.awaiting = false
	t.responseRequested = false
	t.aborted = false
	t.pending.Clear()
	t.transcript.Reset()
	t.stopWatchdog()
	t.gen++

	return active
}

// finish closes out a completed response. The ready flag is left alone
// because the provider buffer state is unchanged. Caller must hold mu.
func (t *turn) finish() {
	t.recording = false
	t.committed = false
	t.awaiting = false
	t.stopWatchdog()
	t.gen++
}

// inFlight reports whether the user is talking or a response is outstanding.
// Caller must hold mu.
func (t *turn) inFlight() bool {
	return t.recording || t.commitPending || t.awaiting || !t.pending.IsEmpty()
}

func (t *turn) stopWatchdog() {
	if t.watchdog != nil {
		t.watchdog()
		t.watchdog = nil
	}
}
