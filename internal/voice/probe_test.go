package voice

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay answers every stop_recording with a short reply.
type fakeRelay struct {
	mu       sync.Mutex
	received []string
	chunks   int
	silent   bool
}

func (f *fakeRelay) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeRelay) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks
}

func startFakeRelay(t *testing.T, relay *fakeRelay) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			relay.mu.Lock()
			relay.received = append(relay.received, msg.Type)
			if msg.Type == protocol.TypeAudioChunk {
				relay.chunks++
			}
			relay.mu.Unlock()

			if msg.Type != protocol.TypeStopRecording || relay.silent {
				continue
			}
			reply := audio.EncodeFloatToWire(constant(0.2, 2400))
			_ = conn.WriteJSON(protocol.Transcription("hi"))
			_ = conn.WriteJSON(protocol.ResponseAudio(reply))
			_ = conn.WriteJSON(protocol.ResponseAudio(reply))
			_ = conn.WriteJSON(protocol.ProcessingComplete())
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// writeToneWAV writes 500ms of tone followed by 200ms of silence at 48kHz.
func writeToneWAV(t *testing.T) string {
	t.Helper()
	const rate = 48000
	pcm := make([]int16, rate*700/1000)
	for i := 0; i < rate/2; i++ {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	data, err := audio.EncodeWAV(pcm, rate)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "speech.wav")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func probeScenario(t *testing.T, url string) *Scenario {
	t.Helper()
	return &Scenario{
		RelayURL:        url,
		InputWAV:        writeToneWAV(t),
		OutputWAV:       filepath.Join(t.TempDir(), "reply.wav"),
		Tick:            50 * time.Millisecond,
		ChunkInterval:   250 * time.Millisecond,
		VADThreshold:    0.05,
		VADHangover:     300 * time.Millisecond,
		TrailingSilence: 500 * time.Millisecond,
		MaxWait:         2 * time.Second,
	}
}

func TestRunProbe_CompletesTurn(t *testing.T) {
	relay := &fakeRelay{}
	sc := probeScenario(t, startFakeRelay(t, relay))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := RunProbe(ctx, sc, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Turns)
	assert.Equal(t, []string{"hi"}, result.Transcripts)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 200*time.Millisecond, result.ResponseAudio)

	types := relay.types()
	require.NotEmpty(t, types)
	assert.Equal(t, protocol.TypeStartRecording, types[0])
	assert.Equal(t, protocol.TypeStopRecording, types[len(types)-1])
	assert.Positive(t, relay.chunkCount())

	data, err := os.ReadFile(sc.OutputWAV)
	require.NoError(t, err)
	samples, rate, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, audio.WireSampleRate, rate)
	assert.Len(t, samples, 4800)
}

func TestRunProbe_NoReply(t *testing.T) {
	relay := &fakeRelay{silent: true}
	sc := probeScenario(t, startFakeRelay(t, relay))
	sc.MaxWait = 100 * time.Millisecond

	result, err := RunProbe(context.Background(), sc, zerolog.Nop())
	require.ErrorIs(t, err, ErrNoReply)
	assert.Zero(t, result.Turns)
}

func TestRunProbe_NoSpeech(t *testing.T) {
	relay := &fakeRelay{}
	sc := probeScenario(t, startFakeRelay(t, relay))

	quiet, err := audio.EncodeWAV(make([]int16, 48000), 48000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sc.InputWAV, quiet, 0o644))

	_, err = RunProbe(context.Background(), sc, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestRunProbe_DialFailure(t *testing.T) {
	sc := probeScenario(t, "ws://127.0.0.1:1/")
	_, err := RunProbe(context.Background(), sc, zerolog.Nop())
	assert.Error(t, err)
}
