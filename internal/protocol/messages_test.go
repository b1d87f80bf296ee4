package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ClientMessages(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"start_recording"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeStartRecording, msg.Type)

	msg, err = Decode([]byte(`{"type":"audio_chunk","audio":"AAAA"}`))
	require.NoError(t, err)
	assert.Equal(t, "AAAA", msg.Payload())

	msg, err = Decode([]byte(`{"type":"stop_recording"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeStopRecording, msg.Type)
}

func TestDecode_AudioChunkDataSpelling(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"audio_chunk","data":"BBBB"}`))
	require.NoError(t, err)
	assert.Equal(t, "BBBB", msg.Payload())
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownType))

	_, err = Decode([]byte(`{}`))
	require.Error(t, err)
}

func TestDecode_UnknownType(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping"}`))
	require.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, "ping", msg.Type)
}

func TestEncode_WireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want map[string]any
	}{
		{"response audio", ResponseAudio("AAAA"), map[string]any{"type": "audio_chunk", "data": "AAAA"}},
		{"client audio", ClientAudio("AAAA"), map[string]any{"type": "audio_chunk", "audio": "AAAA"}},
		{"transcription", Transcription("hi"), map[string]any{"type": "transcription", "text": "hi"}},
		{"complete", ProcessingComplete(), map[string]any{"type": "processing_complete"}},
		{"error", Error("boom"), map[string]any{"type": "error", "message": "boom"}},
		{"start", StartRecording(), map[string]any{"type": "start_recording"}},
		{"stop", StopRecording(), map[string]any{"type": "stop_recording"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}
