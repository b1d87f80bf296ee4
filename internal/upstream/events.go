// Package upstream speaks the realtime provider's event protocol and owns the
// single long-lived provider connection.
package upstream

import (
	"encoding/json"
	"fmt"
)

// Commands sent to the provider
const (
	CmdSessionUpdate          = "session.update"
	CmdInputAudioBufferClear  = "input_audio_buffer.clear"
	CmdInputAudioBufferAppend = "input_audio_buffer.append"
	CmdInputAudioBufferCommit = "input_audio_buffer.commit"
	CmdResponseCreate         = "response.create"
)

// Events received from the provider
const (
	EventSessionCreated            = "session.created"
	EventSessionUpdated            = "session.updated"
	EventInputAudioBufferCleared   = "input_audio_buffer.cleared"
	EventInputAudioBufferCommitted = "input_audio_buffer.committed"
	EventResponseAudioDelta        = "response.audio.delta"
	EventResponseAudioDone         = "response.audio.done"
	EventResponseTranscriptDelta   = "response.audio_transcript.delta"
	EventResponseTranscriptDone    = "response.audio_transcript.done"
	EventResponseDone              = "response.done"
	EventError                     = "error"

	// EventUpstreamDisconnected is published by Client, never by the
	// provider, when the connection drops.
	EventUpstreamDisconnected = "relay.upstream_disconnected"
)

// AudioFormatPCM16 is the provider's name for 24kHz mono PCM16
const AudioFormatPCM16 = "pcm16"

// Command is one outbound provider message. Only the fields relevant to Type
// are set.
type Command struct {
	Type     string          `json:"type"`
	Audio    string          `json:"audio,omitempty"`
	Response *ResponseParams `json:"response,omitempty"`
	Session  *SessionParams  `json:"session,omitempty"`
}

// ResponseParams configures a response.create
type ResponseParams struct {
	Modalities        []string          `json:"modalities"`
	Instructions      string            `json:"instructions,omitempty"`
	Voice             string            `json:"voice,omitempty"`
	OutputAudioFormat string            `json:"output_audio_format,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// SessionParams configures the provider session. TurnDetection is always
// encoded; nil disables server-side turn detection.
type SessionParams struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *TurnDetection `json:"turn_detection"`
}

// TurnDetection is the provider's server VAD configuration
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ResponseOptions holds the fixed per-turn response settings
type ResponseOptions struct {
	Instructions string
	Voice        string
	Language     string
}

// ClearCommand empties the provider's input buffer
func ClearCommand() Command {
	return Command{Type: CmdInputAudioBufferClear}
}

// AppendCommand adds base64 PCM16 audio to the input buffer
func AppendCommand(audio string) Command {
	return Command{Type: CmdInputAudioBufferAppend, Audio: audio}
}

// CommitCommand closes the input buffer for the current turn
func CommitCommand() Command {
	return Command{Type: CmdInputAudioBufferCommit}
}

// ResponseCreateCommand requests an audio and text response
func ResponseCreateCommand(opts ResponseOptions) Command {
	params := &ResponseParams{
		Modalities:        []string{"audio", "text"},
		Instructions:      opts.Instructions,
		Voice:             opts.Voice,
		OutputAudioFormat: AudioFormatPCM16,
	}
	if opts.Language != "" {
		params.Metadata = map[string]string{"language": opts.Language}
	}
	return Command{Type: CmdResponseCreate, Response: params}
}

// SessionUpdateCommand configures PCM16 audio both ways and leaves turn
// detection to the client.
func SessionUpdateCommand(voice, instructions string) Command {
	return Command{
		Type: CmdSessionUpdate,
		Session: &SessionParams{
			Modalities:        []string{"audio", "text"},
			Instructions:      instructions,
			Voice:             voice,
			InputAudioFormat:  AudioFormatPCM16,
			OutputAudioFormat: AudioFormatPCM16,
		},
	}
}

// ErrorDetail is the nested error object of an error event
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Event is one inbound provider message
type Event struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// DecodeEvent parses a provider frame
func DecodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("failed to decode provider event: %w", err)
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("provider event has no type")
	}
	return evt, nil
}

// ErrorMessage returns the provider's error text for error events
func (e Event) ErrorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return "unknown provider error"
}
