// Package protocol defines the JSON messages exchanged between voice clients
// and the relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client to relay message types
const (
	TypeStartRecording = "start_recording"
	TypeAudioChunk     = "audio_chunk"
	TypeStopRecording  = "stop_recording"
)

// Relay to client message types
const (
	TypeTranscription      = "transcription"
	TypeProcessingComplete = "processing_complete"
	TypeError              = "error"
)

// ErrUnknownType is returned by Decode for well-formed messages with a type
// the relay does not handle
var ErrUnknownType = errors.New("unknown message type")

// Message is a single frame on the client socket. Audio chunks carry the
// payload in Audio when sent by a client and in Data when sent by the relay.
type Message struct {
	Type    string `json:"type"`
	Audio   string `json:"audio,omitempty"`
	Data    string `json:"data,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Payload returns the base64 audio carried by an audio_chunk, accepting
// either field spelling.
func (m Message) Payload() string {
	if m.Audio != "" {
		return m.Audio
	}
	return m.Data
}

// Decode parses one client frame. The returned message is populated even
// when err wraps ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("message has no type")
	}

	switch msg.Type {
	case TypeStartRecording, TypeAudioChunk, TypeStopRecording,
		TypeTranscription, TypeProcessingComplete, TypeError:
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// Encode serializes a message for the socket
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

// StartRecording begins a turn
func StartRecording() Message {
	return Message{Type: TypeStartRecording}
}

// StopRecording ends a turn and requests a commit
func StopRecording() Message {
	return Message{Type: TypeStopRecording}
}

// ClientAudio is a frame of captured speech
func ClientAudio(payload string) Message {
	return Message{Type: TypeAudioChunk, Audio: payload}
}

// ResponseAudio is a frame of synthesized speech
func ResponseAudio(payload string) Message {
	return Message{Type: TypeAudioChunk, Data: payload}
}

// Transcription echoes the response transcript
func Transcription(text string) Message {
	return Message{Type: TypeTranscription, Text: text}
}

// ProcessingComplete signals the response was fully delivered
func ProcessingComplete() Message {
	return Message{Type: TypeProcessingComplete}
}

// Error surfaces an upstream failure to the client
func Error(message string) Message {
	return Message{Type: TypeError, Message: message}
}
