package protocol

import (
	"encoding/json"
	"fmt"
)

// The builders below are convenience encoders over the general codec with the
// event codes and flag combinations the dialogue service expects. Their
// constants are part of the external protocol contract.

// NewConnectionOpen builds the first frame sent after the websocket handshake.
func NewConnectionOpen() ([]byte, error) {
	return Encode(Frame{
		Kind:          KindClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		Event:         EventConnectionOpen,
		Payload:       []byte("{}"),
	})
}

// NewSessionStart builds the session-start frame. The config payload may seed
// dialogue history on the server side.
func NewSessionStart(sessionID string, config any) ([]byte, error) {
	payload, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal session config: %w", err)
	}
	return Encode(Frame{
		Kind:          KindClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		Event:         EventSessionStart,
		SessionID:     sessionID,
		Payload:       payload,
	})
}

// NewAudioChunk builds an audio-only request. Audio never declares a
// structured serialization method; only the payload bytes are compressed.
func NewAudioChunk(sessionID string, pcm []byte) ([]byte, error) {
	return Encode(Frame{
		Kind:          KindClientAudioOnly,
		Flags:         FlagWithEvent,
		Serialization: SerializationRaw,
		Compression:   CompressionGzip,
		Event:         EventAudioChunk,
		SessionID:     sessionID,
		Payload:       pcm,
	})
}

// NewTTSRequest builds a synthesis request for interviewer speech.
func NewTTSRequest(sessionID, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal tts request: %w", err)
	}
	return Encode(Frame{
		Kind:          KindClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		Event:         EventTTSText,
		SessionID:     sessionID,
		Payload:       payload,
	})
}

// NewSessionFinish builds the best-effort session teardown frame.
func NewSessionFinish(sessionID string) ([]byte, error) {
	return Encode(Frame{
		Kind:          KindClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		Event:         EventSessionFinish,
		SessionID:     sessionID,
		Payload:       []byte("{}"),
	})
}

// NewConnectionFinish builds the best-effort connection teardown frame.
func NewConnectionFinish() ([]byte, error) {
	return Encode(Frame{
		Kind:          KindClientFullRequest,
		Flags:         FlagWithEvent,
		Serialization: SerializationJSON,
		Compression:   CompressionGzip,
		Event:         EventConnectionFinish,
		Payload:       []byte("{}"),
	})
}
