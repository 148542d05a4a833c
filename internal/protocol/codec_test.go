package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []Frame{
		{
			Kind:          KindClientFullRequest,
			Flags:         FlagWithEvent,
			Serialization: SerializationJSON,
			Compression:   CompressionGzip,
			Event:         EventSessionStart,
			SessionID:     "session-abc",
			Payload:       []byte(`{"dialog":{"bot_name":"candor"}}`),
		},
		{
			Kind:          KindClientAudioOnly,
			Flags:         FlagWithEvent,
			Serialization: SerializationRaw,
			Compression:   CompressionGzip,
			Event:         EventAudioChunk,
			SessionID:     "s",
			Payload:       bytes.Repeat([]byte{0x01, 0x02}, 1600),
		},
		{
			Kind:          KindServerFullResponse,
			Flags:         FlagWithEvent | FlagNegSequence,
			Serialization: SerializationJSON,
			Compression:   CompressionNone,
			Event:         450,
			Sequence:      -7,
			SessionID:     "sess",
			Payload:       []byte(`{"text":"hello"}`),
		},
		{
			Kind:          KindServerAck,
			Flags:         FlagNone,
			Serialization: SerializationRaw,
			Compression:   CompressionNone,
			SessionID:     "",
			Payload:       []byte{0xde, 0xad, 0xbe, 0xef},
		},
		{
			Kind:          KindServerError,
			Flags:         FlagNone,
			Serialization: SerializationJSON,
			Compression:   CompressionGzip,
			ErrorCode:     55002001,
			Payload:       []byte(`{"error":"session expired, please recreate session"}`),
		},
	}

	for _, want := range frames {
		encoded, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", want.Kind, err)
		}
		got, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", want.Kind, err)
		}
		if got.Kind != want.Kind || got.Flags != want.Flags ||
			got.Serialization != want.Serialization || got.Compression != want.Compression {
			t.Fatalf("header fields = %+v, want %+v", got, want)
		}
		if got.Event != want.Event || got.Sequence != want.Sequence {
			t.Fatalf("event/sequence = %d/%d, want %d/%d", got.Event, got.Sequence, want.Event, want.Sequence)
		}
		if got.SessionID != want.SessionID {
			t.Fatalf("session id = %q, want %q", got.SessionID, want.SessionID)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("payload = %d bytes, want %d bytes", len(got.Payload), len(want.Payload))
		}
		if got.ErrorCode != want.ErrorCode {
			t.Fatalf("error code = %d, want %d", got.ErrorCode, want.ErrorCode)
		}
	}
}

func TestDecodeTruncationNeverPanics(t *testing.T) {
	encoded, err := NewSessionStart("truncate-me", map[string]any{"dialog": map[string]any{"bot_name": "candor"}})
	if err != nil {
		t.Fatalf("NewSessionStart() error = %v", err)
	}

	for n := 0; n < len(encoded); n++ {
		if _, err := Decode(encoded[:n]); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("Decode(%d of %d bytes) error = %v, want ErrMalformedFrame", n, len(encoded), err)
		}
	}
}

func TestDecodeRejectsUnknownCodes(t *testing.T) {
	base, err := NewConnectionOpen()
	if err != nil {
		t.Fatalf("NewConnectionOpen() error = %v", err)
	}

	badSerialization := append([]byte(nil), base...)
	badSerialization[2] = 0x7<<4 | badSerialization[2]&0x0f
	if _, err := Decode(badSerialization); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Decode(bad serialization) error = %v, want ErrMalformedFrame", err)
	}

	badCompression := append([]byte(nil), base...)
	badCompression[2] = badCompression[2]&0xf0 | 0x7
	if _, err := Decode(badCompression); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Decode(bad compression) error = %v, want ErrMalformedFrame", err)
	}

	badVersion := append([]byte(nil), base...)
	badVersion[0] = 0x2<<4 | badVersion[0]&0x0f
	if _, err := Decode(badVersion); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Decode(bad version) error = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	encoded, err := NewConnectionOpen()
	if err != nil {
		t.Fatalf("NewConnectionOpen() error = %v", err)
	}
	if _, err := Decode(append(encoded, 0x00)); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Decode(trailing byte) error = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeOverlongDeclaredLength(t *testing.T) {
	encoded, err := NewSessionFinish("s1")
	if err != nil {
		t.Fatalf("NewSessionFinish() error = %v", err)
	}
	// Inflate the declared session-id length beyond the remaining bytes.
	mangled := append([]byte(nil), encoded...)
	mangled[8] = 0x7f
	if _, err := Decode(mangled); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Decode(overlong length) error = %v, want ErrMalformedFrame", err)
	}
}

func TestSessionStartScenario(t *testing.T) {
	encoded, err := NewSessionStart("s1", map[string]any{
		"tts": map[string]any{"sample_rate": 24000},
	})
	if err != nil {
		t.Fatalf("NewSessionStart() error = %v", err)
	}

	frame, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Kind != KindClientFullRequest {
		t.Fatalf("kind = %s, want %s", frame.Kind, KindClientFullRequest)
	}
	if !frame.Flags.HasEvent() || frame.Event != EventSessionStart {
		t.Fatalf("event = %d (flags %#x), want %d", frame.Event, uint8(frame.Flags), EventSessionStart)
	}
	if frame.SessionID != "s1" {
		t.Fatalf("session id = %q, want \"s1\"", frame.SessionID)
	}

	var payload struct {
		TTS struct {
			SampleRate int `json:"sample_rate"`
		} `json:"tts"`
	}
	if err := frame.PayloadJSON(&payload); err != nil {
		t.Fatalf("PayloadJSON() error = %v", err)
	}
	if payload.TTS.SampleRate != 24000 {
		t.Fatalf("tts.sample_rate = %d, want 24000", payload.TTS.SampleRate)
	}
}
