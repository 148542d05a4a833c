package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the only wire protocol version the dialogue service speaks.
const ProtocolVersion uint8 = 0b0001

// MessageKind identifies the frame variant carried in the upper nibble of the
// second header byte.
type MessageKind uint8

const (
	KindClientFullRequest  MessageKind = 0b0001
	KindClientAudioOnly    MessageKind = 0b0010
	KindServerFullResponse MessageKind = 0b1001
	KindServerAck          MessageKind = 0b1011
	KindServerError        MessageKind = 0b1111
)

func (k MessageKind) String() string {
	switch k {
	case KindClientFullRequest:
		return "client_full_request"
	case KindClientAudioOnly:
		return "client_audio_only"
	case KindServerFullResponse:
		return "server_full_response"
	case KindServerAck:
		return "server_ack"
	case KindServerError:
		return "server_error"
	default:
		return fmt.Sprintf("unknown_kind_%#x", uint8(k))
	}
}

// Flags is the message-type-specific flag nibble.
type Flags uint8

const (
	FlagNone         Flags = 0b0000
	FlagPosSequence  Flags = 0b0001
	FlagNegSequence  Flags = 0b0010
	FlagLastSequence Flags = 0b0011
	FlagWithEvent    Flags = 0b0100
)

// HasEvent reports whether the frame carries a 4-byte event code.
func (f Flags) HasEvent() bool { return f&FlagWithEvent != 0 }

// HasSequence reports whether the frame carries a 4-byte signed sequence.
func (f Flags) HasSequence() bool { return f&FlagLastSequence != 0 }

// Serialization declares how the payload bytes are to be interpreted.
type Serialization uint8

const (
	SerializationRaw    Serialization = 0b0000
	SerializationJSON   Serialization = 0b0001
	SerializationThrift Serialization = 0b0011
)

// Compression declares how the payload bytes are packed on the wire.
type Compression uint8

const (
	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

// Event codes fixed by the remote dialogue service. These values are an
// external contract and must not change.
const (
	EventConnectionOpen   uint32 = 1
	EventConnectionFinish uint32 = 2
	EventSessionStart     uint32 = 100
	EventSessionFinish    uint32 = 102
	EventSessionEnded     uint32 = 152
	EventSessionFailed    uint32 = 153
	EventAudioChunk       uint32 = 200
	EventPlaybackFlush    uint32 = 450
	EventTTSText          uint32 = 500
)

// ErrMalformedFrame is returned by Decode for any byte sequence that does not
// describe a complete, well-formed frame.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Frame is one structured message of the wire protocol. Payload always holds
// the uncompressed payload bytes; Compression only describes the wire form.
type Frame struct {
	Kind          MessageKind
	Flags         Flags
	Serialization Serialization
	Compression   Compression

	// Event is valid only when Flags.HasEvent().
	Event uint32
	// Sequence is valid only when Flags.HasSequence().
	Sequence int32

	SessionID string
	Payload   []byte

	// ErrorCode is set only on KindServerError frames.
	ErrorCode uint32
}

// PayloadJSON unmarshals the payload into v. It fails unless the frame
// declares JSON serialization.
func (f Frame) PayloadJSON(v any) error {
	if f.Serialization != SerializationJSON {
		return fmt.Errorf("protocol: payload is not JSON (serialization %#x)", uint8(f.Serialization))
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}
	return nil
}

// IsSessionEnd reports whether the frame carries one of the server-initiated
// session end events.
func (f Frame) IsSessionEnd() bool {
	return f.Flags.HasEvent() && (f.Event == EventSessionEnded || f.Event == EventSessionFailed)
}

// carriesSessionID decides whether a frame's wire form includes the session-id
// field. Server full responses and acks always carry it; client frames carry
// it for every event except the connection-scoped pair; error responses never
// carry it.
func carriesSessionID(kind MessageKind, flags Flags, event uint32) bool {
	switch kind {
	case KindServerError:
		return false
	case KindServerFullResponse, KindServerAck:
		return true
	default:
		if !flags.HasEvent() {
			return false
		}
		return event != EventConnectionOpen && event != EventConnectionFinish
	}
}

func validKind(k MessageKind) bool {
	switch k {
	case KindClientFullRequest, KindClientAudioOnly, KindServerFullResponse, KindServerAck, KindServerError:
		return true
	default:
		return false
	}
}

func validSerialization(s Serialization) bool {
	switch s {
	case SerializationRaw, SerializationJSON, SerializationThrift:
		return true
	default:
		return false
	}
}

func validCompression(c Compression) bool {
	switch c {
	case CompressionNone, CompressionGzip:
		return true
	default:
		return false
	}
}
