package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Encode serializes a frame into its wire form. The payload is gzip-compressed
// when the frame declares gzip compression; serialization is metadata only and
// the payload bytes are written as given.
func Encode(f Frame) ([]byte, error) {
	if !validKind(f.Kind) {
		return nil, fmt.Errorf("%w: unknown message kind %#x", ErrMalformedFrame, uint8(f.Kind))
	}
	if !validSerialization(f.Serialization) {
		return nil, fmt.Errorf("%w: unknown serialization %#x", ErrMalformedFrame, uint8(f.Serialization))
	}
	if !validCompression(f.Compression) {
		return nil, fmt.Errorf("%w: unknown compression %#x", ErrMalformedFrame, uint8(f.Compression))
	}

	var buf bytes.Buffer
	buf.WriteByte(ProtocolVersion<<4 | 0x01)
	buf.WriteByte(uint8(f.Kind)<<4 | uint8(f.Flags))
	buf.WriteByte(uint8(f.Serialization)<<4 | uint8(f.Compression))
	buf.WriteByte(0x00)

	// Event precedes sequence when both flags are set.
	if f.Flags.HasEvent() {
		appendUint32(&buf, f.Event)
	}
	if f.Flags.HasSequence() {
		appendUint32(&buf, uint32(f.Sequence))
	}

	if f.Kind == KindServerError {
		appendUint32(&buf, f.ErrorCode)
	} else if carriesSessionID(f.Kind, f.Flags, f.Event) {
		appendUint32(&buf, uint32(int32(len(f.SessionID))))
		buf.WriteString(f.SessionID)
	}

	payload := f.Payload
	if f.Compression == CompressionGzip {
		compressed, err := gzipCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: compress payload: %w", err)
		}
		payload = compressed
	}
	appendUint32(&buf, uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Decode parses one wire frame. It fails with ErrMalformedFrame when fewer
// than four bytes are available, when a declared length exceeds the remaining
// bytes, or when the serialization/compression codes are unrecognized.
// Payloads are decompressed when the header declares gzip.
func Decode(data []byte) (Frame, error) {
	if len(data) < 4 {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least 4", ErrMalformedFrame, len(data))
	}

	version := data[0] >> 4
	if version != ProtocolVersion {
		return Frame{}, fmt.Errorf("%w: unsupported protocol version %d", ErrMalformedFrame, version)
	}
	headerWords := int(data[0] & 0x0f)
	if headerWords < 1 || len(data) < headerWords*4 {
		return Frame{}, fmt.Errorf("%w: truncated header", ErrMalformedFrame)
	}

	f := Frame{
		Kind:          MessageKind(data[1] >> 4),
		Flags:         Flags(data[1] & 0x0f),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0f),
	}
	if !validKind(f.Kind) {
		return Frame{}, fmt.Errorf("%w: unknown message kind %#x", ErrMalformedFrame, uint8(f.Kind))
	}
	if !validSerialization(f.Serialization) {
		return Frame{}, fmt.Errorf("%w: unknown serialization %#x", ErrMalformedFrame, uint8(f.Serialization))
	}
	if !validCompression(f.Compression) {
		return Frame{}, fmt.Errorf("%w: unknown compression %#x", ErrMalformedFrame, uint8(f.Compression))
	}

	r := reader{buf: data[headerWords*4:]}

	if f.Flags.HasEvent() {
		v, err := r.uint32()
		if err != nil {
			return Frame{}, err
		}
		f.Event = v
	}
	if f.Flags.HasSequence() {
		v, err := r.uint32()
		if err != nil {
			return Frame{}, err
		}
		f.Sequence = int32(v)
	}

	if f.Kind == KindServerError {
		code, err := r.uint32()
		if err != nil {
			return Frame{}, err
		}
		f.ErrorCode = code
	} else if carriesSessionID(f.Kind, f.Flags, f.Event) {
		// The session-id length field is signed on the wire.
		n, err := r.uint32()
		if err != nil {
			return Frame{}, err
		}
		idLen := int32(n)
		if idLen < 0 {
			return Frame{}, fmt.Errorf("%w: negative session id length %d", ErrMalformedFrame, idLen)
		}
		id, err := r.bytes(int(idLen))
		if err != nil {
			return Frame{}, err
		}
		f.SessionID = string(id)
	}

	payloadLen, err := r.uint32()
	if err != nil {
		return Frame{}, err
	}
	payload, err := r.bytes(int(payloadLen))
	if err != nil {
		return Frame{}, err
	}
	if r.remaining() != 0 {
		return Frame{}, fmt.Errorf("%w: %d trailing bytes after payload", ErrMalformedFrame, r.remaining())
	}

	if f.Compression == CompressionGzip {
		payload, err = gzipDecompress(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: gzip payload: %v", ErrMalformedFrame, err)
		}
	}
	f.Payload = payload

	return f, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("%w: truncated field", ErrMalformedFrame)
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: declared length %d exceeds %d remaining bytes", ErrMalformedFrame, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func appendUint32(buf *bytes.Buffer, v uint32) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], v)
	buf.Write(scratch[:])
}

func gzipCompress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
