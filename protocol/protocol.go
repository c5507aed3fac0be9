// Package protocol implements the wirerpc frame and envelope layout.
//
// A frame is a fixed 9-byte header followed by a variable-length body. The
// receiver reads the header first to learn the body length, then reads
// exactly that many bytes; this is what delimits messages on a byte-stream
// substrate.
//
// Frame format:
//
//	0      3  4  5         9
//	┌──────┬──┬──┬─────────┬───────────────┐
//	│magic │v │mt│ bodyLen │    body ...   │
//	│ wrp  │01│  │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴─────────┴───────────────┘
//
// The body is the envelope: a fixed-order sequence of length-prefixed fields
// that can always be parsed regardless of the payload codec, so a dispatcher
// can answer with a clean error instead of crashing on bad payload bytes.
//
// Request body:  callID(8) svcLen(2) svc methLen(2) meth codecLen(2) codec payload
// Response body: callID(8) svcLen(2) svc status(1) codecLen(2) codec payload
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"wirerpc/message"
)

// Magic number bytes: "wrp". Rejects non-protocol peers early.
const (
	magic0 byte = 'w'
	magic1 byte = 'r'
	magic2 byte = 'p'

	Version    byte = 0x01
	HeaderSize int  = 9 // 3 (magic) + 1 (version) + 1 (msgType) + 4 (bodyLen)

	// MaxBodySize caps a single envelope. A corrupt length field would
	// otherwise make the reader allocate gigabytes before failing.
	MaxBodySize uint32 = 64 << 20
)

// ErrEnvelopeCorrupt is returned when a byte sequence cannot be parsed into
// the required frame or envelope fields.
var ErrEnvelopeCorrupt = errors.New("protocol: corrupt envelope")

// MsgType distinguishes request and response frames.
type MsgType byte

const (
	MsgTypeRequest  MsgType = 0
	MsgTypeResponse MsgType = 1
)

// WriteFrame writes a complete frame (header + body) to w. Callers sharing a
// writer across goroutines must serialize WriteFrame calls, otherwise frames
// interleave and corrupt the stream. A body the receiver would reject fails
// here with ErrEnvelopeCorrupt before anything reaches the wire.
func WriteFrame(w io.Writer, t MsgType, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodySize) {
		return fmt.Errorf("%w: body length %d exceeds limit", ErrEnvelopeCorrupt, len(body))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = magic0, magic1, magic2
	buf[3] = Version
	buf[4] = byte(t)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one complete frame from r. It validates magic, version and
// message type, and uses io.ReadFull so partial reads never surface as short
// bodies.
func ReadFrame(r io.Reader) (MsgType, []byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != magic0 || header[1] != magic1 || header[2] != magic2 {
		return 0, nil, fmt.Errorf("%w: bad magic %x", ErrEnvelopeCorrupt, header[0:3])
	}
	if header[3] != Version {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrEnvelopeCorrupt, header[3])
	}
	t := MsgType(header[4])
	if t != MsgTypeRequest && t != MsgTypeResponse {
		return 0, nil, fmt.Errorf("%w: unknown message type %d", ErrEnvelopeCorrupt, header[4])
	}
	bodyLen := binary.BigEndian.Uint32(header[5:9])
	if bodyLen > MaxBodySize {
		return 0, nil, fmt.Errorf("%w: body length %d exceeds limit", ErrEnvelopeCorrupt, bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return t, body, nil
}

// MarshalRequest encodes a request envelope body. Name fields longer than
// the uint16 length prefix can carry fail with ErrEnvelopeCorrupt; a
// truncated prefix would make the receiver mis-parse the overflow bytes as
// the next field.
func MarshalRequest(req *message.Request) ([]byte, error) {
	if err := checkField("service name", req.Service); err != nil {
		return nil, err
	}
	if err := checkField("method name", req.Method); err != nil {
		return nil, err
	}
	if err := checkField("codec name", req.Codec); err != nil {
		return nil, err
	}
	size := 8 + 2 + len(req.Service) + 2 + len(req.Method) + 2 + len(req.Codec) + len(req.Payload)
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint64(buf, req.CallID)
	buf = appendString(buf, req.Service)
	buf = appendString(buf, req.Method)
	buf = appendString(buf, req.Codec)
	return append(buf, req.Payload...), nil
}

// UnmarshalRequest parses a request envelope body.
func UnmarshalRequest(body []byte) (*message.Request, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: request body too short (%d bytes)", ErrEnvelopeCorrupt, len(body))
	}
	req := &message.Request{CallID: binary.BigEndian.Uint64(body[0:8])}
	rest := body[8:]
	var err error
	if req.Service, rest, err = readString(rest); err != nil {
		return nil, fmt.Errorf("%w: service name: %v", ErrEnvelopeCorrupt, err)
	}
	if req.Method, rest, err = readString(rest); err != nil {
		return nil, fmt.Errorf("%w: method name: %v", ErrEnvelopeCorrupt, err)
	}
	if req.Codec, rest, err = readString(rest); err != nil {
		return nil, fmt.Errorf("%w: codec name: %v", ErrEnvelopeCorrupt, err)
	}
	req.Payload = rest
	return req, nil
}

// MarshalResponse encodes a response envelope body. Name fields are length
// checked the same way as in MarshalRequest.
func MarshalResponse(resp *message.Response) ([]byte, error) {
	if err := checkField("service name", resp.Service); err != nil {
		return nil, err
	}
	if err := checkField("codec name", resp.Codec); err != nil {
		return nil, err
	}
	size := 8 + 2 + len(resp.Service) + 1 + 2 + len(resp.Codec) + len(resp.Payload)
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint64(buf, resp.CallID)
	buf = appendString(buf, resp.Service)
	buf = append(buf, byte(resp.Status))
	buf = appendString(buf, resp.Codec)
	return append(buf, resp.Payload...), nil
}

// UnmarshalResponse parses a response envelope body.
func UnmarshalResponse(body []byte) (*message.Response, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: response body too short (%d bytes)", ErrEnvelopeCorrupt, len(body))
	}
	resp := &message.Response{CallID: binary.BigEndian.Uint64(body[0:8])}
	rest := body[8:]
	var err error
	if resp.Service, rest, err = readString(rest); err != nil {
		return nil, fmt.Errorf("%w: service name: %v", ErrEnvelopeCorrupt, err)
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("%w: missing status byte", ErrEnvelopeCorrupt)
	}
	resp.Status = message.Status(rest[0])
	rest = rest[1:]
	if resp.Codec, rest, err = readString(rest); err != nil {
		return nil, fmt.Errorf("%w: codec name: %v", ErrEnvelopeCorrupt, err)
	}
	resp.Payload = rest
	return resp, nil
}

// RecoverCallID extracts the call id from an envelope body that failed to
// parse fully. The id is the first fixed-width field, so it survives most
// corruption further in, which lets a dispatcher still answer with an error
// the caller can correlate.
func RecoverCallID(body []byte) (uint64, bool) {
	if len(body) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(body[0:8]), true
}

// WriteRequest frames and writes a request envelope.
func WriteRequest(w io.Writer, req *message.Request) error {
	body, err := MarshalRequest(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, MsgTypeRequest, body)
}

// WriteResponse frames and writes a response envelope.
func WriteResponse(w io.Writer, resp *message.Response) error {
	body, err := MarshalResponse(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, MsgTypeResponse, body)
}

func checkField(field, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %s length %d exceeds %d", ErrEnvelopeCorrupt, field, len(s), math.MaxUint16)
	}
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(in []byte) (string, []byte, error) {
	if len(in) < 2 {
		return "", nil, errors.New("missing length prefix")
	}
	n := int(binary.BigEndian.Uint16(in[0:2]))
	in = in[2:]
	if len(in) < n {
		return "", nil, fmt.Errorf("field length %d exceeds remaining %d bytes", n, len(in))
	}
	return string(in[:n]), in[n:], nil
}
