// Package message defines the request and response envelopes exchanged by
// wirerpc proxies and dispatchers.
//
// An envelope carries the metadata needed to route and correlate a call
// (call id, service, method, status, codec name) plus an opaque payload that
// only the codec layer interprets. Envelopes are immutable once sent.
package message

// Status classifies a response envelope.
type Status byte

const (
	StatusOK Status = iota
	// StatusDecodeError: the dispatcher could not decode the request payload.
	StatusDecodeError
	// StatusNotFound: no such service or method on the dispatcher.
	StatusNotFound
	// StatusApplicationError: the handler itself returned a failure.
	StatusApplicationError
)

// String returns the wire-independent name of a status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDecodeError:
		return "decode_error"
	case StatusNotFound:
		return "not_found"
	case StatusApplicationError:
		return "application_error"
	default:
		return "unknown"
	}
}

// Request is a call envelope, created by a proxy at call time.
type Request struct {
	CallID  uint64 // Unique per proxy while the call is pending
	Service string // Target service name; one dispatcher multiplexes many
	Method  string // Target method name within the service
	Codec   string // Payload codec name, resolved via codec.Registry
	Payload []byte // Serialized arguments, opaque to the envelope layer
}

// Response is a result envelope, created by a dispatcher exactly once per
// received request.
type Response struct {
	CallID  uint64 // Copied from the request, the correlation key
	Service string // Copied from the request; empty when it was unrecoverable
	Status  Status
	Codec   string
	Payload []byte // Serialized result on OK, serialized Failure otherwise
}

// Failure is the payload of every non-OK response: a remote-supplied kind and
// message, never a raw transport failure.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewResponse builds an OK response correlated to req.
func NewResponse(req *Request, payload []byte) *Response {
	return &Response{
		CallID:  req.CallID,
		Service: req.Service,
		Status:  StatusOK,
		Codec:   req.Codec,
		Payload: payload,
	}
}

// NewErrorResponse builds a non-OK response correlated to callID. The
// service name may be empty when the request it answers was too corrupt to
// yield one.
func NewErrorResponse(callID uint64, service string, status Status, codecName string, payload []byte) *Response {
	return &Response{
		CallID:  callID,
		Service: service,
		Status:  status,
		Codec:   codecName,
		Payload: payload,
	}
}
