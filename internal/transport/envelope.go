// Package transport implements the LSPS0 wire framing: JSON-RPC 2.0
// envelopes carried one-per-message inside the host Lightning node's
// custom-message frame, plus the request-id bookkeeping a stateless
// JSON-RPC peer needs to correlate responses back to requests.
package transport

import "encoding/json"

// MessageTypeID is the fixed custom-message type LSPS messages are
// carried under. The codec never sees this outer frame; it is the
// embedder's job to strip it before handing the payload to Decode.
const MessageTypeID = 37913

// RequestId is an opaque, per-originator-unique identifier correlating a
// JSON-RPC response with the request that caused it.
type RequestId string

// Envelope is the wire shape of every LSPS message: a JSON-RPC 2.0
// request, notification, success response, or error response. Exactly
// one of (Method, Result, Error) is populated, per the JSON-RPC 2.0
// spec; which one determines how Decode interprets the message.
type Envelope struct {
	JSONRPC string           `json:"jsonrpc"`
	Id      *RequestId       `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RPCError        `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int32           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsRequest reports whether the envelope carries a request or
// notification (method present).
func (e *Envelope) IsRequest() bool {
	return e.Method != ""
}

// IsResponse reports whether the envelope carries a result or an error.
func (e *Envelope) IsResponse() bool {
	return e.Method == "" && (e.Result != nil || e.Error != nil)
}
