package transport

import (
	"encoding/json"
	"sync"
)

// Kind classifies a decoded envelope for the facade's dispatch switch.
type Kind int

const (
	// KindInvalid covers syntactic failures, malformed envelope shapes,
	// and responses whose id isn't in the request-id->method map.
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Decoded is the result of running Decode over one inbound payload.
type Decoded struct {
	Kind   Kind
	Id     RequestId
	Method string // populated for Request/Notification; looked up for Response
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

// IDStore is the sender-side request-id->method bookkeeping that Decode
// and EncodeRequest need. RequestIDMap is the spec-required in-process
// baseline; internal/persistence/redisstore provides a TTL-evicting
// alternative for embedders that want leaked ids to age out on their
// own rather than growing the map unboundedly (spec.md §9).
type IDStore interface {
	Insert(id RequestId, method string)
	Take(id RequestId) (string, bool)
	Len() int
}

// RequestIDMap is the sender-side bookkeeping described in spec.md
// §3/§4.1: since a JSON-RPC response carries only an id, the side that
// sent the original request must remember which method it was so the
// response shape can be resolved. One mutex guards the whole table, as
// the load on this path is dominated by JSON (de)serialization, not
// contention on the map itself.
type RequestIDMap struct {
	mu      sync.Mutex
	methods map[RequestId]string
}

// NewRequestIDMap returns an empty, ready-to-use map.
func NewRequestIDMap() *RequestIDMap {
	return &RequestIDMap{methods: make(map[RequestId]string)}
}

// Insert records the method name for an outbound request id. Called at
// outbound-request-encode time.
func (m *RequestIDMap) Insert(id RequestId, method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[id] = method
}

// Take looks up and removes the method name for id, reporting whether it
// was present. Called once per inbound response, regardless of whether
// the response body turns out to be well-formed - an id is only ever
// used once.
func (m *RequestIDMap) Take(id RequestId) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	method, ok := m.methods[id]
	if ok {
		delete(m.methods, id)
	}
	return method, ok
}

// Len reports how many requests are still awaiting a response. Exposed
// for tests and for an embedder that wants to alert on unbounded growth
// before wiring in persistence.redisstore's TTL eviction.
func (m *RequestIDMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.methods)
}

// Decode parses a single UTF-8 JSON-RPC envelope and classifies it.
// Responses are resolved against ids, removing the entry on the way out.
// Any shape violation - bad JSON, a message that is both a request and a
// response, a response whose id was never issued - yields KindInvalid
// and never an error: per spec.md §4.1 and §7, decode failures are a
// policy outcome (send the peer an Invalid notification), not a fault
// the caller needs to handle specially.
func Decode(payload []byte, ids IDStore) Decoded {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Decoded{Kind: KindInvalid}
	}
	if env.JSONRPC != "2.0" {
		return Decoded{Kind: KindInvalid}
	}

	isResponseShape := env.Result != nil || env.Error != nil
	if env.Method != "" && isResponseShape {
		return Decoded{Kind: KindInvalid}
	}

	if isResponseShape {
		if env.Id == nil {
			return Decoded{Kind: KindInvalid}
		}
		method, ok := ids.Take(*env.Id)
		if !ok {
			return Decoded{Kind: KindInvalid}
		}
		return Decoded{Kind: KindResponse, Id: *env.Id, Method: method, Result: env.Result, Error: env.Error}
	}

	if env.Method == "" {
		return Decoded{Kind: KindInvalid}
	}
	if env.Id != nil {
		return Decoded{Kind: KindRequest, Id: *env.Id, Method: env.Method, Params: env.Params}
	}
	return Decoded{Kind: KindNotification, Method: env.Method, Params: env.Params}
}

// InvalidMessageMethod is the notification the facade sends back to a
// peer whose message we could not interpret, per spec.md §4.1/§7.
const InvalidMessageMethod = "lsps0.invalid_message"

// EncodeInvalid serializes the Invalid notification.
func EncodeInvalid() []byte {
	env := Envelope{JSONRPC: "2.0", Method: InvalidMessageMethod}
	b, err := json.Marshal(env)
	if err != nil {
		// Envelope has no cyclic or unsupported fields; this cannot fail.
		panic(err)
	}
	return b
}

// EncodeRequest serializes a JSON-RPC request and records its method in
// ids so a later response can be resolved.
func EncodeRequest(ids IDStore, id RequestId, method string, params any) ([]byte, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	env := Envelope{JSONRPC: "2.0", Id: &id, Method: method, Params: rawParams}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	ids.Insert(id, method)
	return b, nil
}

// EncodeResult serializes a successful JSON-RPC response.
func EncodeResult(id RequestId, result any) ([]byte, error) {
	rawResult, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	env := Envelope{JSONRPC: "2.0", Id: &id, Result: rawResult}
	return json.Marshal(env)
}

// EncodeError serializes an error JSON-RPC response.
func EncodeError(id RequestId, code int32, message string) ([]byte, error) {
	env := Envelope{JSONRPC: "2.0", Id: &id, Error: &RPCError{Code: code, Message: message}}
	return json.Marshal(env)
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
