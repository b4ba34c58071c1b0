// Package lsps0 implements the LSPS0 "list protocols" handshake: the one
// operation every LSPS-speaking node answers regardless of which higher
// numbered protocols it actually supports.
package lsps0

import "github.com/lspjitd/lspjitd/internal/transport"

// ListProtocolsMethod is the wire name of the sole LSPS0 operation.
const ListProtocolsMethod = "lsps0.list_protocols"

// ListProtocolsResponse is the result of a list_protocols call.
type ListProtocolsResponse struct {
	Protocols []uint16 `json:"protocols"`
}

// Handler answers lsps0.list_protocols with a fixed, construction-time
// set of enabled protocol numbers. It carries no other state and never
// changes after NewHandler returns, so it needs no lock of its own.
type Handler struct {
	protocols []uint16
}

// NewHandler builds a handler that reports enabled as the LSP's
// supported protocol numbers. The slice is copied so later mutation by
// the caller can't change the answer out from under concurrent readers.
func NewHandler(enabled []uint16) *Handler {
	protocols := make([]uint16, len(enabled))
	copy(protocols, enabled)
	return &Handler{protocols: protocols}
}

// Enabled reports whether protocol number n is in the enabled set.
func (h *Handler) Enabled(n uint16) bool {
	for _, p := range h.protocols {
		if p == n {
			return true
		}
	}
	return false
}

// ListProtocols answers the list_protocols request.
func (h *Handler) ListProtocols() ListProtocolsResponse {
	protocols := make([]uint16, len(h.protocols))
	copy(protocols, h.protocols)
	return ListProtocolsResponse{Protocols: protocols}
}

// HandleRequest dispatches a decoded LSPS0 request. method must already be
// recognized as belonging to this package's namespace by the caller (the
// liquidity facade, which routes on a "lsps0." prefix).
func (h *Handler) HandleRequest(method string) (any, *transport.RPCError) {
	switch method {
	case ListProtocolsMethod:
		return h.ListProtocols(), nil
	default:
		return nil, &transport.RPCError{Code: -32601, Message: "method not found"}
	}
}
