// Package events defines the event types the liquidity facade surfaces
// to its embedder, and the FIFO queue that delivers them.
package events

import (
	"github.com/lspjitd/lspjitd/internal/identity"
	"github.com/lspjitd/lspjitd/internal/lsps2"
	"github.com/lspjitd/lspjitd/internal/transport"
)

// Event is implemented by every event variant the facade can emit.
// Embedders type-switch on the concrete type.
type Event interface {
	isEvent()
}

// GetInfo fires on the LSP side when a client asks for the fee menu.
type GetInfo struct {
	Peer      *identity.PeerID
	RequestId transport.RequestId
	Version   uint16
	Token     *string
}

// BuyRequest fires on the LSP side once a buy request has passed
// version, promise, and payment-size validation.
type BuyRequest struct {
	Peer           *identity.PeerID
	RequestId      transport.RequestId
	Version        uint16
	Offer          lsps2.OpeningFeeParams
	PaymentSizeMsat *uint64
}

// OpenChannel fires on the LSP side once an intercepted HTLC has cleared
// fee validation and a real channel open should begin.
type OpenChannel struct {
	Peer          *identity.PeerID
	UserChannelId uint64
	AmountMsat    uint64
	FeeMsat       uint64
}

// GetInfoResponse fires on the client side once the LSP's fee menu
// arrives.
type GetInfoResponse struct {
	Peer               *identity.PeerID
	UserChannelId      uint64
	Menu               []lsps2.OpeningFeeParams
	MinPaymentSizeMsat uint64
	MaxPaymentSizeMsat uint64
}

// InvoiceParametersReady fires on the client side once the LSP has
// allocated a SCID for the purchased channel.
type InvoiceParametersReady struct {
	Peer               *identity.PeerID
	UserChannelId      uint64
	Scid               lsps2.JitChannelScid
	LSPCltvExpiryDelta uint32
	ClientTrustsLSP    bool
}

// ClientFailure fires when a client-side negotiation aborts: version
// disjoint, a buy/get_info error response, or an undecodable message.
type ClientFailure struct {
	Peer          *identity.PeerID
	UserChannelId uint64
	Reason        string
}

// LSPFailure fires when an LSP-side negotiation aborts after a BuyRequest
// or GetInfo event has already been surfaced - e.g. HTLC amount
// mismatch or an expired offer at intercept time.
type LSPFailure struct {
	Peer      *identity.PeerID
	RequestId transport.RequestId
	Reason    string
}

func (GetInfo) isEvent()               {}
func (BuyRequest) isEvent()            {}
func (OpenChannel) isEvent()           {}
func (GetInfoResponse) isEvent()       {}
func (InvoiceParametersReady) isEvent() {}
func (ClientFailure) isEvent()         {}
func (LSPFailure) isEvent()            {}
