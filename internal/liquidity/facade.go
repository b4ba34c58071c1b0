// Package liquidity implements the facade described in spec.md §4.7: it
// decodes inbound framed messages, routes them to the LSPS0 or LSPS2
// handler by method prefix, owns the outbound-message queue and the
// request-id->method map, and exposes the public operations an embedder
// drives a JIT channel negotiation through.
package liquidity

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lspjitd/lspjitd/internal/events"
	"github.com/lspjitd/lspjitd/internal/identity"
	"github.com/lspjitd/lspjitd/internal/lsps0"
	"github.com/lspjitd/lspjitd/internal/lsps2"
	"github.com/lspjitd/lspjitd/internal/transport"
	"github.com/lspjitd/lspjitd/pkg/logger"
)

// FeatureBit is the optional custom feature bit LSPS-speaking nodes set
// on their node and init features whenever any LSPS service is
// configured, per spec.md §6.
const FeatureBit = 729

// ErrJITChannelsNotConfigured is returned by every JIT-channel operation
// except HtlcIntercepted (see its doc) when the facade was constructed without a JITChannels config - calling
// them anyway is embedder misuse (spec.md §7, error kind 5), not a
// protocol fault, so the facade returns an error instead of mutating
// any state.
var ErrJITChannelsNotConfigured = errors.New("liquidity: jit channels were not configured for this provider")

// OutboundMessage pairs an encoded envelope with the peer it must be
// sent to. get_and_clear_pending_msg callers hand these to the
// transport.
type OutboundMessage struct {
	Peer    *identity.PeerID
	Payload []byte
}

// Config configures a Facade's enabled protocols.
type Config struct {
	LSPS0EnabledProtocols []uint16
	// JITChannels, if non-nil, turns on LSPS2 JIT channel support.
	JITChannels *lsps2.Config
	// IDStore overrides the request-id->method bookkeeping. Defaults to
	// an in-process transport.RequestIDMap; pass a
	// persistence/redisstore.Store for TTL-evicting durability.
	IDStore transport.IDStore
}

// Facade is the single entry point an embedder wires into its Lightning
// node's custom-message handling.
type Facade struct {
	ids transport.IDStore

	outboundMu sync.Mutex
	outbound   []OutboundMessage

	lsps0Handler *lsps0.Handler
	lsps2Manager *lsps2.Manager

	events *events.Queue

	jitConfigured bool
}

// New builds a Facade. actions may be nil when jit channels aren't
// configured or this node never plays the LSP role.
func New(cfg Config, actions lsps2.ChannelActions) *Facade {
	ids := cfg.IDStore
	if ids == nil {
		ids = transport.NewRequestIDMap()
	}

	f := &Facade{
		ids:           ids,
		lsps0Handler:  lsps0.NewHandler(cfg.LSPS0EnabledProtocols),
		events:        events.NewQueue(),
		jitConfigured: cfg.JITChannels != nil,
	}

	if cfg.JITChannels != nil {
		f.lsps2Manager = lsps2.NewManager(*cfg.JITChannels, f, actions, f.events)
	}

	return f
}

// --- lsps2.Sender ------------------------------------------------------

// SendRequest encodes and enqueues an outbound LSPS2/LSPS0 request,
// assigning it a fresh request id.
func (f *Facade) SendRequest(peer *identity.PeerID, method string, params any) (transport.RequestId, error) {
	id := transport.RequestId(uuid.NewString())
	payload, err := transport.EncodeRequest(f.ids, id, method, params)
	if err != nil {
		return "", err
	}
	f.enqueue(peer, payload)
	return id, nil
}

// SendResult encodes and enqueues a successful JSON-RPC response.
func (f *Facade) SendResult(peer *identity.PeerID, id transport.RequestId, result any) error {
	payload, err := transport.EncodeResult(id, result)
	if err != nil {
		return err
	}
	f.enqueue(peer, payload)
	return nil
}

// SendError encodes and enqueues an error JSON-RPC response.
func (f *Facade) SendError(peer *identity.PeerID, id transport.RequestId, code int32, message string) error {
	payload, err := transport.EncodeError(id, code, message)
	if err != nil {
		return err
	}
	f.enqueue(peer, payload)
	return nil
}

func (f *Facade) enqueue(peer *identity.PeerID, payload []byte) {
	f.outboundMu.Lock()
	f.outbound = append(f.outbound, OutboundMessage{Peer: peer, Payload: payload})
	f.outboundMu.Unlock()
}

// --- inbound entry point ------------------------------------------------

// HandleCustomMessage is the inbound entry point: decode, and either
// route to a protocol handler or, on an undecodable payload, queue an
// Invalid notification back to the sender per spec.md §4.1/§7.
func (f *Facade) HandleCustomMessage(payload []byte, sender *identity.PeerID) {
	decoded := transport.Decode(payload, f.ids)
	if decoded.Kind == transport.KindInvalid {
		logger.Info("received an undecodable lsps message", zap.String("peer", hex.EncodeToString(sender.SerializeCompressed())))
		f.enqueue(sender, transport.EncodeInvalid())
		return
	}
	f.route(sender, decoded)
}

func (f *Facade) route(peer *identity.PeerID, d transport.Decoded) {
	switch {
	case strings.HasPrefix(d.Method, "lsps0."):
		f.handleLSPS0(peer, d)
	case strings.HasPrefix(d.Method, "lsps2."):
		if f.lsps2Manager == nil {
			logger.Info("received lsps2 message but jit channels are not configured",
				zap.String("method", d.Method))
			return
		}
		f.lsps2Manager.HandleMessage(peer, d)
	default:
		logger.Info("received message for an unconfigured protocol", zap.String("method", d.Method))
	}
}

func (f *Facade) handleLSPS0(peer *identity.PeerID, d transport.Decoded) {
	if d.Kind != transport.KindRequest {
		return
	}
	result, rpcErr := f.lsps0Handler.HandleRequest(d.Method)
	if rpcErr != nil {
		_ = f.SendError(peer, d.Id, rpcErr.Code, rpcErr.Message)
		return
	}
	_ = f.SendResult(peer, d.Id, result)
}

// GetAndClearPendingMsg drains the outbound-message queue for the
// transport to send, preserving enqueue order.
func (f *Facade) GetAndClearPendingMsg() []OutboundMessage {
	f.outboundMu.Lock()
	defer f.outboundMu.Unlock()
	if len(f.outbound) == 0 {
		return nil
	}
	drained := f.outbound
	f.outbound = nil
	return drained
}

// --- events --------------------------------------------------------------

// WaitNextEvent blocks until an event is available.
func (f *Facade) WaitNextEvent() events.Event {
	return f.events.WaitNext()
}

// GetAndClearPendingEvents drains the event queue without blocking.
func (f *Facade) GetAndClearPendingEvents() []events.Event {
	return f.events.Drain()
}

// --- JIT channel public operations (spec.md §6) --------------------------

// CreateInvoice initiates a JIT channel version handshake with peer as
// the LSP.
func (f *Facade) CreateInvoice(peer *identity.PeerID, paymentSizeMsat *uint64, token *string, userChannelId uint64) error {
	if f.lsps2Manager == nil {
		return ErrJITChannelsNotConfigured
	}
	return f.lsps2Manager.CreateInvoice(peer, paymentSizeMsat, token, userChannelId)
}

// OpeningFeeParamsGenerated answers a GetInfo event with a priced menu.
func (f *Facade) OpeningFeeParamsGenerated(peer *identity.PeerID, requestId transport.RequestId, menu []lsps2.RawOpeningFeeParams) error {
	if f.lsps2Manager == nil {
		return ErrJITChannelsNotConfigured
	}
	return f.lsps2Manager.OpeningFeeParamsGenerated(peer, requestId, menu)
}

// OpeningFeeParamsSelected sends a buy request for the chosen offer.
func (f *Facade) OpeningFeeParamsSelected(peer *identity.PeerID, userChannelId uint64, offer lsps2.OpeningFeeParams) error {
	if f.lsps2Manager == nil {
		return ErrJITChannelsNotConfigured
	}
	return f.lsps2Manager.OpeningFeeParamsSelected(peer, userChannelId, offer)
}

// InvoiceParametersGenerated answers a BuyRequest event with an
// allocated SCID.
func (f *Facade) InvoiceParametersGenerated(peer *identity.PeerID, requestId transport.RequestId, scid uint64, cltvExpiryDelta uint32, clientTrustsLSP bool) error {
	if f.lsps2Manager == nil {
		return ErrJITChannelsNotConfigured
	}
	return f.lsps2Manager.InvoiceParametersGenerated(peer, requestId, scid, cltvExpiryDelta, clientTrustsLSP)
}

// HtlcIntercepted is the entry point for the host's HTLC interception.
// Unlike the other JIT operations, an unconfigured provider simply never
// receives interceptions for a SCID it never allocated, so this is a
// no-op rather than ErrJITChannelsNotConfigured.
func (f *Facade) HtlcIntercepted(scid uint64, interceptId string, inboundAmountMsat, expectedOutboundAmountMsat uint64) error {
	if f.lsps2Manager == nil {
		return nil
	}
	return f.lsps2Manager.HtlcIntercepted(scid, interceptId, inboundAmountMsat, expectedOutboundAmountMsat)
}

// ChannelReady signals that a previously opened JIT channel has
// confirmed, triggering HTLC forwarding.
func (f *Facade) ChannelReady(userChannelId uint64, channelId identity.ChannelId) error {
	if f.lsps2Manager == nil {
		return ErrJITChannelsNotConfigured
	}
	return f.lsps2Manager.ChannelReady(userChannelId, channelId)
}

// --- feature bits ----------------------------------------------------------

// NodeFeatureBits returns the optional custom feature bits to advertise
// on the node's features, per spec.md §4.7.
func (f *Facade) NodeFeatureBits() []int {
	if !f.jitConfigured {
		return nil
	}
	return []int{FeatureBit}
}

// InitFeatureBits returns the optional custom feature bits to advertise
// in init messages to a given peer. The bit does not vary per peer today,
// but the parameter is kept for parity with the reference trait surface.
func (f *Facade) InitFeatureBits(*identity.PeerID) []int {
	return f.NodeFeatureBits()
}
