package lsps2

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lspjitd/lspjitd/internal/events"
	"github.com/lspjitd/lspjitd/internal/identity"
	"github.com/lspjitd/lspjitd/internal/transport"
)

// Sender abstracts the outbound-message queue and request-id->method map
// owned by the liquidity facade, keeping this package on the client side
// of the state-table -> outbound-queue -> id-map lock ordering instead
// of reaching across it directly.
type Sender interface {
	SendRequest(peer *identity.PeerID, method string, params any) (transport.RequestId, error)
	SendResult(peer *identity.PeerID, id transport.RequestId, result any) error
	SendError(peer *identity.PeerID, id transport.RequestId, code int32, message string) error
}

// ChannelActions is how the manager asks the embedder's host node to
// forward or fail an already-intercepted HTLC once a JIT channel's fate
// is decided.
type ChannelActions interface {
	ForwardHTLC(interceptId string, channelId identity.ChannelId, amountMsat uint64) error
	FailHTLC(interceptId string) error
}

// Config configures a Manager for both the client and LSP roles - a
// single node can act as both, same as the reference implementation.
type Config struct {
	// PromiseSecret is the HMAC key used to sign offers issued as an
	// LSP. Rotating it invalidates every previously issued offer.
	PromiseSecret      [32]byte
	MinPaymentSizeMsat uint64
	MaxPaymentSizeMsat uint64
	// SupportedVersions is advertised on get_versions (as LSP) and used
	// to pick the highest mutually supported version (as client).
	SupportedVersions []uint16
}

type clientRecord struct {
	peer            *identity.PeerID
	userChannelId   uint64
	state           ClientState
	paymentSizeMsat *uint64
	token           *string
	requestId       transport.RequestId
	chosenVersion   uint16
	selectedOffer   OpeningFeeParams
}

type lspRecord struct {
	peer               *identity.PeerID
	requestId          transport.RequestId
	state              LSPState
	version            uint16
	token              *string
	selectedOffer      OpeningFeeParams
	paymentSizeMsat    *uint64
	scid               *uint64
	userChannelId      uint64
	lspCltvExpiryDelta uint32
	clientTrustsLSP    bool
	interceptId        string
	channelAmountMsat  uint64
	feeMsat            uint64
}

// Manager implements the LSPS2 JIT channel protocol for both the client
// and LSP roles, per spec.md §4.5. One mutex guards all state tables;
// it is never held across a Sender call or an event emission.
type Manager struct {
	cfg     Config
	sender  Sender
	actions ChannelActions
	events  *events.Queue

	mu                    sync.Mutex
	clientByUserChannelId map[uint64]*clientRecord
	clientByRequestId     map[transport.RequestId]*clientRecord

	lspByRequestId     map[transport.RequestId]*lspRecord
	lspByScid          map[uint64]*lspRecord
	lspByUserChannelId map[uint64]*lspRecord
	nextUserChannelId  uint64
}

// NewManager constructs a Manager. actions may be nil if this node never
// plays the LSP role (it will simply never be called).
func NewManager(cfg Config, sender Sender, actions ChannelActions, queue *events.Queue) *Manager {
	return &Manager{
		cfg:                   cfg,
		sender:                sender,
		actions:               actions,
		events:                queue,
		clientByUserChannelId: make(map[uint64]*clientRecord),
		clientByRequestId:     make(map[transport.RequestId]*clientRecord),
		lspByRequestId:        make(map[transport.RequestId]*lspRecord),
		lspByScid:             make(map[uint64]*lspRecord),
		lspByUserChannelId:    make(map[uint64]*lspRecord),
	}
}

// HandleMessage routes a decoded LSPS2 request or response to the
// appropriate role-specific handler. Notifications and invalid messages
// carry no LSPS2 semantics and are ignored here.
func (m *Manager) HandleMessage(peer *identity.PeerID, d transport.Decoded) {
	switch d.Kind {
	case transport.KindRequest:
		m.handleRequest(peer, d)
	case transport.KindResponse:
		m.handleResponse(peer, d)
	}
}

// --- client role -----------------------------------------------------

// CreateInvoice begins a JIT channel negotiation with peer as the LSP.
func (m *Manager) CreateInvoice(peer *identity.PeerID, paymentSizeMsat *uint64, token *string, userChannelId uint64) error {
	m.mu.Lock()
	if _, exists := m.clientByUserChannelId[userChannelId]; exists {
		m.mu.Unlock()
		return fmt.Errorf("lsps2: user_channel_id %d already in use", userChannelId)
	}
	rec := &clientRecord{
		peer:            peer,
		userChannelId:   userChannelId,
		paymentSizeMsat: paymentSizeMsat,
		token:           token,
		state:           ClientAwaitingVersions,
	}
	m.clientByUserChannelId[userChannelId] = rec
	m.mu.Unlock()

	id, err := m.sender.SendRequest(peer, GetVersionsMethod, GetVersionsRequest{})
	if err != nil {
		m.failClient(userChannelId, err.Error())
		return err
	}

	m.mu.Lock()
	rec.requestId = id
	m.clientByRequestId[id] = rec
	m.mu.Unlock()
	return nil
}

// OpeningFeeParamsSelected sends a buy request for the offer the
// embedder chose from a GetInfoResponse event's menu.
func (m *Manager) OpeningFeeParamsSelected(peer *identity.PeerID, userChannelId uint64, offer OpeningFeeParams) error {
	m.mu.Lock()
	rec, ok := m.clientByUserChannelId[userChannelId]
	if !ok || rec.state != ClientMenuOffered {
		m.mu.Unlock()
		return fmt.Errorf("lsps2: no menu-offered request for user_channel_id %d", userChannelId)
	}
	rec.state = ClientAwaitingBuy
	rec.selectedOffer = offer
	m.mu.Unlock()

	buyReq := BuyRequest{Version: rec.chosenVersion, OpeningFeeParams: offer, PaymentSizeMsat: rec.paymentSizeMsat}
	id, err := m.sender.SendRequest(peer, BuyMethod, buyReq)
	if err != nil {
		m.failClient(userChannelId, err.Error())
		return err
	}

	m.mu.Lock()
	rec.requestId = id
	m.clientByRequestId[id] = rec
	m.mu.Unlock()
	return nil
}

func (m *Manager) handleResponse(peer *identity.PeerID, d transport.Decoded) {
	switch d.Method {
	case GetVersionsMethod:
		m.handleGetVersionsResponse(peer, d)
	case GetInfoMethod:
		m.handleGetInfoResponse(peer, d)
	case BuyMethod:
		m.handleBuyResponse(peer, d)
	}
}

func (m *Manager) handleGetVersionsResponse(peer *identity.PeerID, d transport.Decoded) {
	rec, ok := m.takeClientByRequestId(d.Id)
	if !ok {
		return
	}
	if d.Error != nil {
		m.failClient(rec.userChannelId, d.Error.Message)
		return
	}

	var resp GetVersionsResponse
	if err := json.Unmarshal(d.Result, &resp); err != nil {
		m.failClient(rec.userChannelId, "malformed get_versions response")
		return
	}

	chosen, ok := highestMutualVersion(resp.Versions, m.cfg.SupportedVersions)
	if !ok {
		m.failClient(rec.userChannelId, "no mutually supported protocol version")
		return
	}

	m.mu.Lock()
	rec.state = ClientAwaitingInfo
	rec.chosenVersion = chosen
	m.mu.Unlock()

	id, err := m.sender.SendRequest(peer, GetInfoMethod, GetInfoRequest{Version: chosen, Token: rec.token})
	if err != nil {
		m.failClient(rec.userChannelId, err.Error())
		return
	}

	m.mu.Lock()
	rec.requestId = id
	m.clientByRequestId[id] = rec
	m.mu.Unlock()
}

func (m *Manager) handleGetInfoResponse(_ *identity.PeerID, d transport.Decoded) {
	rec, ok := m.takeClientByRequestId(d.Id)
	if !ok {
		return
	}
	if d.Error != nil {
		m.failClient(rec.userChannelId, d.Error.Message)
		return
	}

	var resp GetInfoResponse
	if err := json.Unmarshal(d.Result, &resp); err != nil {
		m.failClient(rec.userChannelId, "malformed get_info response")
		return
	}

	m.mu.Lock()
	rec.state = ClientMenuOffered
	m.mu.Unlock()

	m.events.Push(events.GetInfoResponse{
		Peer:               rec.peer,
		UserChannelId:      rec.userChannelId,
		Menu:               resp.OpeningFeeParamsMenu,
		MinPaymentSizeMsat: resp.MinPaymentSizeMsat,
		MaxPaymentSizeMsat: resp.MaxPaymentSizeMsat,
	})
}

func (m *Manager) handleBuyResponse(_ *identity.PeerID, d transport.Decoded) {
	rec, ok := m.takeClientByRequestId(d.Id)
	if !ok {
		return
	}
	if d.Error != nil {
		m.failClient(rec.userChannelId, d.Error.Message)
		return
	}

	var resp BuyResponse
	if err := json.Unmarshal(d.Result, &resp); err != nil {
		m.failClient(rec.userChannelId, "malformed buy response")
		return
	}

	m.mu.Lock()
	rec.state = ClientAwaitingPayment
	m.mu.Unlock()

	m.events.Push(events.InvoiceParametersReady{
		Peer:               rec.peer,
		UserChannelId:      rec.userChannelId,
		Scid:               resp.JitChannelScid,
		LSPCltvExpiryDelta: resp.LSPCltvExpiryDelta,
		ClientTrustsLSP:    resp.ClientTrustsLSP,
	})
}

func (m *Manager) takeClientByRequestId(id transport.RequestId) (*clientRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.clientByRequestId[id]
	if ok {
		delete(m.clientByRequestId, id)
	}
	return rec, ok
}

func (m *Manager) failClient(userChannelId uint64, reason string) {
	m.mu.Lock()
	rec, ok := m.clientByUserChannelId[userChannelId]
	if ok {
		rec.state = ClientFailed
		delete(m.clientByUserChannelId, userChannelId)
		if rec.requestId != "" {
			delete(m.clientByRequestId, rec.requestId)
		}
	}
	m.mu.Unlock()

	var peer *identity.PeerID
	if ok {
		peer = rec.peer
	}
	m.events.Push(events.ClientFailure{Peer: peer, UserChannelId: userChannelId, Reason: reason})
}

// --- LSP role ----------------------------------------------------------

func (m *Manager) handleRequest(peer *identity.PeerID, d transport.Decoded) {
	switch d.Method {
	case GetVersionsMethod:
		_ = m.sender.SendResult(peer, d.Id, GetVersionsResponse{Versions: m.cfg.SupportedVersions})
	case GetInfoMethod:
		m.handleGetInfoRequest(peer, d)
	case BuyMethod:
		m.handleBuyRequest(peer, d)
	}
}

func (m *Manager) handleGetInfoRequest(peer *identity.PeerID, d transport.Decoded) {
	var req GetInfoRequest
	if err := json.Unmarshal(d.Params, &req); err != nil {
		_ = m.sender.SendError(peer, d.Id, ErrCodeInvalidVersion, "malformed get_info request")
		return
	}

	rec := &lspRecord{peer: peer, requestId: d.Id, version: req.Version, token: req.Token, state: LSPAwaitingMenu}
	m.mu.Lock()
	m.lspByRequestId[d.Id] = rec
	m.mu.Unlock()

	m.events.Push(events.GetInfo{Peer: peer, RequestId: d.Id, Version: req.Version, Token: req.Token})
}

// OpeningFeeParamsGenerated answers a GetInfo event with a priced menu,
// computing each offer's promise under the configured secret.
func (m *Manager) OpeningFeeParamsGenerated(peer *identity.PeerID, requestId transport.RequestId, rawMenu []RawOpeningFeeParams) error {
	m.mu.Lock()
	rec, ok := m.lspByRequestId[requestId]
	if !ok || rec.state != LSPAwaitingMenu {
		m.mu.Unlock()
		return fmt.Errorf("lsps2: no awaiting-menu request %s", requestId)
	}
	menu := make([]OpeningFeeParams, len(rawMenu))
	for i, raw := range rawMenu {
		menu[i] = raw.Promise(m.cfg.PromiseSecret)
	}
	rec.state = LSPMenuSent
	m.mu.Unlock()

	return m.sender.SendResult(peer, requestId, GetInfoResponse{
		OpeningFeeParamsMenu: menu,
		MinPaymentSizeMsat:   m.cfg.MinPaymentSizeMsat,
		MaxPaymentSizeMsat:   m.cfg.MaxPaymentSizeMsat,
	})
}

// handleBuyRequest validates lsps2.buy statelessly against its own
// HMAC-authenticated opening fee params - buy carries a JSON-RPC id
// distinct from the get_info request that produced the menu (the
// client mints a fresh one, see OpeningFeeParamsSelected's SendRequest
// call for BuyMethod), so there is no earlier lspRecord to look up here. The
// record this request needs downstream (InvoiceParametersGenerated,
// HtlcIntercepted) is created fresh, keyed by the buy's own id.
func (m *Manager) handleBuyRequest(peer *identity.PeerID, d transport.Decoded) {
	var req BuyRequest
	if err := json.Unmarshal(d.Params, &req); err != nil {
		_ = m.sender.SendError(peer, d.Id, ErrCodeInvalidVersion, "malformed buy request")
		return
	}

	if !versionSupported(req.Version, m.cfg.SupportedVersions) {
		_ = m.sender.SendError(peer, d.Id, ErrCodeInvalidVersion, "unsupported version")
		return
	}
	if !VerifyPromise(req.OpeningFeeParams, m.cfg.PromiseSecret, time.Now()) {
		_ = m.sender.SendError(peer, d.Id, ErrCodeInvalidOpeningFeeParams, "invalid or expired opening fee params")
		return
	}
	if req.PaymentSizeMsat != nil {
		if *req.PaymentSizeMsat < m.cfg.MinPaymentSizeMsat {
			_ = m.sender.SendError(peer, d.Id, ErrCodePaymentSizeTooSmall, "payment size too small")
			return
		}
		if *req.PaymentSizeMsat > m.cfg.MaxPaymentSizeMsat {
			_ = m.sender.SendError(peer, d.Id, ErrCodePaymentSizeTooLarge, "payment size too large")
			return
		}
	}

	rec := &lspRecord{
		peer:            peer,
		requestId:       d.Id,
		version:         req.Version,
		state:           LSPAwaitingScid,
		selectedOffer:   req.OpeningFeeParams,
		paymentSizeMsat: req.PaymentSizeMsat,
	}
	m.mu.Lock()
	m.lspByRequestId[d.Id] = rec
	m.mu.Unlock()

	m.events.Push(events.BuyRequest{
		Peer:            peer,
		RequestId:       d.Id,
		Version:         req.Version,
		Offer:           req.OpeningFeeParams,
		PaymentSizeMsat: req.PaymentSizeMsat,
	})
}

// InvoiceParametersGenerated answers a BuyRequest event, allocating scid
// to the requester and registering it for later HTLC interception.
func (m *Manager) InvoiceParametersGenerated(peer *identity.PeerID, requestId transport.RequestId, scid uint64, cltvExpiryDelta uint32, clientTrustsLSP bool) error {
	m.mu.Lock()
	rec, ok := m.lspByRequestId[requestId]
	if !ok || rec.state != LSPAwaitingScid {
		m.mu.Unlock()
		return fmt.Errorf("lsps2: no awaiting-scid request %s", requestId)
	}
	rec.scid = &scid
	rec.lspCltvExpiryDelta = cltvExpiryDelta
	rec.clientTrustsLSP = clientTrustsLSP
	rec.state = LSPAwaitingPayment
	delete(m.lspByRequestId, requestId)
	m.lspByScid[scid] = rec
	m.mu.Unlock()

	return m.sender.SendResult(peer, requestId, BuyResponse{
		JitChannelScid:     NewJitChannelScid(scid),
		LSPCltvExpiryDelta: cltvExpiryDelta,
		ClientTrustsLSP:    clientTrustsLSP,
	})
}

// HtlcIntercepted is the entry point for the host's HTLC interception,
// per spec.md §6. An scid that does not match any JIT channel we issued
// is silently ignored - it isn't ours to decide about.
func (m *Manager) HtlcIntercepted(scid uint64, interceptId string, inboundAmountMsat, expectedOutboundAmountMsat uint64) error {
	m.mu.Lock()
	rec, ok := m.lspByScid[scid]
	if !ok || rec.state != LSPAwaitingPayment {
		m.mu.Unlock()
		return nil
	}
	offer := rec.selectedOffer
	paymentSizeMsat := rec.paymentSizeMsat
	m.mu.Unlock()

	fail := func(reason string) error {
		m.mu.Lock()
		rec.state = LSPFailed
		delete(m.lspByScid, scid)
		m.mu.Unlock()
		if err := m.actions.FailHTLC(interceptId); err != nil {
			return err
		}
		m.events.Push(events.LSPFailure{Peer: rec.peer, RequestId: rec.requestId, Reason: reason})
		return nil
	}

	if time.Now().After(offer.ValidUntil) {
		return fail("opening fee offer expired")
	}
	if paymentSizeMsat != nil && inboundAmountMsat != *paymentSizeMsat {
		return fail("htlc amount does not match the requested payment size")
	}
	if inboundAmountMsat < expectedOutboundAmountMsat {
		return fail("expected outbound amount exceeds inbound amount")
	}

	fee := inboundAmountMsat - expectedOutboundAmountMsat
	if fee < requiredFeeMsat(offer, inboundAmountMsat) {
		return fail("htlc fee below the amount owed under the selected offer")
	}

	m.mu.Lock()
	m.nextUserChannelId++
	userChannelId := m.nextUserChannelId
	rec.userChannelId = userChannelId
	rec.interceptId = interceptId
	rec.channelAmountMsat = expectedOutboundAmountMsat
	rec.feeMsat = fee
	rec.state = LSPAwaitingChannelReady
	m.lspByUserChannelId[userChannelId] = rec
	m.mu.Unlock()

	m.events.Push(events.OpenChannel{Peer: rec.peer, UserChannelId: userChannelId, AmountMsat: expectedOutboundAmountMsat, FeeMsat: fee})
	return nil
}

// ChannelReady signals that the real channel backing userChannelId has
// confirmed and forwards the HTLC that funded it.
func (m *Manager) ChannelReady(userChannelId uint64, channelId identity.ChannelId) error {
	m.mu.Lock()
	rec, ok := m.lspByUserChannelId[userChannelId]
	if !ok || rec.state != LSPAwaitingChannelReady {
		m.mu.Unlock()
		return fmt.Errorf("lsps2: no channel awaiting readiness for user_channel_id %d", userChannelId)
	}
	rec.state = LSPDone
	delete(m.lspByUserChannelId, userChannelId)
	if rec.scid != nil {
		delete(m.lspByScid, *rec.scid)
	}
	interceptId := rec.interceptId
	amount := rec.channelAmountMsat
	m.mu.Unlock()

	return m.actions.ForwardHTLC(interceptId, channelId, amount)
}

func versionSupported(v uint16, supported []uint16) bool {
	for _, s := range supported {
		if s == v {
			return true
		}
	}
	return false
}

func highestMutualVersion(offered, supported []uint16) (uint16, bool) {
	supportedSet := make(map[uint16]bool, len(supported))
	for _, s := range supported {
		supportedSet[s] = true
	}
	var best uint16
	found := false
	for _, v := range offered {
		if supportedSet[v] && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

func requiredFeeMsat(offer OpeningFeeParams, amountMsat uint64) uint64 {
	proportional := ceilDiv(uint64(offer.Proportional)*amountMsat, 1_000_000)
	if offer.MinFeeMsat > proportional {
		return offer.MinFeeMsat
	}
	return proportional
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
