package lsps2

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspjitd/lspjitd/internal/events"
	"github.com/lspjitd/lspjitd/internal/identity"
	"github.com/lspjitd/lspjitd/internal/transport"
)

type outboundCall struct {
	kind   string // "request", "result", "error"
	peer   *identity.PeerID
	id     transport.RequestId
	method string
	body   any
	code   int32
}

type fakeSender struct {
	calls  []outboundCall
	nextId int
}

func (s *fakeSender) SendRequest(peer *identity.PeerID, method string, params any) (transport.RequestId, error) {
	s.nextId++
	id := transport.RequestId(strconv.Itoa(s.nextId))
	s.calls = append(s.calls, outboundCall{kind: "request", peer: peer, id: id, method: method, body: params})
	return id, nil
}

func (s *fakeSender) SendResult(peer *identity.PeerID, id transport.RequestId, result any) error {
	s.calls = append(s.calls, outboundCall{kind: "result", peer: peer, id: id, body: result})
	return nil
}

func (s *fakeSender) SendError(peer *identity.PeerID, id transport.RequestId, code int32, message string) error {
	s.calls = append(s.calls, outboundCall{kind: "error", peer: peer, id: id, code: code, body: message})
	return nil
}

type fakeChannelActions struct {
	forwarded []struct {
		interceptId string
		channelId   identity.ChannelId
		amountMsat  uint64
	}
	failed []string
}

func (a *fakeChannelActions) ForwardHTLC(interceptId string, channelId identity.ChannelId, amountMsat uint64) error {
	a.forwarded = append(a.forwarded, struct {
		interceptId string
		channelId   identity.ChannelId
		amountMsat  uint64
	}{interceptId, channelId, amountMsat})
	return nil
}

func (a *fakeChannelActions) FailHTLC(interceptId string) error {
	a.failed = append(a.failed, interceptId)
	return nil
}

func testPeer(t *testing.T) *identity.PeerID {
	t.Helper()
	_, pub := btcec.PrivKeyFromBytes([]byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	})
	return pub
}

// resultDecoded builds a transport.Decoded as if a peer's JSON-RPC
// result had just been decoded for the given outbound request id.
func resultDecoded(t *testing.T, id transport.RequestId, method string, result any) transport.Decoded {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	return transport.Decoded{Kind: transport.KindResponse, Id: id, Method: method, Result: raw}
}

// TestClientEndToEndFlow mirrors spec.md §8 scenario 5.
func TestClientEndToEndFlow(t *testing.T) {
	sender := &fakeSender{}
	queue := events.NewQueue()
	m := NewManager(Config{SupportedVersions: []uint16{1}}, sender, nil, queue)
	peer := testPeer(t)

	paymentSize := uint64(1_000_000)
	require.NoError(t, m.CreateInvoice(peer, &paymentSize, nil, 7))

	require.Len(t, sender.calls, 1)
	assert.Equal(t, GetVersionsMethod, sender.calls[0].method)
	versionsId := sender.calls[0].id

	m.HandleMessage(peer, resultDecoded(t, versionsId, GetVersionsMethod, GetVersionsResponse{Versions: []uint16{1}}))

	require.Len(t, sender.calls, 2)
	assert.Equal(t, GetInfoMethod, sender.calls[1].method)
	infoId := sender.calls[1].id
	infoReq := sender.calls[1].body.(GetInfoRequest)
	assert.Equal(t, uint16(1), infoReq.Version)
	assert.Nil(t, infoReq.Token)

	menu := []OpeningFeeParams{{MinFeeMsat: 100, Proportional: 0, ValidUntil: time.Now().Add(time.Hour).UTC(), MinLifetime: 144, MaxClientToSelfDelay: 128, Promise: "deadbeef"}}
	m.HandleMessage(peer, resultDecoded(t, infoId, GetInfoMethod, GetInfoResponse{OpeningFeeParamsMenu: menu, MinPaymentSizeMsat: 1, MaxPaymentSizeMsat: 10_000_000}))

	infoEvent, ok := queue.WaitNext().(events.GetInfoResponse)
	require.True(t, ok)
	assert.Equal(t, uint64(7), infoEvent.UserChannelId)
	assert.Equal(t, menu, infoEvent.Menu)

	require.NoError(t, m.OpeningFeeParamsSelected(peer, 7, menu[0]))
	require.Len(t, sender.calls, 3)
	assert.Equal(t, BuyMethod, sender.calls[2].method)
	buyId := sender.calls[2].id

	m.HandleMessage(peer, resultDecoded(t, buyId, BuyMethod, BuyResponse{
		JitChannelScid:     NewJitChannelScid(mustParseSCID(t, "840000x1x0")),
		LSPCltvExpiryDelta: 144,
		ClientTrustsLSP:    true,
	}))

	ready, ok := queue.WaitNext().(events.InvoiceParametersReady)
	require.True(t, ok)
	assert.Equal(t, uint64(7), ready.UserChannelId)
	scid, err := ready.Scid.ToSCID()
	require.NoError(t, err)
	assert.Equal(t, uint64(840000)<<40|uint64(1)<<16, scid)
}

func mustParseSCID(t *testing.T, s string) uint64 {
	t.Helper()
	scid, err := ParseSCID(s)
	require.NoError(t, err)
	return scid
}

// TestLSPHtlcFlow mirrors spec.md §8 scenario 6.
func TestLSPHtlcFlow(t *testing.T) {
	sender := &fakeSender{}
	actions := &fakeChannelActions{}
	queue := events.NewQueue()
	secret := [32]byte{1}
	m := NewManager(Config{
		PromiseSecret:      secret,
		MinPaymentSizeMsat: 1,
		MaxPaymentSizeMsat: 10_000_000,
		SupportedVersions:  []uint16{1},
	}, sender, actions, queue)
	peer := testPeer(t)

	raw := RawOpeningFeeParams{MinFeeMsat: 100, Proportional: 0, ValidUntil: time.Now().Add(time.Hour), MinLifetime: 144, MaxClientToSelfDelay: 128}
	offer := raw.Promise(secret)

	getInfoId := transport.RequestId("req-info-1")
	m.HandleMessage(peer, transport.Decoded{Kind: transport.KindRequest, Id: getInfoId, Method: GetInfoMethod, Params: marshalT(t, GetInfoRequest{Version: 1})})

	getInfoEvent, ok := queue.WaitNext().(events.GetInfo)
	require.True(t, ok)
	assert.Equal(t, getInfoId, getInfoEvent.RequestId)

	require.NoError(t, m.OpeningFeeParamsGenerated(peer, getInfoId, []RawOpeningFeeParams{raw}))

	paymentSize := uint64(1_000_000)
	buyId := transport.RequestId("req-buy-1")
	m.HandleMessage(peer, transport.Decoded{
		Kind:   transport.KindRequest,
		Id:     buyId,
		Method: BuyMethod,
		Params: marshalT(t, BuyRequest{Version: 1, OpeningFeeParams: offer, PaymentSizeMsat: &paymentSize}),
	})

	buyEvent, ok := queue.WaitNext().(events.BuyRequest)
	require.True(t, ok)
	assert.Equal(t, buyId, buyEvent.RequestId)

	scid := mustParseSCID(t, "840000x1x0")
	require.NoError(t, m.InvoiceParametersGenerated(peer, buyId, scid, 144, true))

	require.NoError(t, m.HtlcIntercepted(scid, "intercept-1", 1_000_000, 999_900))

	openEvent, ok := queue.WaitNext().(events.OpenChannel)
	require.True(t, ok)
	assert.Equal(t, uint64(100), openEvent.FeeMsat)
	assert.Equal(t, uint64(999_900), openEvent.AmountMsat)

	var channelId identity.ChannelId
	require.NoError(t, m.ChannelReady(openEvent.UserChannelId, channelId))

	require.Len(t, actions.forwarded, 1)
	assert.Equal(t, "intercept-1", actions.forwarded[0].interceptId)
	assert.Equal(t, uint64(999_900), actions.forwarded[0].amountMsat)
}

func TestHtlcInterceptedFailsOnInsufficientFee(t *testing.T) {
	sender := &fakeSender{}
	actions := &fakeChannelActions{}
	queue := events.NewQueue()
	secret := [32]byte{1}
	m := NewManager(Config{PromiseSecret: secret, MinPaymentSizeMsat: 1, MaxPaymentSizeMsat: 10_000_000, SupportedVersions: []uint16{1}}, sender, actions, queue)
	peer := testPeer(t)

	raw := RawOpeningFeeParams{MinFeeMsat: 100, Proportional: 0, ValidUntil: time.Now().Add(time.Hour), MinLifetime: 144, MaxClientToSelfDelay: 128}
	offer := raw.Promise(secret)

	getInfoId := transport.RequestId("req-info-2")
	m.HandleMessage(peer, transport.Decoded{Kind: transport.KindRequest, Id: getInfoId, Method: GetInfoMethod, Params: marshalT(t, GetInfoRequest{Version: 1})})
	queue.WaitNext()
	require.NoError(t, m.OpeningFeeParamsGenerated(peer, getInfoId, []RawOpeningFeeParams{raw}))

	buyId := transport.RequestId("req-buy-2")
	m.HandleMessage(peer, transport.Decoded{Kind: transport.KindRequest, Id: buyId, Method: BuyMethod, Params: marshalT(t, BuyRequest{Version: 1, OpeningFeeParams: offer})})
	queue.WaitNext()

	scid := mustParseSCID(t, "1x1x0")
	require.NoError(t, m.InvoiceParametersGenerated(peer, buyId, scid, 144, true))

	// fee of only 50 msat is below the required min_fee_msat of 100.
	require.NoError(t, m.HtlcIntercepted(scid, "intercept-2", 1_000_000, 999_950))

	failure, ok := queue.WaitNext().(events.LSPFailure)
	require.True(t, ok)
	assert.Contains(t, failure.Reason, "fee")
	assert.Equal(t, []string{"intercept-2"}, actions.failed)
}

func TestBuyRequestRejectsExpiredOffer(t *testing.T) {
	sender := &fakeSender{}
	queue := events.NewQueue()
	secret := [32]byte{1}
	m := NewManager(Config{PromiseSecret: secret, MinPaymentSizeMsat: 1, MaxPaymentSizeMsat: 10_000_000, SupportedVersions: []uint16{1}}, sender, nil, queue)
	peer := testPeer(t)

	raw := RawOpeningFeeParams{MinFeeMsat: 100, Proportional: 0, ValidUntil: time.Now().Add(-time.Hour), MinLifetime: 144, MaxClientToSelfDelay: 128}
	offer := raw.Promise(secret)

	getInfoId := transport.RequestId("req-info-3")
	m.HandleMessage(peer, transport.Decoded{Kind: transport.KindRequest, Id: getInfoId, Method: GetInfoMethod, Params: marshalT(t, GetInfoRequest{Version: 1})})
	queue.WaitNext()
	require.NoError(t, m.OpeningFeeParamsGenerated(peer, getInfoId, []RawOpeningFeeParams{raw}))

	buyId := transport.RequestId("req-buy-3")
	m.HandleMessage(peer, transport.Decoded{Kind: transport.KindRequest, Id: buyId, Method: BuyMethod, Params: marshalT(t, BuyRequest{Version: 1, OpeningFeeParams: offer})})

	require.Len(t, sender.calls, 2) // the get_info result, then the buy error
	last := sender.calls[len(sender.calls)-1]
	assert.Equal(t, "error", last.kind)
	assert.Equal(t, ErrCodeInvalidOpeningFeeParams, last.code)
}

func marshalT(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
