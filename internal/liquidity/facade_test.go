package liquidity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lspjitd/lspjitd/internal/events"
	"github.com/lspjitd/lspjitd/internal/hostnode"
	"github.com/lspjitd/lspjitd/internal/hostnode/mocknode"
	"github.com/lspjitd/lspjitd/internal/identity"
	"github.com/lspjitd/lspjitd/internal/lsps0"
	"github.com/lspjitd/lspjitd/internal/lsps2"
	"github.com/lspjitd/lspjitd/internal/transport"
)

func testPeer(t *testing.T) *identity.PeerID {
	t.Helper()
	_, pub := btcec.PrivKeyFromBytes([]byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	})
	return pub
}

func TestListProtocolsRoundTripsThroughFacade(t *testing.T) {
	f := New(Config{LSPS0EnabledProtocols: []uint16{0, 2}}, nil)
	peer := testPeer(t)

	req := mustEnvelope(t, `{"jsonrpc":"2.0","id":"1","method":"lsps0.list_protocols","params":{}}`)
	f.HandleCustomMessage(req, peer)

	msgs := f.GetAndClearPendingMsg()
	require.Len(t, msgs, 1)
	assert.Equal(t, peer, msgs[0].Peer)

	var env transport.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &env))
	var result lsps0.ListProtocolsResponse
	require.NoError(t, json.Unmarshal(env.Result, &result))
	assert.Equal(t, []uint16{0, 2}, result.Protocols)
}

func TestUndecodableMessageGetsInvalidReply(t *testing.T) {
	f := New(Config{}, nil)
	peer := testPeer(t)

	f.HandleCustomMessage([]byte("not json"), peer)

	msgs := f.GetAndClearPendingMsg()
	require.Len(t, msgs, 1)

	var env transport.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &env))
	assert.Equal(t, transport.InvalidMessageMethod, env.Method)
}

func TestJITOperationsDeclineWhenNotConfigured(t *testing.T) {
	f := New(Config{}, nil)
	peer := testPeer(t)

	assert.ErrorIs(t, f.CreateInvoice(peer, nil, nil, 1), ErrJITChannelsNotConfigured)
	assert.ErrorIs(t, f.OpeningFeeParamsSelected(peer, 1, lsps2.OpeningFeeParams{}), ErrJITChannelsNotConfigured)
	assert.Nil(t, f.NodeFeatureBits())
}

func TestFeatureBitAdvertisedWhenJITConfigured(t *testing.T) {
	f := New(Config{JITChannels: &lsps2.Config{SupportedVersions: []uint16{1}}}, hostnode.ChannelActions{Node: &mocknode.Node{}, Ctx: context.Background()})
	assert.Equal(t, []int{FeatureBit}, f.NodeFeatureBits())
}

func TestJITGetInfoMenuThroughFacade(t *testing.T) {
	node := &mocknode.Node{}
	f := New(Config{
		JITChannels: &lsps2.Config{
			PromiseSecret:      [32]byte{9},
			MinPaymentSizeMsat: 1,
			MaxPaymentSizeMsat: 10_000_000,
			SupportedVersions:  []uint16{1},
		},
	}, hostnode.ChannelActions{Node: node, Ctx: context.Background()})
	peer := testPeer(t)

	getInfoReq := mustEnvelope(t, `{"jsonrpc":"2.0","id":"req-1","method":"lsps2.get_info","params":{"version":1}}`)
	f.HandleCustomMessage(getInfoReq, peer)

	evt, ok := f.WaitNextEvent().(events.GetInfo)
	require.True(t, ok)
	assert.Equal(t, transport.RequestId("req-1"), evt.RequestId)

	raw := lsps2.RawOpeningFeeParams{MinFeeMsat: 100, Proportional: 0, ValidUntil: time.Now().Add(time.Hour), MinLifetime: 144, MaxClientToSelfDelay: 128}
	require.NoError(t, f.OpeningFeeParamsGenerated(peer, evt.RequestId, []lsps2.RawOpeningFeeParams{raw}))

	msgs := f.GetAndClearPendingMsg()
	require.Len(t, msgs, 1)
}

func mustEnvelope(t *testing.T, s string) []byte {
	t.Helper()
	return []byte(s)
}
