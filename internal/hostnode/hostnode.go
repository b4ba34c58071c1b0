// Package hostnode defines the abstract interface the liquidity core
// uses to reach the embedder's actual Lightning node: opening real
// channels and forwarding or failing already-intercepted HTLCs. HTLC
// interception itself and chain tip updates are not part of Node. The core never talks to lnd, CLN, or any other
// implementation directly - it depends on this interface so the
// protocol logic in internal/lsps2 stays testable without a live node.
package hostnode

import (
	"context"

	"github.com/lspjitd/lspjitd/internal/identity"
)

// OpenChannelRequest describes the real channel the LSP must open once
// an internal/lsps2.Manager emits an OpenChannel event.
type OpenChannelRequest struct {
	Peer          *identity.PeerID
	UserChannelId uint64
	// PushMsat funds the client's initial balance so the inbound
	// payment the JIT channel exists to receive can actually be routed
	// across it as soon as it confirms.
	PushMsat int64
	// CapacitySat is the on-chain channel size; must cover PushMsat plus
	// the node's on-chain reserve requirements.
	CapacitySat int64
}

// Node is the host Lightning node's capabilities as the liquidity core
// needs them. A concrete implementation lives in lndnode; mocknode
// supplies a fake for protocol-level tests.
type Node interface {
	// OpenChannel funds and broadcasts a new channel to req.Peer,
	// returning the resulting channel id once the funding transaction
	// is accepted into the mempool (not yet confirmed).
	OpenChannel(ctx context.Context, req OpenChannelRequest) (identity.ChannelId, error)

	// ForwardHTLC releases a previously intercepted HTLC onward over
	// channelId for amountMsat.
	ForwardHTLC(ctx context.Context, interceptId string, channelId identity.ChannelId, amountMsat uint64) error

	// FailHTLC fails a previously intercepted HTLC back to the sender.
	FailHTLC(ctx context.Context, interceptId string) error
}

// ChannelActions adapts a Node to the context-free ForwardHTLC/FailHTLC
// shape internal/lsps2.Manager calls synchronously out of its own
// lock, binding every call to Ctx. lsps2 has no dependency on this
// package - its ChannelActions interface is satisfied structurally.
type ChannelActions struct {
	Node Node
	Ctx  context.Context
}

func (a ChannelActions) ForwardHTLC(interceptId string, channelId identity.ChannelId, amountMsat uint64) error {
	return a.Node.ForwardHTLC(a.Ctx, interceptId, channelId, amountMsat)
}

func (a ChannelActions) FailHTLC(interceptId string) error {
	return a.Node.FailHTLC(a.Ctx, interceptId)
}
