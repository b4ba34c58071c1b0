// Package mocknode provides an in-memory hostnode.Node for tests that
// exercise the liquidity core without a real Lightning node.
package mocknode

import (
	"context"
	"sync"

	"github.com/lspjitd/lspjitd/internal/hostnode"
	"github.com/lspjitd/lspjitd/internal/identity"
)

// ForwardedHTLC records one call to ForwardHTLC, for test assertions.
type ForwardedHTLC struct {
	InterceptId string
	ChannelId   identity.ChannelId
	AmountMsat  uint64
}

// Node is a hostnode.Node backed by in-memory slices instead of a real
// node connection.
type Node struct {
	mu sync.Mutex

	OpenedChannels []hostnode.OpenChannelRequest
	Forwarded      []ForwardedHTLC
	Failed         []string

	// NextChannelId, when set, is returned by OpenChannel; otherwise a
	// zero identity.ChannelId is returned.
	NextChannelId identity.ChannelId
	// OpenChannelErr, when set, is returned by OpenChannel instead of
	// recording the request.
	OpenChannelErr error
}

var _ hostnode.Node = (*Node)(nil)

// OpenChannel records req and returns NextChannelId.
func (n *Node) OpenChannel(_ context.Context, req hostnode.OpenChannelRequest) (identity.ChannelId, error) {
	if n.OpenChannelErr != nil {
		return identity.ChannelId{}, n.OpenChannelErr
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.OpenedChannels = append(n.OpenedChannels, req)
	return n.NextChannelId, nil
}

// ForwardHTLC records the forward.
func (n *Node) ForwardHTLC(_ context.Context, interceptId string, channelId identity.ChannelId, amountMsat uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Forwarded = append(n.Forwarded, ForwardedHTLC{InterceptId: interceptId, ChannelId: channelId, AmountMsat: amountMsat})
	return nil
}

// FailHTLC records the failure.
func (n *Node) FailHTLC(_ context.Context, interceptId string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Failed = append(n.Failed, interceptId)
	return nil
}
