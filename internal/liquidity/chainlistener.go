package liquidity

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockHeader is the minimal header data a ChainListener needs to
// verify chain order; the embedder's chain source supplies these on
// each connect/disconnect notification.
type BlockHeader struct {
	Hash          chainhash.Hash
	PrevBlockHash chainhash.Hash
}

// BestBlock is the tip a ChainListener currently believes it is at.
type BestBlock struct {
	Hash   chainhash.Hash
	Height uint32
}

// ChainListener mirrors the reference implementation's block
// notification hooks: connections and disconnections must arrive in
// strict chain order, one block at a time. The tip is guarded by a
// reader-writer lock per spec.md §5, since reads (e.g. SCID validation
// against chain height) are far more frequent than tip updates.
type ChainListener struct {
	mu  sync.RWMutex
	tip BestBlock
}

// NewChainListener starts a ChainListener at the given starting tip,
// normally the embedder's chain sync starting point.
func NewChainListener(tip BestBlock) *ChainListener {
	return &ChainListener{tip: tip}
}

// BlockConnected advances the tip by one block. It panics if header
// does not extend the current tip, since an out-of-order connection
// notification means the embedder's chain source is broken in a way
// the core cannot recover from.
func (c *ChainListener) BlockConnected(header BlockHeader, height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip.Hash != header.PrevBlockHash {
		panic("liquidity: block_connected out of order: prev_blockhash does not match current tip")
	}
	if height != c.tip.Height+1 {
		panic("liquidity: block_connected out of order: height is not tip height + 1")
	}

	c.tip = BestBlock{Hash: header.Hash, Height: height}
	c.transactionsConfirmed(header, height)
	c.bestBlockUpdated(header, height)
}

// BlockDisconnected rolls the tip back by one block. It panics if
// header is not the current tip, for the same reason BlockConnected
// panics on a mismatched prev_blockhash.
func (c *ChainListener) BlockDisconnected(header BlockHeader, height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tip.Hash != header.Hash || c.tip.Height != height {
		panic("liquidity: block_disconnected out of order: header is not the current tip")
	}

	c.tip = BestBlock{Hash: header.PrevBlockHash, Height: height - 1}
}

// BestBlock returns the listener's current chain tip.
func (c *ChainListener) BestBlock() BestBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// transactionsConfirmed notifies interested components that header's
// transactions have confirmed.
//
// TODO: wire this up once a payment-reconciliation component exists
// that needs confirmation depth for opened JIT channels; today nothing
// in this repo watches for it.
func (c *ChainListener) transactionsConfirmed(header BlockHeader, height uint32) {}

// bestBlockUpdated notifies interested components that the chain tip
// advanced.
//
// TODO: same as transactionsConfirmed - currently a no-op.
func (c *ChainListener) bestBlockUpdated(header BlockHeader, height uint32) {}

// GetRelevantTxids returns the set of unconfirmed txids this listener
// still needs confirmation data for, so the embedder's chain source
// knows what to keep rescanning for after a reorg.
//
// TODO: populate once channel-funding txids are tracked here rather
// than solely inside hostnode implementations.
func (c *ChainListener) GetRelevantTxids() []chainhash.Hash { return nil }
