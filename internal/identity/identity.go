// Package identity holds the node and channel identity types shared
// across the LSPS0/LSPS2 protocol packages, the liquidity facade, and
// the host-node adapters, so none of them need to agree informally on
// what a "peer" or "channel" is.
package identity

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// PeerID is a Lightning node's public key, the wire protocol's
// counterparty_node_id.
type PeerID = btcec.PublicKey

// ChannelId is the 32-byte channel identifier LDK derives from a
// channel's funding transaction hash.
type ChannelId = chainhash.Hash
