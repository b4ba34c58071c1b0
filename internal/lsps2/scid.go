package lsps2

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	blockBits  = 24
	txBits     = 24
	voutBits   = 16
	maxBlock   = 1<<blockBits - 1
	maxTxIndex = 1<<txBits - 1
	maxVout    = 1<<voutBits - 1
)

// FormatSCID renders a short_channel_id as the human-readable
// "block x tx_index x vout" form used on the wire, extracting block from
// bits 63..40, tx index from bits 39..16, and vout from bits 15..0.
func FormatSCID(scid uint64) string {
	block := scid >> 40
	txIndex := (scid >> 16) & maxTxIndex
	vout := scid & maxVout
	return fmt.Sprintf("%dx%dx%d", block, txIndex, vout)
}

// ParseSCID parses the human-readable form back into a u64, rejecting
// any component that overflows its field width.
func ParseSCID(s string) (uint64, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return 0, fmt.Errorf("lsps2: malformed scid %q: want 3 x-separated components", s)
	}

	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lsps2: malformed scid block component %q: %w", parts[0], err)
	}
	if block > maxBlock {
		return 0, fmt.Errorf("lsps2: scid block %d exceeds %d-bit field", block, blockBits)
	}

	txIndex, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lsps2: malformed scid tx index component %q: %w", parts[1], err)
	}
	if txIndex > maxTxIndex {
		return 0, fmt.Errorf("lsps2: scid tx index %d exceeds %d-bit field", txIndex, txBits)
	}

	vout, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lsps2: malformed scid vout component %q: %w", parts[2], err)
	}
	if vout > maxVout {
		return 0, fmt.Errorf("lsps2: scid vout %d exceeds %d-bit field", vout, voutBits)
	}

	return block<<40 | txIndex<<16 | vout, nil
}
