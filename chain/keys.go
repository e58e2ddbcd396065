// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"strings"

	"github.com/luxfi/geth/common"
)

// AddrKey normalizes an address to the lowercase hex form used as a storage
// key. Address.Hex is EIP-55 mixed case, which would split rows for the same
// token.
func AddrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// HashKey normalizes a 32-byte hash to lowercase 0x-prefixed hex.
func HashKey(h common.Hash) string {
	return h.Hex()
}
