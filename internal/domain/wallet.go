// Package domain holds the entities and invariants of the copy-trading
// relay: wallets, leaders, follows, policies, trades and the intents and
// copied trades derived from them.
package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte wallet identity, always normalized to its EIP-55
// checksum form so two observations of the same wallet always compare
// equal as strings.
type Address string

// ParseAddress validates and normalizes a hex wallet address. It reuses
// go-ethereum's address parsing rather than hand-rolling hex validation,
// since the relay already depends on go-ethereum for address plumbing and
// this is the one place upstream data needs it.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("invalid wallet address %q", raw)
	}
	return Address(common.HexToAddress(raw).Hex()), nil
}

func (a Address) String() string { return string(a) }
