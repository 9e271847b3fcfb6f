package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Pebble key schema. Record addresses are derived deterministically from the
// logical identity tuple, so the same (owner, clientOrderID) always lands on
// the same key regardless of insertion order:
//
//	mkt:{symbol}                    market config + stats
//	acc:{address}                   user account
//	vlt:{asset}                     vault custody pool
//	ord:{keccak(owner||id)}         order record
//	trd:{symbol}:{ts}:{seq}         trade execution record (time-ordered)
const (
	prefixMarket = "mkt:"
	prefixAcct   = "acc:"
	prefixVault  = "vlt:"
	prefixOrder  = "ord:"
	prefixTrade  = "trd:"
)

func marketKey(symbol string) []byte {
	return []byte(prefixMarket + symbol)
}

func accountKey(addr common.Address) []byte {
	return []byte(prefixAcct + addr.Hex())
}

func vaultKey(asset string) []byte {
	return []byte(prefixVault + asset)
}

// orderKey hashes the identity tuple with keccak256. The digest keeps order
// keys fixed-width and uniformly distributed; uniqueness and owner scoping
// come from the tuple itself.
func orderKey(owner common.Address, clientOrderID uint64) []byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], clientOrderID)

	h := sha3.NewLegacyKeccak256()
	h.Write(owner.Bytes())
	h.Write(id[:])
	digest := h.Sum(nil)

	return []byte(fmt.Sprintf("%s%x", prefixOrder, digest))
}

// tradeKey zero-pads the timestamp so lexicographic order is time order;
// seq breaks ties within one millisecond.
func tradeKey(symbol string, timestampMs int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%012d", prefixTrade, symbol, timestampMs, seq))
}

func tradePrefix(symbol string) []byte {
	return []byte(prefixTrade + symbol + ":")
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
