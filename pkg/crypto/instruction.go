package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vaultbook/vaultbook/pkg/core/order"
)

// Trade instructions are signed over a keccak256 digest of a canonical
// field encoding. The encoding is a domain-tagged, field-ordered string so
// any implementation reproduces the same digest without a serialization
// library.

const tradeDomainTag = "vaultbook/trade/v1"

// HashTrade computes the signing digest for a trade instruction.
func HashTrade(t *order.Trade) []byte {
	canonical := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%d|%d|%d|%d",
		tradeDomainTag,
		t.Symbol,
		t.Taker.Hex(),
		t.Maker.Hex(),
		t.TakerOrderID,
		t.MakerOrderID,
		t.Price,
		t.Quantity,
		int8(t.TakerSide),
		t.Timestamp,
	)
	return crypto.Keccak256([]byte(canonical))
}

// SignTrade signs a trade instruction with the authority key.
func SignTrade(s *Signer, t *order.Trade) ([]byte, error) {
	return s.Sign(HashTrade(t))
}

// RecoverTradeSigner returns the address that signed a trade instruction.
func RecoverTradeSigner(t *order.Trade, signature []byte) (common.Address, error) {
	return RecoverAddress(HashTrade(t), signature)
}
