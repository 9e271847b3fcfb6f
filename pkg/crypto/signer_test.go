package crypto

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/vaultbook/vaultbook/pkg/core/order"
)

func testTrade() *order.Trade {
	return &order.Trade{
		Symbol:       "BTC-USDC",
		Taker:        common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Maker:        common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		TakerOrderID: 1,
		MakerOrderID: 2,
		Price:        4,
		Quantity:     10,
		TakerSide:    order.Bid,
		Timestamp:    1_000_000,
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	hash := ethcrypto.Keccak256([]byte("payload"))
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	recovered, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("RecoverAddress failed: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("VerifySignature should pass for the signing key")
	}

	other, _ := GenerateKey()
	if VerifySignature(other.Address(), hash, sig) {
		t.Error("VerifySignature should fail for a different key")
	}
}

func TestSignRejectsBadDigest(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("Sign should reject a non-32-byte digest")
	}
	if _, err := RecoverAddress(make([]byte, 32), []byte("short")); err == nil {
		t.Error("RecoverAddress should reject a malformed signature")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	restored, err := FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("FromPrivateKeyHex failed: %v", err)
	}
	if restored.Address() != signer.Address() {
		t.Errorf("restored address %s, want %s", restored.Address().Hex(), signer.Address().Hex())
	}
}

func TestHashTradeDeterministic(t *testing.T) {
	h1 := HashTrade(testTrade())
	h2 := HashTrade(testTrade())
	if !bytes.Equal(h1, h2) {
		t.Error("identical trades must hash identically")
	}
	if len(h1) != 32 {
		t.Errorf("digest length = %d, want 32", len(h1))
	}

	// Any field change moves the digest.
	changed := testTrade()
	changed.Price++
	if bytes.Equal(h1, HashTrade(changed)) {
		t.Error("price change must change the digest")
	}
	changed = testTrade()
	changed.TakerSide = order.Ask
	if bytes.Equal(h1, HashTrade(changed)) {
		t.Error("side change must change the digest")
	}
}

func TestSignTradeRecoversAuthority(t *testing.T) {
	signer, _ := GenerateKey()
	tr := testTrade()

	sig, err := SignTrade(signer, tr)
	if err != nil {
		t.Fatalf("SignTrade failed: %v", err)
	}
	recovered, err := RecoverTradeSigner(tr, sig)
	if err != nil {
		t.Fatalf("RecoverTradeSigner failed: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	// A tampered instruction no longer recovers the authority.
	tr.Quantity++
	recovered, err = RecoverTradeSigner(tr, sig)
	if err == nil && recovered == signer.Address() {
		t.Error("tampered trade must not recover the authority address")
	}
}
