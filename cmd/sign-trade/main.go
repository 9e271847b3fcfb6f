// sign-trade builds a signed trade instruction for the authority channel.
// With no -key it generates a fresh keypair first, which is handy for
// pointing a devnet market at a new authority.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultbook/vaultbook/pkg/core/order"
	"github.com/vaultbook/vaultbook/pkg/crypto"
)

func main() {
	var (
		keyHex    = flag.String("key", "", "authority private key hex (empty generates a new key)")
		symbol    = flag.String("symbol", "BTC-USDC", "market symbol")
		taker     = flag.String("taker", "", "taker address")
		maker     = flag.String("maker", "", "maker address")
		takerID   = flag.Uint64("taker-id", 0, "taker client order id")
		makerID   = flag.Uint64("maker-id", 0, "maker client order id")
		price     = flag.Int64("price", 0, "execution price")
		quantity  = flag.Int64("quantity", 0, "execution quantity in base units")
		takerSide = flag.String("taker-side", "bid", "taker side: bid or ask")
	)
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err != nil {
			fatal("generate key: %v", err)
		}
		fmt.Printf("Generated key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
		if err != nil {
			fatal("parse key: %v", err)
		}
	}
	fmt.Printf("Authority: %s\n\n", signer.Address().Hex())

	if !common.IsHexAddress(*taker) || !common.IsHexAddress(*maker) {
		fatal("taker and maker must be valid hex addresses")
	}

	side := order.Bid
	switch *takerSide {
	case "bid":
	case "ask":
		side = order.Ask
	default:
		fatal("taker-side must be bid or ask, got %q", *takerSide)
	}

	t := &order.Trade{
		Symbol:       *symbol,
		Taker:        common.HexToAddress(*taker),
		Maker:        common.HexToAddress(*maker),
		TakerOrderID: *takerID,
		MakerOrderID: *makerID,
		Price:        *price,
		Quantity:     *quantity,
		TakerSide:    side,
		Timestamp:    time.Now().UnixMilli(),
	}

	sig, err := crypto.SignTrade(signer, t)
	if err != nil {
		fatal("sign: %v", err)
	}

	instruction := map[string]interface{}{
		"symbol":       t.Symbol,
		"taker":        t.Taker.Hex(),
		"maker":        t.Maker.Hex(),
		"takerOrderId": t.TakerOrderID,
		"makerOrderId": t.MakerOrderID,
		"price":        t.Price,
		"quantity":     t.Quantity,
		"takerSide":    *takerSide,
		"timestamp":    t.Timestamp,
		"signature":    fmt.Sprintf("0x%x", sig),
	}

	out, err := json.MarshalIndent(instruction, "", "  ")
	if err != nil {
		fatal("marshal: %v", err)
	}
	fmt.Println(string(out))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
