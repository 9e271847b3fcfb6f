package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/vaultbook/vaultbook/pkg/core/order"
	vbcrypto "github.com/vaultbook/vaultbook/pkg/crypto"
)

const (
	authorityReadDeadline  = 60 * time.Second
	authorityWriteDeadline = 10 * time.Second
	authorityPingInterval  = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens in the CORS layer; instruction
		// authenticity rests on the signature, not the connection.
		return true
	},
}

// handleAuthorityWS serves the settlement channel. The matching authority
// connects, streams signed trade instructions, and receives one ack per
// instruction. The signer address is recovered from each instruction's
// signature and passed to the engine as the caller, so a stolen connection
// without the authority key settles nothing.
func (s *Server) handleAuthorityWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("authority_upgrade_failed", "err", err)
		return
	}
	defer conn.Close()

	s.log.Infow("authority_connected", "remote", conn.RemoteAddr().String())

	conn.SetReadDeadline(time.Now().Add(authorityReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(authorityReadDeadline))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.authorityPingLoop(conn, done)

	for {
		var instr TradeInstruction
		if err := conn.ReadJSON(&instr); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnw("authority_read_error", "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(authorityReadDeadline))

		ack := s.settleInstruction(&instr)
		conn.SetWriteDeadline(time.Now().Add(authorityWriteDeadline))
		if err := conn.WriteJSON(ack); err != nil {
			s.log.Warnw("authority_write_error", "err", err)
			return
		}
	}
}

func (s *Server) authorityPingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(authorityPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(authorityWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) settleInstruction(instr *TradeInstruction) InstructionAck {
	ack := InstructionAck{
		TakerOrderID: instr.TakerOrderID,
		MakerOrderID: instr.MakerOrderID,
	}

	t, err := instr.toTrade()
	if err != nil {
		ack.Error = err.Error()
		return ack
	}

	sig, err := hexutil.Decode(instr.Signature)
	if err != nil {
		ack.Error = "invalid signature encoding: " + err.Error()
		return ack
	}
	signer, err := vbcrypto.RecoverTradeSigner(t, sig)
	if err != nil {
		ack.Error = "signature recovery failed: " + err.Error()
		return ack
	}

	if err := s.engine.ExecuteTrade(signer, t); err != nil {
		ack.Error = err.Error()
		return ack
	}
	ack.OK = true
	return ack
}

func (instr *TradeInstruction) toTrade() (*order.Trade, error) {
	side, err := parseSide(instr.TakerSide)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(instr.Taker) || !common.IsHexAddress(instr.Maker) {
		return nil, errInvalidPartyAddress
	}
	return &order.Trade{
		Symbol:       instr.Symbol,
		Taker:        common.HexToAddress(instr.Taker),
		Maker:        common.HexToAddress(instr.Maker),
		TakerOrderID: instr.TakerOrderID,
		MakerOrderID: instr.MakerOrderID,
		Price:        instr.Price,
		Quantity:     instr.Quantity,
		TakerSide:    side,
		Timestamp:    instr.Timestamp,
	}, nil
}

var errInvalidPartyAddress = errors.New("invalid party address")
