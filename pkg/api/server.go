package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/vaultbook/vaultbook/pkg/core"
	"github.com/vaultbook/vaultbook/pkg/core/ledger"
	"github.com/vaultbook/vaultbook/pkg/core/market"
	"github.com/vaultbook/vaultbook/pkg/core/order"
)

// maxTradeQueryLimit bounds one trade-history response.
const maxTradeQueryLimit = 1000

// Server exposes the settlement engine over REST plus a websocket channel
// for the matching authority.
type Server struct {
	engine *ledger.Engine
	router *mux.Router
	log    *zap.SugaredLogger

	allowedOrigins []string
}

func NewServer(engine *ledger.Engine, logger *zap.SugaredLogger, allowedOrigins []string) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		engine:         engine,
		router:         mux.NewRouter(),
		log:            logger,
		allowedOrigins: allowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Markets
	api.HandleFunc("/markets", s.handleCreateMarket).Methods("POST")
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods("POST")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/accounts/{address}/withdraw", s.handleWithdraw).Methods("POST")

	// Orders
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{address}/{id}", s.handleGetOrder).Methods("GET")

	// Custody
	api.HandleFunc("/vaults/{asset}", s.handleGetVault).Methods("GET")

	// Authority settlement channel
	s.router.HandleFunc("/ws/authority", s.handleAuthorityWS)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the fully wired HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Authority) {
		respondError(w, http.StatusBadRequest, "invalid authority address", req.Authority)
		return
	}

	m, err := s.engine.CreateMarket(req.BaseAsset, req.QuoteAsset, req.TickSize, req.MinOrderSize, common.HexToAddress(req.Authority))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.Markets()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Market(mux.Vars(r)["symbol"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		if n > maxTradeQueryLimit {
			n = maxTradeQueryLimit
		}
		limit = n
	}

	trades, err := s.engine.RecentTrades(symbol, limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = TradeInfo{
			Symbol:    t.Symbol,
			Taker:     t.Taker.Hex(),
			Maker:     t.Maker.Hex(),
			Price:     t.Price,
			Quantity:  t.Quantity,
			TakerSide: t.TakerSide.String(),
			Timestamp: t.Timestamp,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", req.Owner)
		return
	}

	a, err := s.engine.CreateAccount(common.HexToAddress(req.Owner))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, accountInfo(a))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return
	}

	a, err := s.engine.Account(common.HexToAddress(addressStr))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, accountInfo(a))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.engine.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.engine.Withdraw)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, op func(common.Address, string, string, int64) error) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	owner := common.HexToAddress(addressStr)
	if err := op(owner, req.Symbol, req.Asset, req.Amount); err != nil {
		respondEngineError(w, err)
		return
	}

	a, err := s.engine.Account(owner)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, accountInfo(a))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", req.Owner)
		return
	}

	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	typ, err := parseOrderType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid type", err.Error())
		return
	}
	tif, err := parseTimeInForce(req.TimeInForce)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid timeInForce", err.Error())
		return
	}
	selfTrade, err := parseSelfTrade(req.SelfTrade)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid selfTradeBehavior", err.Error())
		return
	}

	o, err := s.engine.PlaceOrder(&order.Order{
		Owner:         common.HexToAddress(req.Owner),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          side,
		Type:          typ,
		TimeInForce:   tif,
		SelfTrade:     selfTrade,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Expiry:        req.Expiry,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Caller) || !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	caller := common.HexToAddress(req.Caller)
	owner := common.HexToAddress(req.Owner)
	if err := s.engine.CancelOrder(caller, owner, req.ClientOrderID); err != nil {
		respondEngineError(w, err)
		return
	}

	o, err := s.engine.Order(owner, req.ClientOrderID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addressStr := vars["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return
	}
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", vars["id"])
		return
	}

	o, err := s.engine.Order(common.HexToAddress(addressStr), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	v, err := s.engine.Vault(asset)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, VaultInfo{
		Asset:     v.Asset,
		Balance:   v.Balance,
		Conserved: s.engine.VerifyConservation(asset) == nil,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		Symbol:       m.Symbol,
		BaseAsset:    m.BaseAsset,
		QuoteAsset:   m.QuoteAsset,
		Authority:    m.Authority.Hex(),
		TickSize:     m.TickSize,
		MinOrderSize: m.MinOrderSize,
		TotalVolume:  m.TotalVolume,
	}
}

func accountInfo(a *ledger.Account) AccountInfo {
	balances := make(map[string]int64, len(a.Balances))
	for asset, bal := range a.Balances {
		balances[asset] = bal
	}
	return AccountInfo{
		Owner:             a.Owner.Hex(),
		Balances:          balances,
		OpenOrders:        a.OpenOrders,
		TotalVolumeTraded: a.TotalVolumeTraded,
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondEngineError maps engine errors to HTTP statuses by taxonomy class,
// with not-found cases carved out as 404.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrMarketNotFound),
		errors.Is(err, core.ErrAccountNotFound),
		errors.Is(err, core.ErrOrderNotFound):
		status = http.StatusNotFound
	default:
		switch core.Classify(err) {
		case core.ClassValidation:
			status = http.StatusBadRequest
		case core.ClassState:
			status = http.StatusConflict
		case core.ClassAuthorization:
			status = http.StatusForbidden
		case core.ClassConservation:
			status = http.StatusUnprocessableEntity
		}
	}
	respondError(w, status, core.Classify(err).String(), err.Error())
}
