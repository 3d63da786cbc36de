// Package mockserver provides a mock Alpaca server for testing.
// It implements the trading and market-data REST endpoints together with the
// account and market-data websocket streams.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Stream kinds served by the mock.
const (
	StreamAccount = "account"
	StreamMarket  = "market"
)

// Broker error codes returned in error envelopes.
const (
	CodeUnauthorized   = 40110000
	CodeNotFound       = 40410000
	CodeUnprocessable  = 42210000
	CodeForbidden      = 40310000
	AccountIDFixture   = "904837e3-3b76-47ec-b432-046db621571b"
	AccountNumFixture  = "PA2U8DQ6N6ZA"
	TimestampLayout    = "2006-01-02T15:04:05.000Z"
	defaultStreamReply = "authorized"
)

// Order is an order as the mock stores and returns it.
type Order struct {
	ID            string  `json:"id"`
	ClientOrderID string  `json:"client_order_id"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	SubmittedAt   string  `json:"submitted_at"`
	CanceledAt    *string `json:"canceled_at"`
	ReplacedAt    *string `json:"replaced_at"`
	ReplacedBy    *string `json:"replaced_by"`
	Replaces      *string `json:"replaces"`
	AssetID       string  `json:"asset_id"`
	Symbol        string  `json:"symbol"`
	AssetClass    string  `json:"asset_class"`
	Qty           *string `json:"qty"`
	Notional      *string `json:"notional"`
	FilledQty     string  `json:"filled_qty"`
	Type          string  `json:"type"`
	Side          string  `json:"side"`
	TimeInForce   string  `json:"time_in_force"`
	LimitPrice    *string `json:"limit_price"`
	StopPrice     *string `json:"stop_price"`
	Status        string  `json:"status"`
	ExtendedHours bool    `json:"extended_hours"`
	OrderClass    string  `json:"order_class"`
	// Source is not part of the typed client model and exercises extra field handling.
	Source string `json:"source"`
}

// Position is an open position.
type Position struct {
	AssetID       string `json:"asset_id"`
	Symbol        string `json:"symbol"`
	Exchange      string `json:"exchange,omitempty"`
	AssetClass    string `json:"asset_class,omitempty"`
	AvgEntryPrice string `json:"avg_entry_price,omitempty"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	MarketValue   string `json:"market_value,omitempty"`
	CostBasis     string `json:"cost_basis,omitempty"`
	CurrentPrice  string `json:"current_price,omitempty"`
}

// Asset is a tradable instrument.
type Asset struct {
	ID           string `json:"id"`
	Class        string `json:"class"`
	Exchange     string `json:"exchange"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Tradable     bool   `json:"tradable"`
	Marginable   bool   `json:"marginable"`
	Shortable    bool   `json:"shortable"`
	EasyToBorrow bool   `json:"easy_to_borrow"`
	Fractionable bool   `json:"fractionable"`
}

// Watchlist is a named list of assets.
type Watchlist struct {
	ID        string  `json:"id"`
	AccountID string  `json:"account_id"`
	Name      string  `json:"name"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	Assets    []Asset `json:"assets"`
}

// Configurations are the account configuration switches.
type Configurations struct {
	DTBPCheck         string `json:"dtbp_check"`
	NoShorting        bool   `json:"no_shorting"`
	SuspendTrade      bool   `json:"suspend_trade"`
	TradeConfirmEmail string `json:"trade_confirm_email"`
}

// RecordedRequest is one REST request received by the mock.
type RecordedRequest struct {
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	ReceivedAt time.Time
}

// ServerConfig holds configuration for the mock server.
type ServerConfig struct {
	// KeyID and SecretKey are the credentials accepted by REST and streams.
	KeyID     string
	SecretKey string
	// Positions seeds the open positions.
	Positions []Position
	// Assets seeds the asset catalogue. Symbols referenced elsewhere are
	// added on demand.
	Assets []Asset
}

type streamConn struct {
	kind          string
	conn          *websocket.Conn
	writeMu       sync.Mutex
	subscriptions map[string]struct{}
}

func (c *streamConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(v)
}

// MockAlpacaServer provides a mock Alpaca server for testing.
type MockAlpacaServer struct {
	mu sync.RWMutex

	// HTTP server
	httpServer *http.Server
	listener   net.Listener

	// WebSocket upgrader
	upgrader websocket.Upgrader

	keyID     string
	secretKey string

	// State management
	orders         map[string]*Order
	orderSeq       []string
	positions      map[string]*Position
	positionOrder  []string
	watchlists     map[string]*Watchlist
	watchlistOrder []string
	assets         map[string]Asset
	configurations Configurations

	requests  []RecordedRequest
	overrides map[string]http.HandlerFunc

	// WebSocket connections
	wsMu         sync.RWMutex
	wsConns      map[*streamConn]bool
	streamFrames map[string][][]byte
	rejectAuth   bool
	withholdAuth bool
}

// NewMockAlpacaServer creates a new mock Alpaca server.
func NewMockAlpacaServer(config ServerConfig) *MockAlpacaServer {
	server := &MockAlpacaServer{
		mu: sync.RWMutex{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		keyID:          config.KeyID,
		secretKey:      config.SecretKey,
		orders:         make(map[string]*Order),
		orderSeq:       make([]string, 0),
		positions:      make(map[string]*Position),
		positionOrder:  make([]string, 0),
		watchlists:     make(map[string]*Watchlist),
		watchlistOrder: make([]string, 0),
		assets:         make(map[string]Asset),
		configurations: Configurations{
			DTBPCheck:         "entry",
			NoShorting:        false,
			SuspendTrade:      false,
			TradeConfirmEmail: "all",
		},
		requests:     make([]RecordedRequest, 0),
		overrides:    make(map[string]http.HandlerFunc),
		wsMu:         sync.RWMutex{},
		wsConns:      make(map[*streamConn]bool),
		streamFrames: make(map[string][][]byte),
		rejectAuth:   false,
		httpServer:   nil,
		listener:     nil,
	}

	for _, asset := range config.Assets {
		server.assets[asset.Symbol] = asset
	}

	for i := range config.Positions {
		position := config.Positions[i]
		if position.AssetID == "" {
			position.AssetID = server.assetFor(position.Symbol).ID
		}

		server.positions[position.Symbol] = &position
		server.positionOrder = append(server.positionOrder, position.Symbol)
	}

	return server
}

// Start starts the mock server on the given address.
// If address is empty or ":0", a random available port is used.
func (s *MockAlpacaServer) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listener = listener

	router := mux.NewRouter()
	router.Use(s.recordMiddleware)

	v2 := router.PathPrefix("/v2").Subrouter()
	v2.Use(s.authMiddleware)
	v2.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	v2.HandleFunc("/account/configurations", s.handleGetConfigurations).Methods(http.MethodGet)
	v2.HandleFunc("/account/configurations", s.handlePatchConfigurations).Methods(http.MethodPatch)
	v2.HandleFunc("/account/activities", s.handleActivities).Methods(http.MethodGet)
	v2.HandleFunc("/account/activities/{type}", s.handleActivities).Methods(http.MethodGet)
	v2.HandleFunc("/account/portfolio/history", s.handlePortfolioHistory).Methods(http.MethodGet)
	v2.HandleFunc("/clock", s.handleClock).Methods(http.MethodGet)
	v2.HandleFunc("/calendar", s.handleCalendar).Methods(http.MethodGet)
	v2.HandleFunc("/assets", s.handleAssets).Methods(http.MethodGet)
	v2.HandleFunc("/assets/{id}", s.handleAsset).Methods(http.MethodGet)
	v2.HandleFunc("/orders:by_client_order_id", s.handleGetOrderByClientID).Methods(http.MethodGet)
	v2.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	v2.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	v2.HandleFunc("/orders", s.handleCancelAllOrders).Methods(http.MethodDelete)
	v2.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	v2.HandleFunc("/orders/{id}", s.handleReplaceOrder).Methods(http.MethodPatch)
	v2.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	v2.HandleFunc("/positions", s.handleListPositions).Methods(http.MethodGet)
	v2.HandleFunc("/positions", s.handleCloseAllPositions).Methods(http.MethodDelete)
	v2.HandleFunc("/positions/{symbol}", s.handleGetPosition).Methods(http.MethodGet)
	v2.HandleFunc("/positions/{symbol}", s.handleClosePosition).Methods(http.MethodDelete)
	v2.HandleFunc("/watchlists", s.handleListWatchlists).Methods(http.MethodGet)
	v2.HandleFunc("/watchlists", s.handleCreateWatchlist).Methods(http.MethodPost)
	v2.HandleFunc("/watchlists/{id}", s.handleGetWatchlist).Methods(http.MethodGet)
	v2.HandleFunc("/watchlists/{id}", s.handleUpdateWatchlist).Methods(http.MethodPut)
	v2.HandleFunc("/watchlists/{id}", s.handleAddToWatchlist).Methods(http.MethodPost)
	v2.HandleFunc("/watchlists/{id}", s.handleDeleteWatchlist).Methods(http.MethodDelete)
	v2.HandleFunc("/watchlists/{id}/{symbol}", s.handleRemoveFromWatchlist).Methods(http.MethodDelete)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/bars/{timeframe}", s.handleBars).Methods(http.MethodGet)
	v1.HandleFunc("/last/stocks/{symbol}", s.handleLastTrade).Methods(http.MethodGet)
	v1.HandleFunc("/last_quote/stocks/{symbol}", s.handleLastQuote).Methods(http.MethodGet)

	// WebSocket endpoints
	router.HandleFunc("/stream", s.streamHandler(StreamAccount))
	router.HandleFunc("/data/stream", s.streamHandler(StreamMarket))

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the mock server.
func (s *MockAlpacaServer) Stop() error {
	s.wsMu.Lock()
	for conn := range s.wsConns {
		_ = conn.conn.Close()
	}

	s.wsConns = make(map[*streamConn]bool)
	s.wsMu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Address returns the address the server is listening on.
func (s *MockAlpacaServer) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// BaseURL returns the base URL for the server.
func (s *MockAlpacaServer) BaseURL() string {
	return "http://" + s.Address()
}

// TradingURL returns the trading REST base URL.
func (s *MockAlpacaServer) TradingURL() string {
	return s.BaseURL() + "/v2"
}

// DataURL returns the market-data REST base URL.
func (s *MockAlpacaServer) DataURL() string {
	return s.BaseURL() + "/v1"
}

// AccountStreamURL returns the account stream URL.
func (s *MockAlpacaServer) AccountStreamURL() string {
	return "ws://" + s.Address() + "/stream"
}

// MarketStreamURL returns the market-data stream URL.
func (s *MockAlpacaServer) MarketStreamURL() string {
	return "ws://" + s.Address() + "/data/stream"
}

// Override replaces the handler of method and path, for example to return a
// malformed body. path is the full request path such as /v2/account.
func (s *MockAlpacaServer) Override(method, path string, handler http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[method+" "+path] = handler
}

// Requests returns every REST request received so far.
func (s *MockAlpacaServer) Requests() []RecordedRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]RecordedRequest, len(s.requests))
	copy(result, s.requests)

	return result
}

// LastRequest returns the most recent REST request.
func (s *MockAlpacaServer) LastRequest() (RecordedRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.requests) == 0 {
		return RecordedRequest{}, false
	}

	return s.requests[len(s.requests)-1], true
}

// GetOrder returns an order by id.
func (s *MockAlpacaServer) GetOrder(id string) *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if order, ok := s.orders[id]; ok {
		cp := *order

		return &cp
	}

	return nil
}

// OrderCount returns the number of stored orders.
func (s *MockAlpacaServer) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.orders)
}

// HasPosition reports whether a position in symbol is open.
func (s *MockAlpacaServer) HasPosition(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.positions[symbol]

	return ok
}

// SetWithholdAuth makes streams read the authentication frame and never
// answer it.
func (s *MockAlpacaServer) SetWithholdAuth(withhold bool) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	s.withholdAuth = withhold
}

// SetRejectAuth makes stream authentication fail.
func (s *MockAlpacaServer) SetRejectAuth(reject bool) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	s.rejectAuth = reject
}

// StreamFrames returns every frame received on streams of kind, the
// authentication frame included.
func (s *MockAlpacaServer) StreamFrames(kind string) []json.RawMessage {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	frames := s.streamFrames[kind]
	result := make([]json.RawMessage, len(frames))

	for i, frame := range frames {
		result[i] = json.RawMessage(frame)
	}

	return result
}

// ConnectionCount returns the number of authenticated connections of kind.
func (s *MockAlpacaServer) ConnectionCount(kind string) int {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	count := 0

	for conn := range s.wsConns {
		if conn.kind == kind {
			count++
		}
	}

	return count
}

// Broadcast sends frame to every authenticated connection of kind.
func (s *MockAlpacaServer) Broadcast(kind string, frame any) error {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	for conn := range s.wsConns {
		if conn.kind != kind {
			continue
		}

		if err := conn.writeJSON(frame); err != nil {
			return err
		}
	}

	return nil
}

// DropStreams closes the connections of kind without a close handshake.
func (s *MockAlpacaServer) DropStreams(kind string) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	for conn := range s.wsConns {
		if conn.kind == kind {
			_ = conn.conn.Close()
			delete(s.wsConns, conn)
		}
	}
}

// Middleware

func (s *MockAlpacaServer) recordMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)

			return
		}

		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      r.URL.Query(),
			Header:     r.Header.Clone(),
			Body:       body,
			ReceivedAt: time.Now(),
		})
		override := s.overrides[r.Method+" "+r.URL.Path]
		s.mu.Unlock()

		if override != nil {
			override(w, r)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *MockAlpacaServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != s.keyID || r.Header.Get("APCA-API-SECRET-KEY") != s.secretKey {
			writeBrokerError(w, http.StatusUnauthorized, CodeUnauthorized, "request is not authorized")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// REST API Handlers

// handleAccount handles GET /v2/account
func (s *MockAlpacaServer) handleAccount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                      AccountIDFixture,
		"account_number":          AccountNumFixture,
		"status":                  "ACTIVE",
		"currency":                "USD",
		"cash":                    "100000.00",
		"portfolio_value":         "100000.00",
		"equity":                  "100000.00",
		"last_equity":             "99500.00",
		"buying_power":            "400000.00",
		"regt_buying_power":       "200000.00",
		"daytrading_buying_power": "400000.00",
		"multiplier":              "4",
		"daytrade_count":          0,
		"pattern_day_trader":      false,
		"trading_blocked":         false,
		"transfers_blocked":       false,
		"account_blocked":         false,
		"shorting_enabled":        true,
		"trade_suspended_by_user": false,
		"created_at":              "2020-01-02T15:04:05.000Z",
		"sma":                     "0",
	})
}

// handleGetConfigurations handles GET /v2/account/configurations
func (s *MockAlpacaServer) handleGetConfigurations(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	writeJSON(w, http.StatusOK, s.configurations)
}

// handlePatchConfigurations handles PATCH /v2/account/configurations
func (s *MockAlpacaServer) handlePatchConfigurations(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBrokerError(w, http.StatusBadRequest, CodeUnprocessable, "invalid body")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := json.Marshal(s.configurations)

	var merged map[string]json.RawMessage
	_ = json.Unmarshal(current, &merged)

	for key, value := range patch {
		merged[key] = value
	}

	encoded, _ := json.Marshal(merged)
	_ = json.Unmarshal(encoded, &s.configurations)

	writeJSON(w, http.StatusOK, s.configurations)
}

// handleActivities handles GET /v2/account/activities and /v2/account/activities/{type}
func (s *MockAlpacaServer) handleActivities(w http.ResponseWriter, r *http.Request) {
	activityType := mux.Vars(r)["type"]
	if activityType == "" {
		activityType = "FILL"
	}

	writeJSON(w, http.StatusOK, []map[string]any{
		{
			"id":               "20200101000000000::8efc7b9a-8b2b-4000-9955-d36e7db0df74",
			"activity_type":    activityType,
			"transaction_time": "2020-01-02T15:04:05.000Z",
			"type":             "fill",
			"price":            "100.00",
			"qty":              "1",
			"side":             "buy",
			"symbol":           "AAPL",
			"leaves_qty":       "0",
			"cum_qty":          "1",
			"order_id":         "904837e3-3b76-47ec-b432-046db621571b",
		},
	})
}

// handlePortfolioHistory handles GET /v2/account/portfolio/history
func (s *MockAlpacaServer) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "1D"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":       []int64{1580826600, 1580913000},
		"equity":          []any{27423.73, nil},
		"profit_loss":     []any{11.8, nil},
		"profit_loss_pct": []any{0.000430, nil},
		"base_value":      27411.93,
		"timeframe":       timeframe,
	})
}

// handleClock handles GET /v2/clock
func (s *MockAlpacaServer) handleClock(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":  "2020-01-02T10:00:00.000-05:00",
		"is_open":    true,
		"next_open":  "2020-01-03T09:30:00-05:00",
		"next_close": "2020-01-02T16:00:00-05:00",
	})
}

// handleCalendar handles GET /v2/calendar
func (s *MockAlpacaServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	if start == "" {
		start = "2020-01-02"
	}

	writeJSON(w, http.StatusOK, []map[string]string{
		{"date": start, "open": "09:30", "close": "16:00"},
	})
}

// handleAssets handles GET /v2/assets
func (s *MockAlpacaServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := r.URL.Query().Get("status")

	assets := make([]Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		if status == "" || asset.Status == status {
			assets = append(assets, asset)
		}
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })

	writeJSON(w, http.StatusOK, assets)
}

// handleAsset handles GET /v2/assets/{id}
func (s *MockAlpacaServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["id"]

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, asset := range s.assets {
		if asset.ID == key || asset.Symbol == key {
			writeJSON(w, http.StatusOK, asset)

			return
		}
	}

	writeBrokerError(w, http.StatusNotFound, CodeNotFound, "asset not found")
}

type orderBody struct {
	Symbol        string  `json:"symbol"`
	Qty           *string `json:"qty"`
	Notional      *string `json:"notional"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
	LimitPrice    *string `json:"limit_price"`
	StopPrice     *string `json:"stop_price"`
	Trail         *string `json:"trail"`
	ExtendedHours bool    `json:"extended_hours"`
	ClientOrderID *string `json:"client_order_id"`
	OrderClass    string  `json:"order_class"`
}

// handleCreateOrder handles POST /v2/orders
func (s *MockAlpacaServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body orderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "invalid order body")

		return
	}

	if body.Symbol == "" || body.Side == "" || body.Type == "" || body.TimeInForce == "" {
		writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "symbol, side, type and time_in_force are required")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clientOrderID := uuid.New().String()
	if body.ClientOrderID != nil && *body.ClientOrderID != "" {
		clientOrderID = *body.ClientOrderID
	}

	for _, existing := range s.orders {
		if existing.ClientOrderID == clientOrderID {
			writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "client_order_id must be unique")

			return
		}
	}

	now := time.Now().UTC().Format(TimestampLayout)
	orderClass := body.OrderClass

	if orderClass == "" {
		orderClass = "simple"
	}

	order := &Order{
		ID:            uuid.New().String(),
		ClientOrderID: clientOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
		SubmittedAt:   now,
		CanceledAt:    nil,
		ReplacedAt:    nil,
		ReplacedBy:    nil,
		Replaces:      nil,
		AssetID:       s.assetFor(body.Symbol).ID,
		Symbol:        body.Symbol,
		AssetClass:    "us_equity",
		Qty:           body.Qty,
		Notional:      body.Notional,
		FilledQty:     "0",
		Type:          body.Type,
		Side:          body.Side,
		TimeInForce:   body.TimeInForce,
		LimitPrice:    body.LimitPrice,
		StopPrice:     body.StopPrice,
		Status:        "new",
		ExtendedHours: body.ExtendedHours,
		OrderClass:    orderClass,
		Source:        "mock",
	}

	s.orders[order.ID] = order
	s.orderSeq = append(s.orderSeq, order.ID)

	writeJSON(w, http.StatusOK, order)
}

// handleListOrders handles GET /v2/orders
func (s *MockAlpacaServer) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := q.Get("status")
	if status == "" {
		status = "open"
	}

	limit, _ := strconv.Atoi(q.Get("limit"))

	var symbols map[string]bool
	if raw := q.Get("symbols"); raw != "" {
		symbols = make(map[string]bool)
		for _, symbol := range strings.Split(raw, ",") {
			symbols[symbol] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.orderSeq))
	copy(ids, s.orderSeq)

	if q.Get("direction") != "asc" {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}

	orders := make([]*Order, 0, len(ids))

	for _, id := range ids {
		order := s.orders[id]

		switch status {
		case "open":
			if !isOpen(order.Status) {
				continue
			}
		case "closed":
			if isOpen(order.Status) {
				continue
			}
		}

		if symbols != nil && !symbols[order.Symbol] {
			continue
		}

		orders = append(orders, order)

		if limit > 0 && len(orders) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, orders)
}

// handleGetOrder handles GET /v2/orders/{id}
func (s *MockAlpacaServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[mux.Vars(r)["id"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "order not found")

		return
	}

	writeJSON(w, http.StatusOK, order)
}

// handleGetOrderByClientID handles GET /v2/orders:by_client_order_id
func (s *MockAlpacaServer) handleGetOrderByClientID(w http.ResponseWriter, r *http.Request) {
	clientOrderID := r.URL.Query().Get("client_order_id")

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.orders {
		if order.ClientOrderID == clientOrderID {
			writeJSON(w, http.StatusOK, order)

			return
		}
	}

	writeBrokerError(w, http.StatusNotFound, CodeNotFound, "order not found")
}

// handleReplaceOrder handles PATCH /v2/orders/{id}
func (s *MockAlpacaServer) handleReplaceOrder(w http.ResponseWriter, r *http.Request) {
	var body orderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "invalid replace body")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.orders[mux.Vars(r)["id"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "order not found")

		return
	}

	if !isOpen(previous.Status) {
		writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "order is not open")

		return
	}

	now := time.Now().UTC().Format(TimestampLayout)
	replacement := *previous
	replacement.ID = uuid.New().String()
	replacement.ClientOrderID = uuid.New().String()
	replacement.CreatedAt = now
	replacement.UpdatedAt = now
	replacement.SubmittedAt = now
	replacement.Replaces = &previous.ID
	replacement.ReplacedBy = nil
	replacement.Status = "new"

	if body.Qty != nil {
		replacement.Qty = body.Qty
	}

	if body.TimeInForce != "" {
		replacement.TimeInForce = body.TimeInForce
	}

	if body.LimitPrice != nil {
		replacement.LimitPrice = body.LimitPrice
	}

	if body.StopPrice != nil {
		replacement.StopPrice = body.StopPrice
	}

	if body.ClientOrderID != nil {
		replacement.ClientOrderID = *body.ClientOrderID
	}

	previous.Status = "replaced"
	previous.ReplacedAt = &now
	previous.ReplacedBy = &replacement.ID
	previous.UpdatedAt = now

	s.orders[replacement.ID] = &replacement
	s.orderSeq = append(s.orderSeq, replacement.ID)

	writeJSON(w, http.StatusOK, &replacement)
}

// handleCancelOrder handles DELETE /v2/orders/{id}
func (s *MockAlpacaServer) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[mux.Vars(r)["id"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "order not found")

		return
	}

	if !isOpen(order.Status) {
		writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "order is not cancelable")

		return
	}

	s.cancelLocked(order)

	w.WriteHeader(http.StatusNoContent)
}

// handleCancelAllOrders handles DELETE /v2/orders
func (s *MockAlpacaServer) handleCancelAllOrders(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]map[string]any, 0)

	for _, id := range s.orderSeq {
		order := s.orders[id]
		if !isOpen(order.Status) {
			continue
		}

		s.cancelLocked(order)
		statuses = append(statuses, map[string]any{"id": order.ID, "status": http.StatusOK})
	}

	writeJSON(w, http.StatusMultiStatus, statuses)
}

// handleListPositions handles GET /v2/positions
func (s *MockAlpacaServer) handleListPositions(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]*Position, 0, len(s.positionOrder))
	for _, symbol := range s.positionOrder {
		positions = append(positions, s.positions[symbol])
	}

	writeJSON(w, http.StatusOK, positions)
}

// handleGetPosition handles GET /v2/positions/{symbol}
func (s *MockAlpacaServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	position, ok := s.positions[mux.Vars(r)["symbol"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "position does not exist")

		return
	}

	writeJSON(w, http.StatusOK, position)
}

// handleClosePosition handles DELETE /v2/positions/{symbol}
func (s *MockAlpacaServer) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	position, ok := s.positions[mux.Vars(r)["symbol"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "position does not exist")

		return
	}

	writeJSON(w, http.StatusOK, s.closeLocked(position))
}

// handleCloseAllPositions handles DELETE /v2/positions
func (s *MockAlpacaServer) handleCloseAllPositions(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]map[string]any, 0, len(s.positionOrder))

	for _, symbol := range append([]string(nil), s.positionOrder...) {
		order := s.closeLocked(s.positions[symbol])
		statuses = append(statuses, map[string]any{"symbol": symbol, "status": http.StatusOK, "body": order})
	}

	writeJSON(w, http.StatusMultiStatus, statuses)
}

type watchlistBody struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
	Symbol  string   `json:"symbol"`
}

// handleListWatchlists handles GET /v2/watchlists
func (s *MockAlpacaServer) handleListWatchlists(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watchlists := make([]*Watchlist, 0, len(s.watchlistOrder))
	for _, id := range s.watchlistOrder {
		watchlists = append(watchlists, s.watchlists[id])
	}

	writeJSON(w, http.StatusOK, watchlists)
}

// handleCreateWatchlist handles POST /v2/watchlists
func (s *MockAlpacaServer) handleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var body watchlistBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "name is required")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(TimestampLayout)
	watchlist := &Watchlist{
		ID:        uuid.New().String(),
		AccountID: AccountIDFixture,
		Name:      body.Name,
		CreatedAt: now,
		UpdatedAt: now,
		Assets:    s.assetsFor(body.Symbols),
	}

	s.watchlists[watchlist.ID] = watchlist
	s.watchlistOrder = append(s.watchlistOrder, watchlist.ID)

	writeJSON(w, http.StatusOK, watchlist)
}

// handleGetWatchlist handles GET /v2/watchlists/{id}
func (s *MockAlpacaServer) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watchlist, ok := s.watchlists[mux.Vars(r)["id"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "watchlist not found")

		return
	}

	writeJSON(w, http.StatusOK, watchlist)
}

// handleUpdateWatchlist handles PUT /v2/watchlists/{id}
func (s *MockAlpacaServer) handleUpdateWatchlist(w http.ResponseWriter, r *http.Request) {
	var body watchlistBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()

	watchlist, ok := s.watchlists[mux.Vars(r)["id"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "watchlist not found")

		return
	}

	if body.Name != "" {
		watchlist.Name = body.Name
	}

	watchlist.Assets = s.assetsFor(body.Symbols)
	watchlist.UpdatedAt = time.Now().UTC().Format(TimestampLayout)

	writeJSON(w, http.StatusOK, watchlist)
}

// handleAddToWatchlist handles POST /v2/watchlists/{id}
func (s *MockAlpacaServer) handleAddToWatchlist(w http.ResponseWriter, r *http.Request) {
	var body watchlistBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Symbol == "" {
		writeBrokerError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "symbol is required")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	watchlist, ok := s.watchlists[mux.Vars(r)["id"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "watchlist not found")

		return
	}

	watchlist.Assets = append(watchlist.Assets, s.assetFor(body.Symbol))
	watchlist.UpdatedAt = time.Now().UTC().Format(TimestampLayout)

	writeJSON(w, http.StatusOK, watchlist)
}

// handleRemoveFromWatchlist handles DELETE /v2/watchlists/{id}/{symbol}
func (s *MockAlpacaServer) handleRemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	watchlist, ok := s.watchlists[vars["id"]]
	if !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "watchlist not found")

		return
	}

	kept := make([]Asset, 0, len(watchlist.Assets))
	for _, asset := range watchlist.Assets {
		if asset.Symbol != vars["symbol"] {
			kept = append(kept, asset)
		}
	}

	watchlist.Assets = kept
	watchlist.UpdatedAt = time.Now().UTC().Format(TimestampLayout)

	writeJSON(w, http.StatusOK, watchlist)
}

// handleDeleteWatchlist handles DELETE /v2/watchlists/{id}
func (s *MockAlpacaServer) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchlists[id]; !ok {
		writeBrokerError(w, http.StatusNotFound, CodeNotFound, "watchlist not found")

		return
	}

	delete(s.watchlists, id)

	kept := make([]string, 0, len(s.watchlistOrder))
	for _, existing := range s.watchlistOrder {
		if existing != id {
			kept = append(kept, existing)
		}
	}

	s.watchlistOrder = kept

	w.WriteHeader(http.StatusNoContent)
}

// handleBars handles GET /v1/bars/{timeframe}
func (s *MockAlpacaServer) handleBars(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 3 {
		limit = 3
	}

	bars := make(map[string][]map[string]any)

	for _, symbol := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if symbol == "" {
			continue
		}

		series := make([]map[string]any, 0, limit)
		for i := 0; i < limit; i++ {
			base := 100.0 + float64(i)
			series = append(series, map[string]any{
				"t": 1577977800 + int64(i*60),
				"o": base,
				"h": base + 1,
				"l": base - 1,
				"c": base + 0.5,
				"v": 1000 + i,
			})
		}

		bars[symbol] = series
	}

	writeJSON(w, http.StatusOK, bars)
}

// handleLastTrade handles GET /v1/last/stocks/{symbol}
func (s *MockAlpacaServer) handleLastTrade(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"symbol": mux.Vars(r)["symbol"],
		"last": map[string]any{
			"price":     159.59,
			"size":      20,
			"exchange":  11,
			"cond1":     14,
			"cond2":     16,
			"cond3":     0,
			"cond4":     0,
			"timestamp": 1582756144000,
		},
	})
}

// handleLastQuote handles GET /v1/last_quote/stocks/{symbol}
func (s *MockAlpacaServer) handleLastQuote(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"symbol": mux.Vars(r)["symbol"],
		"last": map[string]any{
			"askprice":    159.59,
			"asksize":     2,
			"askexchange": 11,
			"bidprice":    159.45,
			"bidsize":     20,
			"bidexchange": 12,
			"timestamp":   1582756144000,
		},
	})
}

// WebSocket Handlers

type streamFrame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type streamAuth struct {
	KeyID     string `json:"key_id"`
	SecretKey string `json:"secret_key"`
}

type streamList struct {
	Streams []string `json:"streams"`
}

func (s *MockAlpacaServer) streamHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		sc := &streamConn{
			kind:          kind,
			conn:          conn,
			writeMu:       sync.Mutex{},
			subscriptions: make(map[string]struct{}),
		}

		if !s.authenticateStream(sc) {
			_ = conn.Close()

			return
		}

		s.wsMu.Lock()
		s.wsConns[sc] = true
		s.wsMu.Unlock()

		defer func() {
			s.wsMu.Lock()
			delete(s.wsConns, sc)
			s.wsMu.Unlock()

			_ = conn.Close()
		}()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			s.recordFrame(kind, message)

			var frame streamFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				continue
			}

			var list streamList
			_ = json.Unmarshal(frame.Data, &list)

			switch frame.Action {
			case "listen":
				for _, stream := range list.Streams {
					sc.subscriptions[stream] = struct{}{}
				}
			case "unlisten":
				for _, stream := range list.Streams {
					delete(sc.subscriptions, stream)
				}
			default:
				continue
			}

			current := make([]string, 0, len(sc.subscriptions))
			for stream := range sc.subscriptions {
				current = append(current, stream)
			}

			sort.Strings(current)

			_ = sc.writeJSON(map[string]any{
				"stream": "listening",
				"data":   map[string]any{"streams": current},
			})
		}
	}
}

func (s *MockAlpacaServer) authenticateStream(sc *streamConn) bool {
	_ = sc.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, message, err := sc.conn.ReadMessage()
	if err != nil {
		return false
	}

	_ = sc.conn.SetReadDeadline(time.Time{})

	s.recordFrame(sc.kind, message)

	var frame streamFrame

	var auth streamAuth

	status := defaultStreamReply

	s.wsMu.RLock()
	reject := s.rejectAuth
	withhold := s.withholdAuth
	s.wsMu.RUnlock()

	if withhold {
		// Hold the connection open until the client gives up.
		for {
			if _, _, err := sc.conn.ReadMessage(); err != nil {
				return false
			}
		}
	}

	if err := json.Unmarshal(message, &frame); err != nil || frame.Action != "authenticate" {
		status = "unauthorized"
	} else if err := json.Unmarshal(frame.Data, &auth); err != nil || auth.KeyID != s.keyID || auth.SecretKey != s.secretKey || reject {
		status = "unauthorized"
	}

	_ = sc.writeJSON(map[string]any{
		"stream": "authorization",
		"data":   map[string]any{"action": "authenticate", "status": status},
	})

	return status == defaultStreamReply
}

func (s *MockAlpacaServer) recordFrame(kind string, message []byte) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	s.streamFrames[kind] = append(s.streamFrames[kind], append([]byte(nil), message...))
}

// Helpers

func (s *MockAlpacaServer) cancelLocked(order *Order) {
	now := time.Now().UTC().Format(TimestampLayout)
	order.Status = "canceled"
	order.CanceledAt = &now
	order.UpdatedAt = now
}

func (s *MockAlpacaServer) closeLocked(position *Position) *Order {
	now := time.Now().UTC().Format(TimestampLayout)
	qty := strings.TrimPrefix(position.Qty, "-")

	side := "sell"
	if position.Side == "short" {
		side = "buy"
	}

	order := &Order{
		ID:            uuid.New().String(),
		ClientOrderID: uuid.New().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
		SubmittedAt:   now,
		AssetID:       position.AssetID,
		Symbol:        position.Symbol,
		AssetClass:    position.AssetClass,
		Qty:           &qty,
		FilledQty:     "0",
		Type:          "market",
		Side:          side,
		TimeInForce:   "day",
		Status:        "accepted",
		OrderClass:    "simple",
		Source:        "mock",
	}

	s.orders[order.ID] = order
	s.orderSeq = append(s.orderSeq, order.ID)

	delete(s.positions, position.Symbol)

	kept := make([]string, 0, len(s.positionOrder))
	for _, symbol := range s.positionOrder {
		if symbol != position.Symbol {
			kept = append(kept, symbol)
		}
	}

	s.positionOrder = kept

	return order
}

// assetFor returns the asset of symbol, registering it when unknown.
func (s *MockAlpacaServer) assetFor(symbol string) Asset {
	if asset, ok := s.assets[symbol]; ok {
		return asset
	}

	asset := Asset{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(symbol)).String(),
		Class:        "us_equity",
		Exchange:     "NASDAQ",
		Symbol:       symbol,
		Name:         symbol,
		Status:       "active",
		Tradable:     true,
		Marginable:   true,
		Shortable:    true,
		EasyToBorrow: true,
		Fractionable: true,
	}
	s.assets[symbol] = asset

	return asset
}

func (s *MockAlpacaServer) assetsFor(symbols []string) []Asset {
	assets := make([]Asset, 0, len(symbols))
	for _, symbol := range symbols {
		assets = append(assets, s.assetFor(symbol))
	}

	return assets
}

func isOpen(status string) bool {
	switch status {
	case "new", "accepted", "partially_filled", "pending_new":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBrokerError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]any{"code": code, "message": message})
}
