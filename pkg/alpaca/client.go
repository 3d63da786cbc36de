// Package alpaca is a client for the Alpaca brokerage: a rate-limited REST
// gateway, order, position and watchlist collections with an optional local
// cache, and the account and market-data websocket streams.
package alpaca

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Client bundles the gateway, the collections and both streams behind a
// single configuration.
type Client struct {
	gateway *Gateway
	logger  *zap.Logger

	Orders        *Orders
	Positions     *Positions
	Watchlists    *Watchlists
	AccountStream *AccountStream
	MarketStream  *MarketStream
}

// NewClient validates cfg and wires every component. No network call is made.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	streamOpts := append([]Option{
		WithHandshakeTimeout(cfg.HandshakeTimeout),
		WithEventBuffer(cfg.EventBuffer),
	}, opts...)

	gateway, err := NewGateway(cfg, opts...)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	credentials := Credentials{KeyID: cfg.KeyID, SecretKey: cfg.SecretKey}

	o.logger.Debug("Alpaca client initialized",
		zap.String("environment", string(cfg.Environment)),
		zap.Bool("cache", cfg.Cache),
		zap.Bool("rate_limit", !cfg.DisableRateLimit),
	)

	return &Client{
		gateway:       gateway,
		logger:        o.logger,
		Orders:        NewOrders(gateway, cfg.Cache, opts...),
		Positions:     NewPositions(gateway, cfg.Cache, opts...),
		Watchlists:    NewWatchlists(gateway, cfg.Cache, opts...),
		AccountStream: NewAccountStream(cfg.AccountStreamURL(), credentials, streamOpts...),
		MarketStream:  NewMarketStream(cfg.DataStreamURL, credentials, streamOpts...),
	}, nil
}

// Gateway returns the REST gateway shared by the collections.
func (c *Client) Gateway() *Gateway {
	return c.gateway
}

// PlaceOrder is a shortcut for Orders.Place.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return c.Orders.Place(ctx, req)
}

// Connect connects and authenticates both streams concurrently.
func (c *Client) Connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.AccountStream.Connect(gctx)
	})
	g.Go(func() error {
		return c.MarketStream.Connect(gctx)
	})

	return g.Wait()
}

// Close closes both streams.
func (c *Client) Close() error {
	accountErr := c.AccountStream.Close()
	marketErr := c.MarketStream.Close()

	if accountErr != nil {
		return accountErr
	}

	return marketErr
}

// Clock fetches the market clock.
func (c *Client) Clock(ctx context.Context) (*Clock, error) {
	var clock Clock
	if err := c.get(ctx, HostAccount, "clock", nil, &clock); err != nil {
		return nil, err
	}

	return &clock, nil
}

// CalendarParams bounds the calendar. Dates are YYYY-MM-DD.
type CalendarParams struct {
	Start string
	End   string
}

// Calendar fetches the trading days between params.Start and params.End.
func (c *Client) Calendar(ctx context.Context, params CalendarParams) ([]CalendarDay, error) {
	q := newQuery().str("start", params.Start).str("end", params.End)

	var days []CalendarDay
	if err := c.get(ctx, HostAccount, "calendar", q.values(), &days); err != nil {
		return nil, err
	}

	return days, nil
}

// Account fetches the account summary.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.get(ctx, HostAccount, "account", nil, &account); err != nil {
		return nil, err
	}

	return &account, nil
}

// Authenticated reports whether the credentials are accepted by fetching the account.
func (c *Client) Authenticated(ctx context.Context) bool {
	_, err := c.Account(ctx)
	if err != nil {
		c.logger.Debug("Authentication check failed", zap.Error(err))

		return false
	}

	return true
}

// PortfolioHistoryParams filters the portfolio history. Zero values are not sent.
type PortfolioHistoryParams struct {
	// Period is <number><unit> with unit D, W, M or A, for example 1M.
	Period string
	// Timeframe is 1Min, 5Min, 15Min, 1H or 1D.
	Timeframe     string
	DateEnd       string
	ExtendedHours bool
}

// PortfolioHistory fetches the equity time series of the account.
func (c *Client) PortfolioHistory(ctx context.Context, params PortfolioHistoryParams) (*PortfolioHistory, error) {
	q := newQuery().
		str("period", params.Period).
		str("timeframe", params.Timeframe).
		str("date_end", params.DateEnd).
		bool("extended_hours", params.ExtendedHours)

	var history PortfolioHistory
	if err := c.get(ctx, HostAccount, "account/portfolio/history", q.values(), &history); err != nil {
		return nil, err
	}

	return &history, nil
}

// AssetsParams filters the asset listing.
type AssetsParams struct {
	Status     string
	AssetClass string
}

// Assets lists assets.
func (c *Client) Assets(ctx context.Context, params AssetsParams) ([]Asset, error) {
	q := newQuery().str("status", params.Status).str("asset_class", params.AssetClass)

	var assets []Asset
	if err := c.get(ctx, HostAccount, "assets", q.values(), &assets); err != nil {
		return nil, err
	}

	return assets, nil
}

// Asset fetches one asset by id or symbol.
func (c *Client) Asset(ctx context.Context, idOrSymbol string) (*Asset, error) {
	if idOrSymbol == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "asset id or symbol is required")
	}

	var asset Asset
	if err := c.get(ctx, HostAccount, "assets/"+url.PathEscape(idOrSymbol), nil, &asset); err != nil {
		return nil, err
	}

	return &asset, nil
}

// Configurations fetches the account configurations.
func (c *Client) Configurations(ctx context.Context) (*AccountConfigurations, error) {
	var configurations AccountConfigurations
	if err := c.get(ctx, HostAccount, "account/configurations", nil, &configurations); err != nil {
		return nil, err
	}

	return &configurations, nil
}

// UpdateConfigurations changes the set fields of patch.
func (c *Client) UpdateConfigurations(ctx context.Context, patch AccountConfigurationsPatch) (*AccountConfigurations, error) {
	resp, err := c.gateway.Do(ctx, Request{
		Method:   http.MethodPatch,
		Host:     HostAccount,
		Endpoint: "account/configurations",
		Data:     patch,
	})
	if err != nil {
		return nil, err
	}

	var configurations AccountConfigurations
	if err := resp.Decode(&configurations); err != nil {
		return nil, err
	}

	return &configurations, nil
}

// MaxActivityPageSize caps the page size of a typed activity query without a date.
const MaxActivityPageSize = 100

// ActivitiesParams filters the activity listing.
type ActivitiesParams struct {
	// Type selects a single activity type, such as FILL or DIV.
	Type string
	// Types lists activity types when Type is empty.
	Types []string
	// Date, Until and After apply to typed queries. Date wins over the range.
	Date  string
	Until string
	After string
	// Direction is "asc" or "desc". Anything else means "desc".
	Direction string
	PageSize  int
	PageToken string
}

// Activities fetches account activities.
func (c *Client) Activities(ctx context.Context, params ActivitiesParams) ([]Activity, error) {
	endpoint := "account/activities"
	q := newQuery()

	if params.Type != "" {
		endpoint += "/" + url.PathEscape(params.Type)

		until, after, size := params.Until, params.After, params.PageSize
		if params.Date != "" {
			until, after = "", ""
		} else if size > MaxActivityPageSize {
			size = MaxActivityPageSize
		}

		direction := "desc"
		if strings.EqualFold(params.Direction, "asc") {
			direction = "asc"
		}

		q = q.str("date", params.Date).
			str("until", until).
			str("after", after).
			str("direction", direction).
			int("page_size", size).
			str("page_token", params.PageToken)
	} else {
		q = q.list("activity_types", params.Types)
	}

	var activities []Activity
	if err := c.get(ctx, HostAccount, endpoint, q.values(), &activities); err != nil {
		return nil, err
	}

	return activities, nil
}

// DefaultBarsLimit is the number of bars requested when BarsParams.Limit is zero.
const DefaultBarsLimit = 1000

// BarsParams selects bars. Start excludes After and End excludes Until.
type BarsParams struct {
	// Timeframe is minute, 1Min, 5Min, 15Min, day or 1D.
	Timeframe string
	Symbols   []string
	Start     *time.Time
	End       *time.Time
	After     *time.Time
	Until     *time.Time
	Limit     int
}

// Bars fetches bars keyed by symbol.
func (c *Client) Bars(ctx context.Context, params BarsParams) (map[string][]Bar, error) {
	if params.Timeframe == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "bars timeframe is required")
	}

	if len(params.Symbols) == 0 {
		return nil, errors.New(errors.ErrCodeMissingField, "bars symbols are required")
	}

	after, until := params.After, params.Until
	if params.Start != nil {
		after = nil
	}

	if params.End != nil {
		until = nil
	}

	limit := params.Limit
	if limit == 0 {
		limit = DefaultBarsLimit
	}

	q := newQuery().
		list("symbols", params.Symbols).
		time("start", params.Start).
		time("end", params.End).
		time("after", after).
		time("until", until).
		int("limit", limit)

	bars := make(map[string][]Bar)
	if err := c.get(ctx, HostData, "bars/"+url.PathEscape(params.Timeframe), q.values(), &bars); err != nil {
		return nil, err
	}

	return bars, nil
}

// LastTrade fetches the last trade of symbol.
func (c *Client) LastTrade(ctx context.Context, symbol string) (*LastTrade, error) {
	if symbol == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "symbol is required")
	}

	var trade LastTrade
	if err := c.get(ctx, HostData, "last/stocks/"+url.PathEscape(symbol), nil, &trade); err != nil {
		return nil, err
	}

	return &trade, nil
}

// LastQuote fetches the last quote of symbol.
func (c *Client) LastQuote(ctx context.Context, symbol string) (*LastQuote, error) {
	if symbol == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "symbol is required")
	}

	var quote LastQuote
	if err := c.get(ctx, HostData, "last_quote/stocks/"+url.PathEscape(symbol), nil, &quote); err != nil {
		return nil, err
	}

	return &quote, nil
}

func (c *Client) get(ctx context.Context, host Host, endpoint string, q url.Values, out any) error {
	resp, err := c.gateway.Do(ctx, Request{
		Method:   http.MethodGet,
		Host:     host,
		Endpoint: endpoint,
		Query:    q,
	})
	if err != nil {
		return err
	}

	return resp.Decode(out)
}
