package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Position is an open holding in one asset. Positions are keyed by AssetID.
type Position struct {
	AssetID                string              `json:"asset_id"`
	Symbol                 string              `json:"symbol"`
	Exchange               string              `json:"exchange"`
	AssetClass             string              `json:"asset_class"`
	AvgEntryPrice          decimal.Decimal     `json:"avg_entry_price"`
	Qty                    decimal.Decimal     `json:"qty"`
	QtyAvailable           decimal.NullDecimal `json:"qty_available"`
	Side                   string              `json:"side"`
	MarketValue            decimal.NullDecimal `json:"market_value"`
	CostBasis              decimal.Decimal     `json:"cost_basis"`
	UnrealizedPL           decimal.NullDecimal `json:"unrealized_pl"`
	UnrealizedPLPC         decimal.NullDecimal `json:"unrealized_plpc"`
	UnrealizedIntradayPL   decimal.NullDecimal `json:"unrealized_intraday_pl"`
	UnrealizedIntradayPLPC decimal.NullDecimal `json:"unrealized_intraday_plpc"`
	CurrentPrice           decimal.NullDecimal `json:"current_price"`
	LastdayPrice           decimal.NullDecimal `json:"lastday_price"`
	ChangeToday            decimal.NullDecimal `json:"change_today"`
	Extra                  Extra               `json:"-"`

	positions *Positions
}

var positionFields = jsonFieldNames(reflect.TypeOf(Position{}))

// UnmarshalJSON replaces every field of the position with the record in data.
func (p *Position) UnmarshalJSON(data []byte) error {
	type plain Position

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	extra, err := splitExtra(data, positionFields)
	if err != nil {
		return err
	}

	owner := p.positions
	*p = Position(decoded)
	p.Extra = extra
	p.positions = owner

	return nil
}

// MarshalJSON encodes the named fields together with Extra.
func (p Position) MarshalJSON() ([]byte, error) {
	type plain Position

	data, err := json.Marshal(plain(p))
	if err != nil {
		return nil, err
	}

	return mergeExtra(data, p.Extra)
}

// Close liquidates the position with a market order and returns that order.
func (p *Position) Close(ctx context.Context) (*Order, error) {
	if p.positions == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "position is not bound to a position collection")
	}

	return p.positions.Close(ctx, p.Symbol)
}

// Positions is the position collection.
type Positions struct {
	requester    Requester
	logger       *zap.Logger
	cacheEnabled bool
	cache        *entityCache[*Position]
}

// NewPositions creates a position collection issuing requests through requester.
func NewPositions(requester Requester, cacheEnabled bool, opts ...Option) *Positions {
	o := newOptions(opts)

	return &Positions{
		requester:    requester,
		logger:       o.logger,
		cacheEnabled: cacheEnabled,
		cache:        newEntityCache[*Position](),
	}
}

// Get fetches the open position in symbol.
func (c *Positions) Get(ctx context.Context, symbol string) (*Position, error) {
	if symbol == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "position symbol is required")
	}

	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodGet,
		Host:     HostAccount,
		Endpoint: "positions/" + url.PathEscape(symbol),
	})
	if err != nil {
		return nil, err
	}

	position := c.bind(&Position{})
	if err := resp.Decode(position); err != nil {
		return nil, err
	}

	c.store(position)

	return position, nil
}

// List fetches every open position in the order the broker returns them.
func (c *Positions) List(ctx context.Context) ([]*Position, error) {
	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodGet,
		Host:     HostAccount,
		Endpoint: "positions",
	})
	if err != nil {
		return nil, err
	}

	var positions []*Position
	if err := resp.Decode(&positions); err != nil {
		return nil, err
	}

	for _, position := range positions {
		c.bind(position)
		c.store(position)
	}

	return positions, nil
}

// Close liquidates the position in symbol and returns the closing order.
func (c *Positions) Close(ctx context.Context, symbol string) (*Order, error) {
	if symbol == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "position symbol is required")
	}

	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodDelete,
		Host:     HostAccount,
		Endpoint: "positions/" + url.PathEscape(symbol),
	})
	if err != nil {
		return nil, err
	}

	c.cache.removeWhere(func(p *Position) bool { return p.Symbol == symbol })

	var order Order
	if resp.IsJSON() && len(resp.Body) > 0 {
		if err := resp.Decode(&order); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Position close requested", zap.String("symbol", symbol), zap.String("order_id", order.ID))

	return &order, nil
}

// CloseAll liquidates every open position and empties the cache.
func (c *Positions) CloseAll(ctx context.Context) ([]CancelStatus, error) {
	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodDelete,
		Host:     HostAccount,
		Endpoint: "positions",
	})
	if err != nil {
		return nil, err
	}

	c.cache.clear()

	var statuses []CancelStatus
	if resp.IsJSON() && len(resp.Body) > 0 {
		if err := resp.Decode(&statuses); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Close all positions requested", zap.Int("positions", len(statuses)))

	return statuses, nil
}

// GetByID returns the cached position with the given asset id.
func (c *Positions) GetByID(assetID string) optional.Option[*Position] {
	if position, ok := c.cache.get(assetID); ok {
		return optional.Some(position)
	}

	return optional.None[*Position]()
}

// Has reports whether a position with assetID is cached.
func (c *Positions) Has(assetID string) bool {
	_, ok := c.cache.get(assetID)

	return ok
}

// Delete removes the position with assetID from the cache.
func (c *Positions) Delete(assetID string) bool {
	return c.cache.remove(assetID)
}

// Cached returns every cached position ordered by asset id.
func (c *Positions) Cached() []*Position {
	return c.cache.values()
}

func (c *Positions) bind(position *Position) *Position {
	position.positions = c

	return position
}

func (c *Positions) store(position *Position) {
	if c.cacheEnabled {
		c.cache.set(position.AssetID, position)
	}
}
