package alpaca

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"go.uber.org/zap"
)

// OrderSelector identifies a single order either by its broker id or by the
// client order id chosen at submission.
type OrderSelector struct {
	ID            string
	ClientOrderID string
	// Nested asks the broker to embed the legs of multi-leg orders.
	Nested bool
}

// ListOrdersParams filters the order listing. Zero values are not sent.
type ListOrdersParams struct {
	// Status is "open", "closed" or "all".
	Status    string
	Limit     int
	After     *time.Time
	Until     *time.Time
	Direction string
	Nested    bool
	Symbols   []string
}

// Orders is the order collection.
type Orders struct {
	requester    Requester
	logger       *zap.Logger
	cacheEnabled bool
	cache        *entityCache[*Order]
}

// NewOrders creates an order collection issuing requests through requester.
// When cacheEnabled is set every order returned by the broker is mirrored
// locally by id.
func NewOrders(requester Requester, cacheEnabled bool, opts ...Option) *Orders {
	o := newOptions(opts)

	return &Orders{
		requester:    requester,
		logger:       o.logger,
		cacheEnabled: cacheEnabled,
		cache:        newEntityCache[*Order](),
	}
}

// Get fetches one order by id or by client order id.
func (c *Orders) Get(ctx context.Context, sel OrderSelector) (*Order, error) {
	var req Request

	switch {
	case sel.ID != "":
		req = Request{
			Method:   http.MethodGet,
			Host:     HostAccount,
			Endpoint: "orders/" + url.PathEscape(sel.ID),
			Query:    newQuery().bool("nested", sel.Nested).values(),
		}
	case sel.ClientOrderID != "":
		req = Request{
			Method:   http.MethodGet,
			Host:     HostAccount,
			Endpoint: "orders:by_client_order_id",
			Query:    newQuery().str("client_order_id", sel.ClientOrderID).bool("nested", sel.Nested).values(),
		}
	default:
		return nil, errors.New(errors.ErrCodeMissingField, "order id or client order id is required")
	}

	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	order := &Order{}
	if err := resp.Decode(order); err != nil {
		return nil, err
	}

	c.adopt(order)

	return order, nil
}

// List fetches orders matching params in the order the broker returns them.
func (c *Orders) List(ctx context.Context, params ListOrdersParams) ([]*Order, error) {
	q := newQuery().
		str("status", params.Status).
		int("limit", params.Limit).
		time("after", params.After).
		time("until", params.Until).
		str("direction", params.Direction).
		bool("nested", params.Nested).
		list("symbols", params.Symbols)

	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodGet,
		Host:     HostAccount,
		Endpoint: "orders",
		Query:    q.values(),
	})
	if err != nil {
		return nil, err
	}

	var orders []*Order
	if err := resp.Decode(&orders); err != nil {
		return nil, err
	}

	for _, order := range orders {
		c.adopt(order)
	}

	return orders, nil
}

// Place validates and submits a new order.
func (c *Orders) Place(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.New().String()
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodPost,
		Host:     HostAccount,
		Endpoint: "orders",
		Data:     req,
	})
	if err != nil {
		return nil, err
	}

	order := &Order{}
	if err := resp.Decode(order); err != nil {
		return nil, err
	}

	c.adopt(order)

	c.logger.Info("Order placed",
		zap.String("id", order.ID),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
	)

	return order, nil
}

// CancelAll asks the broker to cancel every open order. The whole local
// cache is emptied, including orders that were not open.
func (c *Orders) CancelAll(ctx context.Context) ([]CancelStatus, error) {
	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodDelete,
		Host:     HostAccount,
		Endpoint: "orders",
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

	c.logger.Info("Cancel all orders requested", zap.Int("orders", len(statuses)))

	return statuses, nil
}

// GetByID returns the cached order with id.
func (c *Orders) GetByID(id string) optional.Option[*Order] {
	if order, ok := c.cache.get(id); ok {
		return optional.Some(order)
	}

	return optional.None[*Order]()
}

// Has reports whether an order with id is cached.
func (c *Orders) Has(id string) bool {
	_, ok := c.cache.get(id)

	return ok
}

// Delete removes the order with id from the cache.
func (c *Orders) Delete(id string) bool {
	return c.cache.remove(id)
}

// Cached returns every cached order ordered by id.
func (c *Orders) Cached() []*Order {
	return c.cache.values()
}

func (c *Orders) replace(ctx context.Context, order *Order, req ReplaceOrderRequest) (*Order, error) {
	if req.IsEmpty() {
		return order, nil
	}

	previousID := order.ID

	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodPatch,
		Host:     HostAccount,
		Endpoint: "orders/" + url.PathEscape(previousID),
		Data:     req,
	})
	if err != nil {
		return nil, err
	}

	if err := resp.Decode(order); err != nil {
		return nil, err
	}

	c.cache.remove(previousID)
	c.adopt(order)

	c.logger.Info("Order replaced", zap.String("previous_id", previousID), zap.String("id", order.ID))

	return order, nil
}

func (c *Orders) cancel(ctx context.Context, order *Order) error {
	_, err := c.requester.Do(ctx, Request{
		Method:   http.MethodDelete,
		Host:     HostAccount,
		Endpoint: "orders/" + url.PathEscape(order.ID),
	})
	if err != nil {
		return err
	}

	c.cache.remove(order.ID)

	c.logger.Info("Order cancel requested", zap.String("id", order.ID))

	return nil
}

// adopt binds order and its legs to the collection and caches them.
func (c *Orders) adopt(order *Order) {
	order.orders = c

	if c.cacheEnabled && order.ID != "" {
		c.cache.set(order.ID, order)
	}

	for _, leg := range order.Legs {
		if leg != nil {
			c.adopt(leg)
		}
	}
}
