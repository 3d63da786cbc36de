package alpaca

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type TimeInForce string

type OrderClass string

type OrderStatus string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceOPG TimeInForce = "opg"
	TimeInForceCLS TimeInForce = "cls"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

const (
	OrderClassSimple  OrderClass = "simple"
	OrderClassBracket OrderClass = "bracket"
	OrderClassOCO     OrderClass = "oco"
	OrderClassOTO     OrderClass = "oto"
)

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusDoneForDay      OrderStatus = "done_for_day"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusReplaced        OrderStatus = "replaced"
	OrderStatusPendingCancel   OrderStatus = "pending_cancel"
	OrderStatusPendingReplace  OrderStatus = "pending_replace"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order is a brokerage order as the broker reports it. Fields the struct does
// not name are kept in Extra.
type Order struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	CreatedAt      *time.Time          `json:"created_at"`
	UpdatedAt      *time.Time          `json:"updated_at"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
	FilledAt       *time.Time          `json:"filled_at"`
	ExpiredAt      *time.Time          `json:"expired_at"`
	CanceledAt     *time.Time          `json:"canceled_at"`
	FailedAt       *time.Time          `json:"failed_at"`
	ReplacedAt     *time.Time          `json:"replaced_at"`
	ReplacedBy     *string             `json:"replaced_by"`
	Replaces       *string             `json:"replaces"`
	AssetID        string              `json:"asset_id"`
	Symbol         string              `json:"symbol"`
	AssetClass     string              `json:"asset_class"`
	Notional       decimal.NullDecimal `json:"notional"`
	Qty            decimal.NullDecimal `json:"qty"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	OrderClass     OrderClass          `json:"order_class"`
	Type           OrderType           `json:"type"`
	Side           Side                `json:"side"`
	TimeInForce    TimeInForce         `json:"time_in_force"`
	LimitPrice     decimal.NullDecimal `json:"limit_price"`
	StopPrice      decimal.NullDecimal `json:"stop_price"`
	TrailPrice     decimal.NullDecimal `json:"trail_price"`
	TrailPercent   decimal.NullDecimal `json:"trail_percent"`
	HWM            decimal.NullDecimal `json:"hwm"`
	Status         OrderStatus         `json:"status"`
	ExtendedHours  bool                `json:"extended_hours"`
	Legs           []*Order            `json:"legs"`
	Extra          Extra               `json:"-"`

	orders *Orders
}

var orderFields = jsonFieldNames(reflect.TypeOf(Order{}))

// UnmarshalJSON replaces every field of the order with the record in data.
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	extra, err := splitExtra(data, orderFields)
	if err != nil {
		return err
	}

	owner := o.orders
	*o = Order(p)
	o.Extra = extra
	o.orders = owner

	return nil
}

// MarshalJSON encodes the named fields together with Extra.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order

	data, err := json.Marshal(plain(o))
	if err != nil {
		return nil, err
	}

	return mergeExtra(data, o.Extra)
}

// Replace amends the order. The broker answers with a new order that
// supersedes this one; its fields replace the receiver's, including ID. An
// empty request returns the order unchanged without contacting the broker.
func (o *Order) Replace(ctx context.Context, req ReplaceOrderRequest) (*Order, error) {
	if o.orders == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "order is not bound to an order collection")
	}

	return o.orders.replace(ctx, o, req)
}

// Cancel asks the broker to cancel the order.
func (o *Order) Cancel(ctx context.Context) error {
	if o.orders == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "order is not bound to an order collection")
	}

	return o.orders.cancel(ctx, o)
}

// TakeProfit is the take-profit leg of a bracket order.
type TakeProfit struct {
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// StopLoss is the stop-loss leg of a bracket order.
type StopLoss struct {
	StopPrice  decimal.Decimal                  `json:"stop_price"`
	LimitPrice optional.Option[decimal.Decimal] `json:"limit_price,omitempty"`
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol      string      `json:"symbol" validate:"required"`
	Side        Side        `json:"side" validate:"required,oneof=buy sell"`
	Type        OrderType   `json:"type" validate:"required,oneof=market limit stop stop_limit trailing_stop"`
	TimeInForce TimeInForce `json:"time_in_force" validate:"required,oneof=day gtc opg cls ioc fok"`
	// Qty and Notional are mutually exclusive. One of them is required.
	Qty           optional.Option[decimal.Decimal] `json:"qty,omitempty"`
	Notional      optional.Option[decimal.Decimal] `json:"notional,omitempty"`
	LimitPrice    optional.Option[decimal.Decimal] `json:"limit_price,omitempty"`
	StopPrice     optional.Option[decimal.Decimal] `json:"stop_price,omitempty"`
	TrailPrice    optional.Option[decimal.Decimal] `json:"trail_price,omitempty"`
	TrailPercent  optional.Option[decimal.Decimal] `json:"trail_percent,omitempty"`
	ExtendedHours bool                             `json:"extended_hours,omitempty"`
	// ClientOrderID is generated when empty.
	ClientOrderID string                      `json:"client_order_id,omitempty" validate:"omitempty,max=48"`
	OrderClass    OrderClass                  `json:"order_class,omitempty" validate:"omitempty,oneof=simple bracket oco oto"`
	TakeProfit    optional.Option[TakeProfit] `json:"take_profit,omitempty"`
	StopLoss      optional.Option[StopLoss]   `json:"stop_loss,omitempty"`
}

// Validate validates the OrderRequest struct and the price fields its type needs.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	if r.Qty.IsNone() && r.Notional.IsNone() {
		return errors.New(errors.ErrCodeMissingField, "order request needs qty or notional")
	}

	if r.Qty.IsSome() && r.Notional.IsSome() {
		return errors.New(errors.ErrCodeInvalidOrder, "order request cannot set both qty and notional")
	}

	switch r.Type {
	case OrderTypeLimit:
		if r.LimitPrice.IsNone() {
			return errors.New(errors.ErrCodeMissingField, "limit order needs limit_price")
		}
	case OrderTypeStop:
		if r.StopPrice.IsNone() {
			return errors.New(errors.ErrCodeMissingField, "stop order needs stop_price")
		}
	case OrderTypeStopLimit:
		if r.LimitPrice.IsNone() || r.StopPrice.IsNone() {
			return errors.New(errors.ErrCodeMissingField, "stop_limit order needs limit_price and stop_price")
		}
	case OrderTypeTrailingStop:
		if r.TrailPrice.IsNone() && r.TrailPercent.IsNone() {
			return errors.New(errors.ErrCodeMissingField, "trailing_stop order needs trail_price or trail_percent")
		}
	case OrderTypeMarket:
	}

	if r.OrderClass == OrderClassBracket && (r.TakeProfit.IsNone() || r.StopLoss.IsNone()) {
		return errors.New(errors.ErrCodeMissingField, "bracket order needs take_profit and stop_loss")
	}

	return nil
}

// ReplaceOrderRequest lists the attributes of an order that can be amended.
// Unset fields keep their current value.
type ReplaceOrderRequest struct {
	Qty           optional.Option[decimal.Decimal] `json:"qty,omitempty"`
	TimeInForce   optional.Option[TimeInForce]     `json:"time_in_force,omitempty"`
	LimitPrice    optional.Option[decimal.Decimal] `json:"limit_price,omitempty"`
	StopPrice     optional.Option[decimal.Decimal] `json:"stop_price,omitempty"`
	Trail         optional.Option[decimal.Decimal] `json:"trail,omitempty"`
	ClientOrderID optional.Option[string]          `json:"client_order_id,omitempty"`
}

// IsEmpty reports whether the request amends nothing.
func (r ReplaceOrderRequest) IsEmpty() bool {
	return r.Qty.IsNone() &&
		r.TimeInForce.IsNone() &&
		r.LimitPrice.IsNone() &&
		r.StopPrice.IsNone() &&
		r.Trail.IsNone() &&
		r.ClientOrderID.IsNone()
}

// CancelStatus is one entry of a bulk cancellation or bulk close response.
type CancelStatus struct {
	ID     string          `json:"id,omitempty"`
	Symbol string          `json:"symbol,omitempty"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}
