package alpaca

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var accountChannels = []*regexp.Regexp{
	regexp.MustCompile(`^trade_updates$`),
	regexp.MustCompile(`^account_updates$`),
}

// AccountStream is the account-updates stream. It accepts the trade_updates
// and account_updates channels and publishes the data of each frame under
// the channel name.
type AccountStream struct {
	*Session
}

// NewAccountStream creates an account-updates stream session.
func NewAccountStream(url string, credentials Credentials, opts ...Option) *AccountStream {
	return &AccountStream{
		Session: newSession("account", url, credentials, accountChannels, demuxAccount, opts),
	}
}

// SubscribeTradeUpdates subscribes to order lifecycle updates.
func (a *AccountStream) SubscribeTradeUpdates() error {
	return a.Subscribe(EventTradeUpdates)
}

// SubscribeAccountUpdates subscribes to account balance updates.
func (a *AccountStream) SubscribeAccountUpdates() error {
	return a.Subscribe(EventAccountUpdates)
}

func demuxAccount(frame json.RawMessage) []Event {
	var envelope streamEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil
	}

	switch envelope.Stream {
	case EventTradeUpdates, EventAccountUpdates:
		return []Event{{Name: envelope.Stream, Data: envelope.Data}}
	default:
		return nil
	}
}

// TradeUpdate is the data of a trade_updates event.
type TradeUpdate struct {
	Event       string              `json:"event"`
	Price       decimal.NullDecimal `json:"price"`
	Qty         decimal.NullDecimal `json:"qty"`
	PositionQty decimal.NullDecimal `json:"position_qty"`
	Timestamp   *time.Time          `json:"timestamp"`
	Order       Order               `json:"order"`
}

// AccountUpdate is the data of an account_updates event.
type AccountUpdate struct {
	ID               string              `json:"id"`
	CreatedAt        *time.Time          `json:"created_at"`
	UpdatedAt        *time.Time          `json:"updated_at"`
	DeletedAt        *time.Time          `json:"deleted_at"`
	Status           string              `json:"status"`
	Currency         string              `json:"currency"`
	Cash             decimal.NullDecimal `json:"cash"`
	CashWithdrawable decimal.NullDecimal `json:"cash_withdrawable"`
}

// DecodeTradeUpdate decodes a trade_updates event.
func DecodeTradeUpdate(event Event) (TradeUpdate, error) {
	var update TradeUpdate

	return update, decodeEvent(event, EventTradeUpdates, &update)
}

// DecodeAccountUpdate decodes an account_updates event.
func DecodeAccountUpdate(event Event) (AccountUpdate, error) {
	var update AccountUpdate

	return update, decodeEvent(event, EventAccountUpdates, &update)
}
