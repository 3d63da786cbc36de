package alpaca

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// Account is the brokerage account summary. Fields the struct does not name
// are kept in Extra.
type Account struct {
	ID                    string              `json:"id"`
	AccountNumber         string              `json:"account_number"`
	Status                string              `json:"status"`
	Currency              string              `json:"currency"`
	Cash                  decimal.Decimal     `json:"cash"`
	PortfolioValue        decimal.NullDecimal `json:"portfolio_value"`
	Equity                decimal.NullDecimal `json:"equity"`
	LastEquity            decimal.NullDecimal `json:"last_equity"`
	BuyingPower           decimal.NullDecimal `json:"buying_power"`
	RegTBuyingPower       decimal.NullDecimal `json:"regt_buying_power"`
	DaytradingBuyingPower decimal.NullDecimal `json:"daytrading_buying_power"`
	LongMarketValue       decimal.NullDecimal `json:"long_market_value"`
	ShortMarketValue      decimal.NullDecimal `json:"short_market_value"`
	InitialMargin         decimal.NullDecimal `json:"initial_margin"`
	MaintenanceMargin     decimal.NullDecimal `json:"maintenance_margin"`
	Multiplier            string              `json:"multiplier"`
	DaytradeCount         int                 `json:"daytrade_count"`
	PatternDayTrader      bool                `json:"pattern_day_trader"`
	TradingBlocked        bool                `json:"trading_blocked"`
	TransfersBlocked      bool                `json:"transfers_blocked"`
	AccountBlocked        bool                `json:"account_blocked"`
	ShortingEnabled       bool                `json:"shorting_enabled"`
	TradeSuspendedByUser  bool                `json:"trade_suspended_by_user"`
	CreatedAt             *time.Time          `json:"created_at"`
	Extra                 Extra               `json:"-"`
}

var accountFields = jsonFieldNames(reflect.TypeOf(Account{}))

func (a *Account) UnmarshalJSON(data []byte) error {
	type plain Account

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	extra, err := splitExtra(data, accountFields)
	if err != nil {
		return err
	}

	*a = Account(decoded)
	a.Extra = extra

	return nil
}

func (a Account) MarshalJSON() ([]byte, error) {
	type plain Account

	data, err := json.Marshal(plain(a))
	if err != nil {
		return nil, err
	}

	return mergeExtra(data, a.Extra)
}

// Clock is the market clock.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// CalendarDay is one trading day. Date is YYYY-MM-DD, Open and Close are HH:MM.
type CalendarDay struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
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

// PortfolioHistory is the equity time series of the account. Entries are
// parallel arrays indexed by Timestamp.
type PortfolioHistory struct {
	Timestamp     []int64               `json:"timestamp"`
	Equity        []decimal.NullDecimal `json:"equity"`
	ProfitLoss    []decimal.NullDecimal `json:"profit_loss"`
	ProfitLossPct []decimal.NullDecimal `json:"profit_loss_pct"`
	BaseValue     decimal.Decimal       `json:"base_value"`
	Timeframe     string                `json:"timeframe"`
}

// AccountConfigurations are the account-level trading switches.
type AccountConfigurations struct {
	DTBPCheck         string `json:"dtbp_check"`
	NoShorting        bool   `json:"no_shorting"`
	SuspendTrade      bool   `json:"suspend_trade"`
	TradeConfirmEmail string `json:"trade_confirm_email"`
}

// AccountConfigurationsPatch lists the configuration switches to change.
// Unset fields are not sent.
type AccountConfigurationsPatch struct {
	DTBPCheck         optional.Option[string] `json:"dtbp_check,omitempty"`
	NoShorting        optional.Option[bool]   `json:"no_shorting,omitempty"`
	SuspendTrade      optional.Option[bool]   `json:"suspend_trade,omitempty"`
	TradeConfirmEmail optional.Option[string] `json:"trade_confirm_email,omitempty"`
}

// Activity is one account activity, either a trade fill or a non-trade entry
// such as a dividend.
type Activity struct {
	ID              string              `json:"id"`
	ActivityType    string              `json:"activity_type"`
	TransactionTime *time.Time          `json:"transaction_time"`
	Type            string              `json:"type"`
	Price           decimal.NullDecimal `json:"price"`
	Qty             decimal.NullDecimal `json:"qty"`
	Side            string              `json:"side"`
	Symbol          string              `json:"symbol"`
	LeavesQty       decimal.NullDecimal `json:"leaves_qty"`
	CumQty          decimal.NullDecimal `json:"cum_qty"`
	OrderID         string              `json:"order_id"`
	Date            string              `json:"date"`
	NetAmount       decimal.NullDecimal `json:"net_amount"`
	PerShareAmount  decimal.NullDecimal `json:"per_share_amount"`
	Description     string              `json:"description"`
	Status          string              `json:"status"`
	Extra           Extra               `json:"-"`
}

var activityFields = jsonFieldNames(reflect.TypeOf(Activity{}))

func (a *Activity) UnmarshalJSON(data []byte) error {
	type plain Activity

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	extra, err := splitExtra(data, activityFields)
	if err != nil {
		return err
	}

	*a = Activity(decoded)
	a.Extra = extra

	return nil
}

// Bar is one aggregated price bar. T is the bar start in Unix seconds.
type Bar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// Time returns the bar start.
func (b Bar) Time() time.Time {
	return time.Unix(b.T, 0).UTC()
}

// LastTrade is the most recent trade of a symbol.
type LastTrade struct {
	Status string `json:"status"`
	Symbol string `json:"symbol"`
	Last   struct {
		Price     float64 `json:"price"`
		Size      int64   `json:"size"`
		Exchange  int     `json:"exchange"`
		Cond1     int     `json:"cond1"`
		Cond2     int     `json:"cond2"`
		Cond3     int     `json:"cond3"`
		Cond4     int     `json:"cond4"`
		Timestamp int64   `json:"timestamp"`
	} `json:"last"`
}

// LastQuote is the most recent quote of a symbol.
type LastQuote struct {
	Status string `json:"status"`
	Symbol string `json:"symbol"`
	Last   struct {
		AskPrice    float64 `json:"askprice"`
		AskSize     int64   `json:"asksize"`
		AskExchange int     `json:"askexchange"`
		BidPrice    float64 `json:"bidprice"`
		BidSize     int64   `json:"bidsize"`
		BidExchange int     `json:"bidexchange"`
		Timestamp   int64   `json:"timestamp"`
	} `json:"last"`
}
