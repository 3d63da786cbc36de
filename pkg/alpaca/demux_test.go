package alpaca

import (
	"encoding/json"
	"testing"

	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type DemuxTestSuite struct {
	suite.Suite
}

func TestDemuxSuite(t *testing.T) {
	suite.Run(t, new(DemuxTestSuite))
}

func names(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Name)
	}

	return out
}

func (suite *DemuxTestSuite) TestMarketEventTypes() {
	tests := []struct {
		name  string
		frame string
		want  []string
	}{
		{name: "trade", frame: `{"ev":"T","T":"AAPL","p":100.5,"s":10}`, want: []string{EventTrade}},
		{name: "quote", frame: `{"ev":"Q","T":"AAPL","p":100.4,"P":100.6}`, want: []string{EventQuote}},
		{name: "minute", frame: `{"ev":"AM","T":"AAPL","o":1,"c":2}`, want: []string{EventMinuteBar}},
		{name: "unknown ev", frame: `{"ev":"status","message":"connected"}`, want: []string{}},
		{name: "no ev", frame: `{"stream":"authorization","data":{"status":"authorized"}}`, want: []string{}},
		{name: "wrapped", frame: `{"stream":"T.AAPL","data":{"ev":"T","T":"AAPL"}}`, want: []string{EventTrade}},
		{name: "array", frame: `[{"ev":"T","T":"AAPL"},{"ev":"Q","T":"MSFT"},{"ev":"X"}]`, want: []string{EventTrade, EventQuote}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Equal(tt.want, names(demuxMarket(json.RawMessage(tt.frame))))
		})
	}
}

func (suite *DemuxTestSuite) TestMarketEventCarriesFrame() {
	events := demuxMarket(json.RawMessage(`{"stream":"AM.AAPL","data":{"ev":"AM","T":"AAPL","o":1.5,"s":1000,"e":61000}}`))
	suite.Require().Len(events, 1)

	bar, err := DecodeMinuteBar(events[0])
	suite.Require().NoError(err)
	suite.Equal("AAPL", bar.Symbol)
	suite.Equal(1.5, bar.Open)
	suite.Equal(int64(1000), bar.Start)
	suite.Equal(int64(61000), bar.End)
}

func (suite *DemuxTestSuite) TestDecodeQuoteSeparatesBidAndAsk() {
	quote, err := DecodeQuote(Event{
		Name: EventQuote,
		Data: json.RawMessage(`{"ev":"Q","T":"SPY","x":17,"p":283.35,"s":1,"X":12,"P":283.4,"S":3,"t":1587407015152775000}`),
	})
	suite.Require().NoError(err)
	suite.Equal("SPY", quote.Symbol)
	suite.Equal(283.35, quote.BidPrice)
	suite.Equal(283.4, quote.AskPrice)
	suite.Equal(17, quote.BidExchange)
	suite.Equal(12, quote.AskExchange)
	suite.Equal(int64(3), quote.AskSize)
	suite.Equal(int64(1587407015152775000), quote.Timestamp)
}

func (suite *DemuxTestSuite) TestDecodeWrongEvent() {
	_, err := DecodeTrade(Event{Name: EventQuote, Data: json.RawMessage(`{}`)})
	suite.Error(err)

	_, err = DecodeTrade(Event{Name: EventTrade, Data: json.RawMessage(`{"p":"x"}`)})
	suite.Error(err)
}

func (suite *DemuxTestSuite) TestAccountStreams() {
	tests := []struct {
		name  string
		frame string
		want  []string
	}{
		{name: "trade updates", frame: `{"stream":"trade_updates","data":{"event":"fill"}}`, want: []string{EventTradeUpdates}},
		{name: "account updates", frame: `{"stream":"account_updates","data":{"id":"a"}}`, want: []string{EventAccountUpdates}},
		{name: "listening", frame: `{"stream":"listening","data":{"streams":["trade_updates"]}}`, want: []string{}},
		{name: "authorization", frame: `{"stream":"authorization","data":{"status":"authorized"}}`, want: []string{}},
		{name: "not an object", frame: `[1,2]`, want: []string{}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Equal(tt.want, names(demuxAccount(json.RawMessage(tt.frame))))
		})
	}
}

func (suite *DemuxTestSuite) TestDecodeTradeUpdate() {
	events := demuxAccount(json.RawMessage(`{"stream":"trade_updates","data":{"event":"fill","price":"179.08","qty":"1","position_qty":"100","timestamp":"2018-02-26T22:02:37.123Z","order":{"id":"o1","symbol":"AAPL","status":"filled","source":"x"}}}`))
	suite.Require().Len(events, 1)

	update, err := DecodeTradeUpdate(events[0])
	suite.Require().NoError(err)
	suite.Equal("fill", update.Event)
	suite.Equal("179.08", update.Price.Decimal.String())
	suite.Equal("o1", update.Order.ID)
	suite.Equal(OrderStatusFilled, update.Order.Status)
	suite.Contains(update.Order.Extra, "source")
}

func (suite *DemuxTestSuite) TestAllowLists() {
	market := NewMarketStream("ws://unused", Credentials{})
	suite.True(market.permitted("T.AAPL"))
	suite.True(market.permitted("AM.SPY"))
	suite.False(market.permitted("T."))
	suite.False(market.permitted("XT.AAPL"))
	suite.False(market.permitted("trade_updates"))

	account := NewAccountStream("ws://unused", Credentials{})
	suite.True(account.permitted("trade_updates"))
	suite.False(account.permitted("trade_updates_extra"))
	suite.False(account.permitted("T.AAPL"))

	raw := NewSession("ws://unused", Credentials{})
	suite.True(raw.permitted("anything"))
}

func (suite *DemuxTestSuite) TestDispatchInvalidFrame() {
	session := NewSession("ws://unused", Credentials{})
	errs := session.Listen(EventError)
	messages := session.Listen(EventMessage)

	session.dispatch([]byte("not json"))

	event := <-errs
	suite.True(errors.HasCode(event.Err, errors.ErrCodeDecodeFailed))
	suite.False(event.ReceivedAt.IsZero())
	suite.Empty(messages)
}

func (suite *DemuxTestSuite) TestFullListenerDropsEvents() {
	session := NewSession("ws://unused", Credentials{}, WithEventBuffer(1))
	messages := session.Listen(EventMessage)

	session.dispatch([]byte(`{"a":1}`))
	session.dispatch([]byte(`{"a":2}`))

	suite.Len(messages, 1)
	suite.JSONEq(`{"a":1}`, string((<-messages).Data))
}
