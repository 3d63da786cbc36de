package alpaca

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/polygon-io/client-go/websocket/models"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
)

// Channel prefixes of the market-data stream.
const (
	ChannelTrades     = "T."
	ChannelQuotes     = "Q."
	ChannelMinuteBars = "AM."
)

var marketChannels = []*regexp.Regexp{
	regexp.MustCompile(`^T\..+`),
	regexp.MustCompile(`^Q\..+`),
	regexp.MustCompile(`^AM\..+`),
}

var marketEventNames = map[string]string{
	"T":  EventTrade,
	"Q":  EventQuote,
	"AM": EventMinuteBar,
}

// MarketStream is the market-data stream. It accepts trade (T.SYM), quote
// (Q.SYM) and minute bar (AM.SYM) channels and publishes trade, quote and
// minute events.
type MarketStream struct {
	*Session
}

// NewMarketStream creates a market-data stream session.
func NewMarketStream(url string, credentials Credentials, opts ...Option) *MarketStream {
	return &MarketStream{
		Session: newSession("market", url, credentials, marketChannels, demuxMarket, opts),
	}
}

// SubscribeTrades subscribes to the trades of symbols.
func (m *MarketStream) SubscribeTrades(symbols ...string) error {
	return m.Subscribe(prefixChannels(ChannelTrades, symbols)...)
}

// SubscribeQuotes subscribes to the quotes of symbols.
func (m *MarketStream) SubscribeQuotes(symbols ...string) error {
	return m.Subscribe(prefixChannels(ChannelQuotes, symbols)...)
}

// SubscribeMinuteBars subscribes to the minute bars of symbols.
func (m *MarketStream) SubscribeMinuteBars(symbols ...string) error {
	return m.Subscribe(prefixChannels(ChannelMinuteBars, symbols)...)
}

func prefixChannels(prefix string, symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, prefix+symbol)
	}

	return out
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// demuxMarket maps frames tagged with ev to trade, quote and minute events.
// Arrays are split into their elements and {"stream","data"} envelopes are
// unwrapped.
func demuxMarket(frame json.RawMessage) []Event {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil
		}

		var events []Event
		for _, item := range items {
			events = append(events, demuxMarket(item)...)
		}

		return events
	}

	var head models.EventType
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil
	}

	if head.EventType == "" {
		var envelope streamEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil || len(envelope.Data) == 0 {
			return nil
		}

		return demuxMarket(envelope.Data)
	}

	name, ok := marketEventNames[head.EventType]
	if !ok {
		return nil
	}

	return []Event{{Name: name, Data: json.RawMessage(trimmed)}}
}

// Trade is a trade event of the market-data stream.
type Trade struct {
	EventType  string  `json:"ev"`
	Symbol     string  `json:"T"`
	Exchange   int     `json:"x"`
	Price      float64 `json:"p"`
	Size       int64   `json:"s"`
	Timestamp  int64   `json:"t"`
	Conditions []int   `json:"c"`
	Tape       int     `json:"z"`
}

// Quote is a quote event of the market-data stream.
type Quote struct {
	EventType   string  `json:"ev"`
	Symbol      string  `json:"T"`
	BidExchange int     `json:"x"`
	BidPrice    float64 `json:"p"`
	BidSize     int64   `json:"s"`
	AskExchange int     `json:"X"`
	AskPrice    float64 `json:"P"`
	AskSize     int64   `json:"S"`
	Conditions  []int   `json:"c"`
	Timestamp   int64   `json:"t"`
}

// MinuteBar is a minute aggregate event of the market-data stream. Start and
// End are Unix milliseconds.
type MinuteBar struct {
	EventType         string  `json:"ev"`
	Symbol            string  `json:"T"`
	Volume            float64 `json:"v"`
	AccumulatedVolume float64 `json:"av"`
	OfficialOpen      float64 `json:"op"`
	VWAP              float64 `json:"vw"`
	Open              float64 `json:"o"`
	Close             float64 `json:"c"`
	High              float64 `json:"h"`
	Low               float64 `json:"l"`
	Average           float64 `json:"a"`
	Start             int64   `json:"s"`
	End               int64   `json:"e"`
}

// DecodeTrade decodes a trade event.
func DecodeTrade(event Event) (Trade, error) {
	var trade Trade

	return trade, decodeEvent(event, EventTrade, &trade)
}

// DecodeQuote decodes a quote event.
func DecodeQuote(event Event) (Quote, error) {
	var quote Quote

	return quote, decodeEvent(event, EventQuote, &quote)
}

// DecodeMinuteBar decodes a minute event.
func DecodeMinuteBar(event Event) (MinuteBar, error) {
	var bar MinuteBar

	return bar, decodeEvent(event, EventMinuteBar, &bar)
}

func decodeEvent(event Event, name string, out any) error {
	if event.Name != name {
		return errors.Newf(errors.ErrCodeUnexpectedFormat, "expected %s event, got %s", name, event.Name)
	}

	if err := json.Unmarshal(event.Data, out); err != nil {
		return errors.Wrapf(errors.ErrCodeDecodeFailed, err, "failed to decode %s event", name)
	}

	return nil
}
