package mockserver

import (
	"math"
	"math/rand"
	"time"
)

// FrameGenerator generates realistic market-data stream frames.
type FrameGenerator struct {
	rng *rand.Rand
}

// NewFrameGenerator creates a new FrameGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewFrameGenerator(seed int64) *FrameGenerator {
	return &FrameGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how frames are generated.
type GeneratorConfig struct {
	Symbol string
	// StartTime is the start of the first bar
	StartTime    time.Time
	Interval     time.Duration
	Count        int
	InitialPrice float64
	// Volatility controls price movement (0.01 = 1% per bar)
	Volatility float64
	// Trend is the drift factor spread across the series
	Trend      float64
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Symbol:         "AAPL",
		StartTime:      time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
		Interval:       time.Minute,
		Count:          10,
		InitialPrice:   100.0,
		Volatility:     0.002, // 0.2% per bar
		Trend:          0.0,
		VolumeBase:     10000,
		VolumeVariance: 0.3,
	}
}

// MinuteBarFrame is an AM frame of the market-data stream.
type MinuteBarFrame struct {
	EventType string  `json:"ev"`
	Symbol    string  `json:"T"`
	Volume    float64 `json:"v"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	VWAP      float64 `json:"vw"`
	Start     int64   `json:"s"`
	End       int64   `json:"e"`
}

// TradeFrame is a T frame of the market-data stream.
type TradeFrame struct {
	EventType  string  `json:"ev"`
	Symbol     string  `json:"T"`
	Exchange   int     `json:"x"`
	Price      float64 `json:"p"`
	Size       int64   `json:"s"`
	Timestamp  int64   `json:"t"`
	Conditions []int   `json:"c"`
}

// QuoteFrame is a Q frame of the market-data stream.
type QuoteFrame struct {
	EventType   string  `json:"ev"`
	Symbol      string  `json:"T"`
	BidExchange int     `json:"x"`
	BidPrice    float64 `json:"p"`
	BidSize     int64   `json:"s"`
	AskExchange int     `json:"X"`
	AskPrice    float64 `json:"P"`
	AskSize     int64   `json:"S"`
	Timestamp   int64   `json:"t"`
}

// MinuteBars creates minute bar frames following a geometric Brownian motion.
func (g *FrameGenerator) MinuteBars(config GeneratorConfig) []MinuteBarFrame {
	frames := make([]MinuteBarFrame, config.Count)
	currentPrice := config.InitialPrice
	currentTime := config.StartTime

	for i := 0; i < config.Count; i++ {
		open := currentPrice

		// Box-Muller transform for a normally distributed step
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		drift := config.Trend / float64(config.Count)

		closePrice := open * (1 + config.Volatility*z + drift)
		if closePrice <= 0 {
			closePrice = open * 0.99
		}

		high := math.Max(open, closePrice) + math.Abs(g.rng.Float64()*config.Volatility*open*0.5)

		low := math.Min(open, closePrice) - math.Abs(g.rng.Float64()*config.Volatility*open*0.5)
		if low <= 0 {
			low = math.Min(open, closePrice) * 0.99
		}

		volume := config.VolumeBase * (1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance)
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		end := currentTime.Add(config.Interval)
		frames[i] = MinuteBarFrame{
			EventType: "AM",
			Symbol:    config.Symbol,
			Volume:    math.Round(volume),
			Open:      roundToDecimals(open, 4),
			High:      roundToDecimals(high, 4),
			Low:       roundToDecimals(low, 4),
			Close:     roundToDecimals(closePrice, 4),
			VWAP:      roundToDecimals((high+low+closePrice)/3, 4),
			Start:     currentTime.UnixMilli(),
			End:       end.UnixMilli(),
		}

		currentPrice = closePrice
		currentTime = end
	}

	return frames
}

// Trades creates one trade frame per bar, priced at the bar close.
func (g *FrameGenerator) Trades(config GeneratorConfig) []TradeFrame {
	bars := g.MinuteBars(config)
	trades := make([]TradeFrame, len(bars))

	for i, bar := range bars {
		trades[i] = TradeFrame{
			EventType:  "T",
			Symbol:     bar.Symbol,
			Exchange:   g.rng.Intn(20) + 1,
			Price:      bar.Close,
			Size:       int64(g.rng.Intn(500) + 1),
			Timestamp:  bar.End,
			Conditions: []int{14},
		}
	}

	return trades
}

// Quotes creates one quote frame per bar with a spread around the bar close.
func (g *FrameGenerator) Quotes(config GeneratorConfig) []QuoteFrame {
	bars := g.MinuteBars(config)
	quotes := make([]QuoteFrame, len(bars))

	for i, bar := range bars {
		spread := roundToDecimals(bar.Close*0.0005, 4)
		quotes[i] = QuoteFrame{
			EventType:   "Q",
			Symbol:      bar.Symbol,
			BidExchange: g.rng.Intn(20) + 1,
			BidPrice:    roundToDecimals(bar.Close-spread, 4),
			BidSize:     int64(g.rng.Intn(10) + 1),
			AskExchange: g.rng.Intn(20) + 1,
			AskPrice:    roundToDecimals(bar.Close+spread, 4),
			AskSize:     int64(g.rng.Intn(10) + 1),
			Timestamp:   bar.End,
		}
	}

	return quotes
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Round(val*pow) / pow
}
