package mockserver

import (
	"testing"
	"time"
)

func TestFrameGenerator_MinuteBars(t *testing.T) {
	gen := NewFrameGenerator(42) // Fixed seed for reproducibility
	config := DefaultConfig()
	config.Count = 100

	frames := gen.MinuteBars(config)

	if len(frames) != 100 {
		t.Errorf("expected 100 frames, got %d", len(frames))
	}

	for i, f := range frames {
		if f.EventType != "AM" || f.Symbol != config.Symbol {
			t.Errorf("unexpected frame header at index %d: ev=%s T=%s", i, f.EventType, f.Symbol)
		}

		if f.Open <= 0 || f.High <= 0 || f.Low <= 0 || f.Close <= 0 {
			t.Errorf("invalid OHLC values at index %d: O=%f H=%f L=%f C=%f", i, f.Open, f.High, f.Low, f.Close)
		}

		if f.High < f.Low {
			t.Errorf("High < Low at index %d: H=%f L=%f", i, f.High, f.Low)
		}

		if f.End-f.Start != config.Interval.Milliseconds() {
			t.Errorf("unexpected bar width at index %d: %d", i, f.End-f.Start)
		}
	}

	for i := 1; i < len(frames); i++ {
		if frames[i].Start != frames[i-1].End {
			t.Errorf("bars not contiguous at index %d", i)
		}
	}
}

func TestFrameGenerator_Reproducibility(t *testing.T) {
	config := DefaultConfig()

	first := NewFrameGenerator(7).MinuteBars(config)
	second := NewFrameGenerator(7).MinuteBars(config)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("frames differ at index %d", i)
		}
	}
}

func TestFrameGenerator_TradesAndQuotes(t *testing.T) {
	config := DefaultConfig()
	config.Count = 5
	config.StartTime = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	trades := NewFrameGenerator(3).Trades(config)
	if len(trades) != 5 {
		t.Fatalf("expected 5 trades, got %d", len(trades))
	}

	for i, trade := range trades {
		if trade.EventType != "T" || trade.Size <= 0 || trade.Price <= 0 {
			t.Errorf("invalid trade at index %d: %+v", i, trade)
		}
	}

	quotes := NewFrameGenerator(3).Quotes(config)
	for i, quote := range quotes {
		if quote.EventType != "Q" || quote.AskPrice <= quote.BidPrice {
			t.Errorf("invalid quote at index %d: %+v", i, quote)
		}
	}
}
