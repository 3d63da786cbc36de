package alpaca

import (
	"fmt"
	"sort"
)

// Environment selects between the paper-trading and the live account hosts.
type Environment string

const (
	EnvironmentPaper Environment = "paper"
	EnvironmentLive  Environment = "live"
)

const (
	DefaultLiveTradingURL  = "https://api.alpaca.markets/v2"
	DefaultPaperTradingURL = "https://paper-api.alpaca.markets/v2"
	DefaultDataURL         = "https://data.alpaca.markets/v1"
	DefaultLiveStreamURL   = "wss://api.alpaca.markets/stream"
	DefaultPaperStreamURL  = "wss://paper-api.alpaca.markets/stream"
	DefaultDataStreamURL   = "wss://data.alpaca.markets/stream"
)

// EnvironmentInfo describes the default hosts of an environment.
type EnvironmentInfo struct {
	Name             string `json:"name"`
	DisplayName      string `json:"displayName"`
	Description      string `json:"description"`
	IsPaperTrading   bool   `json:"isPaperTrading"`
	TradingURL       string `json:"tradingUrl"`
	AccountStreamURL string `json:"accountStreamUrl"`
}

var environmentRegistry = map[Environment]EnvironmentInfo{
	EnvironmentPaper: {
		Name:             string(EnvironmentPaper),
		DisplayName:      "Alpaca Paper",
		Description:      "Paper trading account, orders are simulated without real funds",
		IsPaperTrading:   true,
		TradingURL:       DefaultPaperTradingURL,
		AccountStreamURL: DefaultPaperStreamURL,
	},
	EnvironmentLive: {
		Name:             string(EnvironmentLive),
		DisplayName:      "Alpaca Live",
		Description:      "Live brokerage account trading real funds",
		IsPaperTrading:   false,
		TradingURL:       DefaultLiveTradingURL,
		AccountStreamURL: DefaultLiveStreamURL,
	},
}

// GetSupportedEnvironments returns the names of all known environments.
func GetSupportedEnvironments() []string {
	names := make([]string, 0, len(environmentRegistry))
	for env := range environmentRegistry {
		names = append(names, string(env))
	}

	sort.Strings(names)

	return names
}

// GetEnvironmentInfo returns metadata for a specific environment.
func GetEnvironmentInfo(name string) (EnvironmentInfo, error) {
	info, exists := environmentRegistry[Environment(name)]
	if !exists {
		return EnvironmentInfo{}, fmt.Errorf("unsupported environment: %s", name)
	}

	return info, nil
}
