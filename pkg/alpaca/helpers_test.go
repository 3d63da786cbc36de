package alpaca_test

import (
	"testing"

	"github.com/rxtech-lab/argo-alpaca/internal/mockserver"
	"github.com/rxtech-lab/argo-alpaca/pkg/alpaca"
	"github.com/stretchr/testify/require"
)

const (
	testKeyID     = "PKTEST"
	testSecretKey = "secret"
)

// startServer starts a mock broker on a random port and stops it with the test.
func startServer(t *testing.T, config mockserver.ServerConfig) *mockserver.MockAlpacaServer {
	t.Helper()

	if config.KeyID == "" {
		config.KeyID = testKeyID
		config.SecretKey = testSecretKey
	}

	server := mockserver.NewMockAlpacaServer(config)
	require.NoError(t, server.Start(":0"))

	t.Cleanup(func() {
		_ = server.Stop()
	})

	return server
}

// serverConfig points every URL of a client config at server.
func serverConfig(server *mockserver.MockAlpacaServer) alpaca.Config {
	return alpaca.Config{
		KeyID:            testKeyID,
		SecretKey:        testSecretKey,
		Environment:      alpaca.EnvironmentPaper,
		DisableRateLimit: true,
		Cache:            true,
		TradingURL:       server.TradingURL(),
		PaperTradingURL:  server.TradingURL(),
		DataURL:          server.DataURL(),
		StreamURL:        server.AccountStreamURL(),
		PaperStreamURL:   server.AccountStreamURL(),
		DataStreamURL:    server.MarketStreamURL(),
	}
}
