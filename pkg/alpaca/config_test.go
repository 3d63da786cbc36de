package alpaca

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]

		return v, ok
	}
}

func (suite *ConfigTestSuite) TestValidateMissingCredentials() {
	tests := []struct {
		name    string
		config  Config
		message string
	}{
		{name: "missing key", config: Config{SecretKey: "s"}, message: "key id is required"},
		{name: "missing secret", config: Config{KeyID: "k"}, message: "secret key is required"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := tt.config.Validate()
			suite.Require().Error(err)
			suite.True(errors.HasCode(err, errors.ErrCodeMissingCredential))
			suite.Contains(err.Error(), tt.message)
		})
	}
}

func (suite *ConfigTestSuite) TestValidateInvalidFields() {
	config := Config{KeyID: "k", SecretKey: "s", Environment: "staging"}
	suite.True(errors.HasCode(config.Validate(), errors.ErrCodeInvalidConfiguration))

	config = Config{KeyID: "k", SecretKey: "s", TradingURL: "not a url"}
	suite.True(errors.HasCode(config.Validate(), errors.ErrCodeInvalidConfiguration))

	config = Config{KeyID: "k", SecretKey: "s", Environment: EnvironmentLive, DataStreamURL: "ws://127.0.0.1:9000/data/stream"}
	suite.NoError(config.Validate())
}

func (suite *ConfigTestSuite) TestWithDefaults() {
	config := Config{KeyID: "k", SecretKey: "s"}.withDefaults()

	suite.Equal(EnvironmentPaper, config.Environment)
	suite.True(config.IsPaper())
	suite.Equal(DefaultPaperTradingURL, config.PaperTradingURL)
	suite.Equal(DefaultDataURL, config.DataURL)
	suite.Equal(DefaultRequestTimeout, config.RequestTimeout)
	suite.Equal(DefaultHandshakeTimeout, config.HandshakeTimeout)
	suite.Equal(DefaultEventBuffer, config.EventBuffer)
	suite.Equal(DefaultPaperStreamURL, config.AccountStreamURL())

	live := Config{KeyID: "k", SecretKey: "s", Environment: EnvironmentLive}
	suite.Equal(DefaultLiveStreamURL, live.AccountStreamURL())
}

func (suite *ConfigTestSuite) TestConfigFromEnv() {
	config := ConfigFromEnv(lookupFrom(map[string]string{
		EnvKeyID:     "env-key",
		EnvSecretKey: "env-secret",
		EnvPaper:     "false",
	}))

	suite.Equal("env-key", config.KeyID)
	suite.Equal("env-secret", config.SecretKey)
	suite.Equal(EnvironmentLive, config.Environment)
	suite.False(config.IsPaper())

	config = ConfigFromEnv(lookupFrom(map[string]string{EnvPaper: "TRUE"}))
	suite.Equal(EnvironmentPaper, config.Environment)

	config = ConfigFromEnv(lookupFrom(map[string]string{}))
	suite.Equal(Environment(""), config.Environment)
	suite.True(config.IsPaper())
}

func (suite *ConfigTestSuite) TestApplyEnvKeepsExplicitValues() {
	config := Config{KeyID: "explicit", Environment: EnvironmentPaper}
	ApplyEnv(&config, lookupFrom(map[string]string{
		EnvKeyID:     "env-key",
		EnvSecretKey: "env-secret",
		EnvPaper:     "false",
	}))

	suite.Equal("explicit", config.KeyID)
	suite.Equal("env-secret", config.SecretKey)
	suite.Equal(EnvironmentPaper, config.Environment)

	ApplyEnv(&config, nil)
	suite.Equal("explicit", config.KeyID)
}

func (suite *ConfigTestSuite) TestLoadConfig() {
	dir := suite.T().TempDir()
	path := filepath.Join(dir, "alpaca.yaml")
	content := `
key_id: file-key
environment: live
cache: true
request_timeout: 5s
event_buffer: 16
trading_url: http://127.0.0.1:8080/v2
`
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadConfig(path, lookupFrom(map[string]string{
		EnvKeyID:     "env-key",
		EnvSecretKey: "env-secret",
	}))
	suite.Require().NoError(err)

	suite.Equal("file-key", config.KeyID)
	suite.Equal("env-secret", config.SecretKey)
	suite.Equal(EnvironmentLive, config.Environment)
	suite.True(config.Cache)
	suite.Equal(5*time.Second, config.RequestTimeout)
	suite.Equal(16, config.EventBuffer)
	suite.Equal("http://127.0.0.1:8080/v2", config.TradingURL)
	suite.NoError(config.Validate())
}

func (suite *ConfigTestSuite) TestLoadConfigErrors() {
	_, err := LoadConfig(filepath.Join(suite.T().TempDir(), "missing.yaml"), nil)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

	path := filepath.Join(suite.T().TempDir(), "bad.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("key_id: [unterminated"), 0o600))

	_, err = LoadConfig(path, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *ConfigTestSuite) TestEnvironmentRegistry() {
	suite.Equal([]string{"live", "paper"}, GetSupportedEnvironments())

	info, err := GetEnvironmentInfo("paper")
	suite.Require().NoError(err)
	suite.True(info.IsPaperTrading)
	suite.Equal(DefaultPaperTradingURL, info.TradingURL)

	_, err = GetEnvironmentInfo("sandbox")
	suite.Error(err)
}

func (suite *ConfigTestSuite) TestResolveUsesRegistryHosts() {
	original := environmentRegistry[EnvironmentLive]
	defer func() { environmentRegistry[EnvironmentLive] = original }()

	staging := original
	staging.TradingURL = "https://staging.example.com/v2"
	staging.AccountStreamURL = "wss://staging.example.com/stream"
	environmentRegistry[EnvironmentLive] = staging

	config := Config{KeyID: "k", SecretKey: "s", Environment: EnvironmentLive}
	info := config.Resolve()
	suite.False(info.IsPaperTrading)
	suite.Equal("Alpaca Live", info.DisplayName)
	suite.Equal(staging.TradingURL, info.TradingURL)
	suite.Equal(staging.AccountStreamURL, config.AccountStreamURL())

	gateway, err := NewGateway(config)
	suite.Require().NoError(err)
	suite.Equal(staging.TradingURL, gateway.BaseURL(HostAccount))
	suite.False(gateway.Paper())
}

func (suite *ConfigTestSuite) TestResolvePrefersConfiguredHosts() {
	config := Config{
		KeyID:           "k",
		SecretKey:       "s",
		PaperTradingURL: "http://127.0.0.1:9000/v2",
		PaperStreamURL:  "ws://127.0.0.1:9000/stream",
	}

	info := config.Resolve()
	suite.True(info.IsPaperTrading)
	suite.Equal("paper", info.Name)
	suite.Equal("http://127.0.0.1:9000/v2", info.TradingURL)
	suite.Equal("ws://127.0.0.1:9000/stream", info.AccountStreamURL)

	suite.Equal(DefaultLiveTradingURL, Config{Environment: EnvironmentLive}.withDefaults().TradingURL)
}
