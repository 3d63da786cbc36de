package alpaca

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables resolved by ConfigFromEnv.
const (
	EnvKeyID     = "APCA_API_KEY_ID"
	EnvSecretKey = "APCA_API_SECRET_KEY"
	EnvPaper     = "APCA_PAPER"
)

const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultEventBuffer      = 256
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config contains everything needed to build a Client.
type Config struct {
	KeyID     string `yaml:"key_id" json:"keyId" validate:"required" jsonschema:"required,description=API key id. Falls back to APCA_API_KEY_ID"`
	SecretKey string `yaml:"secret_key" json:"secretKey" validate:"required" jsonschema:"required,description=API secret key. Falls back to APCA_API_SECRET_KEY"`
	// Environment is "paper" or "live". Empty means paper.
	Environment Environment `yaml:"environment" json:"environment" validate:"omitempty,oneof=paper live" jsonschema:"enum=paper,enum=live"`
	// DisableRateLimit turns off the minimum interval between REST requests.
	DisableRateLimit bool `yaml:"disable_rate_limit" json:"disableRateLimit"`
	// Cache keeps a local mirror of every order, position and watchlist the
	// collections return.
	Cache bool `yaml:"cache" json:"cache"`

	RequestTimeout   time.Duration `yaml:"request_timeout" json:"requestTimeout" validate:"gte=0"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshakeTimeout" validate:"gte=0"`
	EventBuffer      int           `yaml:"event_buffer" json:"eventBuffer" validate:"gte=0"`

	TradingURL      string `yaml:"trading_url" json:"tradingUrl" validate:"omitempty,url"`
	PaperTradingURL string `yaml:"paper_trading_url" json:"paperTradingUrl" validate:"omitempty,url"`
	DataURL         string `yaml:"data_url" json:"dataUrl" validate:"omitempty,url"`
	StreamURL       string `yaml:"stream_url" json:"streamUrl" validate:"omitempty,url"`
	PaperStreamURL  string `yaml:"paper_stream_url" json:"paperStreamUrl" validate:"omitempty,url"`
	DataStreamURL   string `yaml:"data_stream_url" json:"dataStreamUrl" validate:"omitempty,url"`
}

var configFieldHints = map[string]string{
	"KeyID":     "key id is required (set key_id or " + EnvKeyID + ")",
	"SecretKey": "secret key is required (set secret_key or " + EnvSecretKey + ")",
}

// Validate validates the Config struct. Missing credentials are reported with
// ErrCodeMissingCredential, anything else with ErrCodeInvalidConfiguration.
func (c *Config) Validate() error {
	validate := validator.New()

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			if hint, ok := configFieldHints[fe.Field()]; ok && fe.Tag() == "required" {
				return errors.New(errors.ErrCodeMissingCredential, hint)
			}
		}
	}

	return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid alpaca config", err)
}

// IsPaper reports whether the config targets the paper-trading environment.
func (c *Config) IsPaper() bool {
	return c.Resolve().IsPaperTrading
}

// withDefaults returns a copy of the config with every unset host and timeout
// filled in.
func (c Config) withDefaults() Config {
	if c.Environment == "" {
		c.Environment = EnvironmentPaper
	}

	live := environmentRegistry[EnvironmentLive]
	paper := environmentRegistry[EnvironmentPaper]

	c.TradingURL = firstNonEmpty(c.TradingURL, live.TradingURL)
	c.PaperTradingURL = firstNonEmpty(c.PaperTradingURL, paper.TradingURL)
	c.DataURL = firstNonEmpty(c.DataURL, DefaultDataURL)
	c.StreamURL = firstNonEmpty(c.StreamURL, live.AccountStreamURL)
	c.PaperStreamURL = firstNonEmpty(c.PaperStreamURL, paper.AccountStreamURL)
	c.DataStreamURL = firstNonEmpty(c.DataStreamURL, DefaultDataStreamURL)

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}

	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}

	return c
}

// Resolve returns the registry entry of the configured environment with its
// hosts replaced by any URL overrides set on the config. An unknown
// environment resolves to paper.
func (c *Config) Resolve() EnvironmentInfo {
	d := c.withDefaults()

	info, ok := environmentRegistry[d.Environment]
	if !ok {
		info = environmentRegistry[EnvironmentPaper]
	}

	if info.IsPaperTrading {
		info.TradingURL = d.PaperTradingURL
		info.AccountStreamURL = d.PaperStreamURL
	} else {
		info.TradingURL = d.TradingURL
		info.AccountStreamURL = d.StreamURL
	}

	return info
}

// AccountStreamURL returns the account-updates stream host for the configured environment.
func (c *Config) AccountStreamURL() string {
	return c.Resolve().AccountStreamURL
}

// ApplyEnv fills credentials and environment from lookup. Values already set
// on the config win over the environment.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	if lookup == nil {
		return
	}

	if v, ok := lookup(EnvKeyID); ok && cfg.KeyID == "" {
		cfg.KeyID = v
	}

	if v, ok := lookup(EnvSecretKey); ok && cfg.SecretKey == "" {
		cfg.SecretKey = v
	}

	// Any value other than "true" switches to the live environment.
	if v, ok := lookup(EnvPaper); ok && cfg.Environment == "" && v != "" {
		if strings.EqualFold(strings.TrimSpace(v), "true") {
			cfg.Environment = EnvironmentPaper
		} else {
			cfg.Environment = EnvironmentLive
		}
	}
}

// ConfigFromEnv builds a Config from environment variables only.
func ConfigFromEnv(lookup LookupFunc) Config {
	var cfg Config
	ApplyEnv(&cfg, lookup)

	return cfg
}

// LoadConfig reads the YAML configuration file at path and then fills any
// missing credentials from lookup.
func LoadConfig(path string, lookup LookupFunc) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config %s", path)
	}

	ApplyEnv(&cfg, lookup)

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
