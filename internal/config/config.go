// Package config defines configuration for all three pipeline services.
// Values load from an optional YAML file with environment-variable
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BrokerConfig addresses the AMQP broker shared by all three services.
type BrokerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// URI builds an amqp:// connection string.
func (b BrokerConfig) URI() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", b.Username, b.Password, b.Host, b.Port)
}

// ExchangeConfig holds OKX REST/WS endpoints and credentials. Credentials
// are mandatory in the Lifecycle Engine and absent elsewhere.
type ExchangeConfig struct {
	RESTBaseURL  string `mapstructure:"rest_base_url"`
	WSPublicURL  string `mapstructure:"ws_public_url"`
	WSPrivateURL string `mapstructure:"ws_private_url"`
	APIKey       string `mapstructure:"api_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Passphrase   string `mapstructure:"passphrase"`
}

// HasCredentials reports whether all three trading credentials are set.
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.SecretKey != "" && e.Passphrase != ""
}

// LoggingConfig controls the shared zerolog setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus HTTP endpoint each service exposes.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DepthEngineConfig is the top-level configuration for cmd/depthengine.
type DepthEngineConfig struct {
	Broker   BrokerConfig   `mapstructure:"broker"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Symbol   string         `mapstructure:"symbol"`
}

// RelayConfig is the top-level configuration for cmd/decisionrelay.
type RelayConfig struct {
	Broker  BrokerConfig  `mapstructure:"broker"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LifecycleConfig is the top-level configuration for cmd/lifecycleengine.
type LifecycleConfig struct {
	Broker           BrokerConfig   `mapstructure:"broker"`
	Exchange         ExchangeConfig `mapstructure:"exchange"`
	Logging          LoggingConfig  `mapstructure:"logging"`
	Metrics          MetricsConfig  `mapstructure:"metrics"`
	Store            StoreConfig    `mapstructure:"store"`
	FillWindow       time.Duration  `mapstructure:"fill_window"`
	MarginCapPercent float64        `mapstructure:"margin_cap_percent"`
	Leverage         float64        `mapstructure:"leverage"`
	MinContract      float64        `mapstructure:"min_contract"`
	MaxActiveOrders  int            `mapstructure:"max_active_orders"`
	BalanceCcy       string         `mapstructure:"balance_ccy"`
	Symbol           string         `mapstructure:"symbol"`
}

// StoreConfig sets where crash-recovery state is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

func newViper(path, envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 5672)
	v.SetDefault("broker.username", "guest")
	v.SetDefault("broker.password", "guest")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)

	if path != "" {
		v.SetConfigFile(path)
		_ = v.ReadInConfig() // absent config file is fine; env vars and defaults still apply
	}
	return v
}

func bindBrokerEnv(v *viper.Viper) {
	_ = v.BindEnv("broker.host", "RABBITMQ_HOST")
	_ = v.BindEnv("broker.port", "RABBITMQ_PORT")
	_ = v.BindEnv("broker.username", "RABBITMQ_USERNAME")
	_ = v.BindEnv("broker.password", "RABBITMQ_PASSWORD")
}

func bindExchangeEnv(v *viper.Viper) {
	_ = v.BindEnv("exchange.api_key", "OKX_API_KEY")
	_ = v.BindEnv("exchange.secret_key", "OKX_SECRET_KEY")
	_ = v.BindEnv("exchange.passphrase", "OKX_PASSPHRASE")
}

// LoadDepthEngine reads Depth Engine configuration from an optional file
// plus environment overrides.
func LoadDepthEngine(path string) (*DepthEngineConfig, error) {
	v := newViper(path, "DEPTH")
	bindBrokerEnv(v)
	bindExchangeEnv(v)
	v.SetDefault("symbol", "BTC-USDT-SWAP")

	var cfg DepthEngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal depth engine config: %w", err)
	}
	return &cfg, nil
}

// LoadRelay reads Decision Relay configuration.
func LoadRelay(path string) (*RelayConfig, error) {
	v := newViper(path, "RELAY")
	bindBrokerEnv(v)

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal relay config: %w", err)
	}
	return &cfg, nil
}

// LoadLifecycle reads Lifecycle Engine configuration and validates that
// exchange credentials are present; missing credentials here is a startup
// error.
func LoadLifecycle(path string) (*LifecycleConfig, error) {
	v := newViper(path, "LIFECYCLE")
	bindBrokerEnv(v)
	bindExchangeEnv(v)

	v.SetDefault("fill_window", "2s")
	v.SetDefault("margin_cap_percent", 20.0)
	v.SetDefault("leverage", 100.0)
	v.SetDefault("min_contract", 0.1)
	v.SetDefault("max_active_orders", 300)
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("balance_ccy", "USDT")
	v.SetDefault("symbol", "BTC-USDT-SWAP")

	var cfg LifecycleConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal lifecycle config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the fatal-config rule: the Lifecycle Engine cannot
// start without OKX credentials. It also rejects a fill_window below 500ms.
// The Lifecycle Engine does not read fill_window: fills are processed in
// arrival order, with no timestamp-ordered reorder buffer.
func (c *LifecycleConfig) Validate() error {
	if !c.Exchange.HasCredentials() {
		return fmt.Errorf("config: OKX_API_KEY, OKX_SECRET_KEY and OKX_PASSPHRASE are required")
	}
	if c.FillWindow < 500*time.Millisecond {
		return fmt.Errorf("config: fill_window must be >= 500ms, got %s", c.FillWindow)
	}
	if c.MinContract <= 0 {
		return fmt.Errorf("config: min_contract must be > 0")
	}
	if c.MarginCapPercent <= 0 || c.MarginCapPercent > 100 {
		return fmt.Errorf("config: margin_cap_percent must be in (0, 100]")
	}
	return nil
}

// EnvOrDefault reads an environment variable, falling back to def when unset.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
