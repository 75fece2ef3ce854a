package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Loan     LoanConfig     `mapstructure:"loan"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Event    EventConfig    `mapstructure:"event"`
}

type ServerConfig struct {
	Port         int             `mapstructure:"port"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration   `mapstructure:"idle_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	Auth         AuthConfig      `mapstructure:"auth"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type MetricsConfig struct {
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
}

// LoanConfig carries origination defaults applied when a create request
// leaves the optional terms unset. Rates are percentages kept as strings so
// they can be parsed into decimals without float round-trips.
type LoanConfig struct {
	AnnualInterestRate string `mapstructure:"annual_interest_rate"`
	AnnualFECIRate     string `mapstructure:"annual_feci_rate"`
	FECIThreshold      string `mapstructure:"feci_threshold"`
	PaymentFrequency   string `mapstructure:"payment_frequency"`
}

type BatchConfig struct {
	StatusRefreshSchedule string        `mapstructure:"status_refresh_schedule"`
	StatusRefreshTimeout  time.Duration `mapstructure:"status_refresh_timeout"`
}

type EventConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.rps", 10.0)
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("server.auth.enabled", true)
	v.SetDefault("server.auth.jwt_secret", "")

	v.SetDefault("database.url", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("loan.annual_interest_rate", "19.0")
	v.SetDefault("loan.annual_feci_rate", "1.0")
	v.SetDefault("loan.feci_threshold", "5000.0")
	v.SetDefault("loan.payment_frequency", "monthly")

	v.SetDefault("batch.status_refresh_schedule", "0 2 * * *")
	v.SetDefault("batch.status_refresh_timeout", 30*time.Minute)

	v.SetDefault("event.enabled", false)
	v.SetDefault("event.url", "")
	v.SetDefault("event.exchange", "loan-engine.events")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
