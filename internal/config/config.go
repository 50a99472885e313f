package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultAppName          = "LumiPay"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultMongoDatabase    = "lumipay_audit"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultOperationTimeout = 5 * time.Second
)

// Config captures API runtime configuration loaded from the environment and an optional .env file.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	RabbitMQURL    string
	JWTSecret      string
	CardSecretKey  string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	OperationTimeout     time.Duration
	IDMaxAttempts        int
	WalletOpeningBalance decimal.Decimal
	CardIssuanceFee      decimal.Decimal
	CardDailyLimit       decimal.Decimal
	CardMaxActive        int
	HistoryPageSize      int
	HistoryMaxPageSize   int
	TransferRateLimit    int
}

// WorkerConfig captures the audit worker configuration.
type WorkerConfig struct {
	AppName        string
	LogLevel       string
	RabbitMQURL    string
	MongoURL       string
	MongoDatabase  string
	ShutdownPeriod time.Duration
}

// Load reads API configuration from the working directory's .env file and the environment.
func Load() (Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads API configuration, looking for a .env file in dir.
func LoadFrom(dir string) (Config, error) {
	v, err := newViper(dir)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:            v.GetString("APP_NAME"),
		AppEnv:             strings.ToLower(v.GetString("APP_ENV")),
		Port:               v.GetString("PORT"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		DatabaseURL:        strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(v.GetString("REDIS_URL")),
		RabbitMQURL:        strings.TrimSpace(v.GetString("RABBITMQ_URL")),
		JWTSecret:          v.GetString("JWT_SECRET"),
		CardSecretKey:      strings.TrimSpace(v.GetString("CARD_SECRET_KEY")),
		IDMaxAttempts:      v.GetInt("ID_MAX_ATTEMPTS"),
		CardMaxActive:      v.GetInt("CARD_MAX_ACTIVE"),
		HistoryPageSize:    v.GetInt("HISTORY_PAGE_SIZE"),
		HistoryMaxPageSize: v.GetInt("HISTORY_MAX_PAGE_SIZE"),
		TransferRateLimit:  v.GetInt("TRANSFER_RATE_LIMIT"),
	}

	if cfg.ShutdownPeriod, err = duration(v, "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration(v, "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.OperationTimeout, err = duration(v, "OPERATION_TIMEOUT", defaultOperationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WalletOpeningBalance, err = amount(v, "WALLET_OPENING_BALANCE"); err != nil {
		return Config{}, err
	}
	if cfg.CardIssuanceFee, err = amount(v, "CARD_ISSUANCE_FEE"); err != nil {
		return Config{}, err
	}
	if cfg.CardDailyLimit, err = amount(v, "CARD_DAILY_LIMIT"); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET must be set")
	}
	if cfg.CardSecretKey != "" && len(cfg.CardSecretKey) != 64 {
		return Config{}, errors.New("CARD_SECRET_KEY must be 64 hex characters")
	}
	if cfg.IsDevelopment() {
		return cfg, nil
	}
	required := []struct{ key, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
		{"RABBITMQ_URL", cfg.RabbitMQURL},
		{"CARD_SECRET_KEY", cfg.CardSecretKey},
	}
	for _, r := range required {
		if r.value == "" {
			return Config{}, fmt.Errorf("%s must be set", r.key)
		}
	}
	return cfg, nil
}

// LoadWorker reads the audit worker configuration.
func LoadWorker() (WorkerConfig, error) {
	return LoadWorkerFrom(".")
}

// LoadWorkerFrom reads the audit worker configuration, looking for a .env file in dir.
func LoadWorkerFrom(dir string) (WorkerConfig, error) {
	v, err := newViper(dir)
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		AppName:       v.GetString("APP_NAME"),
		LogLevel:      strings.ToLower(v.GetString("LOG_LEVEL")),
		RabbitMQURL:   strings.TrimSpace(v.GetString("RABBITMQ_URL")),
		MongoURL:      strings.TrimSpace(v.GetString("MONGO_URL")),
		MongoDatabase: v.GetString("MONGO_DATABASE"),
	}
	if cfg.ShutdownPeriod, err = duration(v, "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.RabbitMQURL == "" {
		return WorkerConfig{}, errors.New("RABBITMQ_URL must be set")
	}
	if cfg.MongoURL == "" {
		return WorkerConfig{}, errors.New("MONGO_URL must be set")
	}
	return cfg, nil
}

// IsDevelopment reports whether optional backends may fall back to in-process stand-ins.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == defaultAppEnv
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func newViper(dir string) (*viper.Viper, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("MONGO_DATABASE", defaultMongoDatabase)
	v.SetDefault("ID_MAX_ATTEMPTS", 10)
	v.SetDefault("WALLET_OPENING_BALANCE", "100000.00")
	v.SetDefault("CARD_ISSUANCE_FEE", "1000.00")
	v.SetDefault("CARD_DAILY_LIMIT", "500000.00")
	v.SetDefault("CARD_MAX_ACTIVE", 3)
	v.SetDefault("HISTORY_PAGE_SIZE", 3)
	v.SetDefault("HISTORY_MAX_PAGE_SIZE", 100)
	v.SetDefault("TRANSFER_RATE_LIMIT", 30)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}
	return v, nil
}

// duration reads KEY_SECONDS as whole seconds, falling back to KEY as a Go duration string.
func duration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if raw := strings.TrimSpace(v.GetString(secondsKey)); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if raw := strings.TrimSpace(v.GetString(key)); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func amount(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
