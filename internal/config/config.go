package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from strings such as "90m"
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config holds all service configuration
type Config struct {
	Service           string          `yaml:"service"`
	Env               string          `yaml:"env"`
	ListenAddress     string          `yaml:"listen"`
	DatabaseURL       string          `yaml:"database_url"`
	JWTSecret         string          `yaml:"jwt_secret"`
	TokenTTL          Duration        `yaml:"token_ttl"`
	ArchivePath       string          `yaml:"archive_path"`
	LogFile           string          `yaml:"log_file"`
	BroadcastInterval Duration        `yaml:"broadcast_interval"`
	CORSOrigins       []string        `yaml:"cors_origins"`
	TrustProxy        bool            `yaml:"trust_proxy"` // honour X-Forwarded-For for rate limiting
	Pool              PoolConfig      `yaml:"pool"`
	Roles             RolesConfig     `yaml:"roles"`
	Kafka             KafkaConfig     `yaml:"kafka"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// PoolConfig holds the ledger parameters
type PoolConfig struct {
	MinDeposit int64            `yaml:"min_deposit"` // native base units
	MinLock    Duration         `yaml:"min_lock"`
	Currencies []CurrencyConfig `yaml:"currencies"`
}

// CurrencyConfig is one accepted off-chain currency
type CurrencyConfig struct {
	Symbol           string   `yaml:"symbol"`
	Name             string   `yaml:"name"`
	SettlementWindow Duration `yaml:"settlement_window"`
}

// RolesConfig seeds the roles of a fresh database
type RolesConfig struct {
	Administrator string            `yaml:"administrator"`
	Spare         string            `yaml:"spare"`
	Oracles       map[string]string `yaml:"oracles"`
}

// KafkaConfig enables the ledger event publisher when brokers are set
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RateLimitConfig bounds requests per client
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Service:           "swappool",
		Env:               "dev",
		ListenAddress:     ":8080",
		TokenTTL:          Duration{24 * time.Hour},
		ArchivePath:       "data/archive",
		BroadcastInterval: Duration{5 * time.Second},
		CORSOrigins:       []string{"*"},
		Pool: PoolConfig{
			MinDeposit: 1_000_000,
			MinLock:    Duration{24 * time.Hour},
			Currencies: []CurrencyConfig{
				{Symbol: "BTC", Name: "Bitcoin", SettlementWindow: Duration{time.Hour}},
				{Symbol: "ETH", Name: "Ethereum", SettlementWindow: Duration{30 * time.Minute}},
			},
		},
		Kafka:     KafkaConfig{Topic: "swappool.ledger"},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 50},
	}
}

// Load reads the optional .env file, the YAML file at path (if any) and
// environment overrides, then validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.ListenAddress = getEnv("LISTEN_ADDR", cfg.ListenAddress)
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Kafka.Brokers = getEnvAsSlice("KAFKA_BROKERS", cfg.Kafka.Brokers, ",")
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Pool.MinDeposit = getEnvAsInt64("MIN_DEPOSIT", cfg.Pool.MinDeposit)
}

func (cfg *Config) normalize() {
	cfg.Service = strings.TrimSpace(cfg.Service)
	if cfg.Service == "" {
		cfg.Service = "swappool"
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	brokers := make([]string, 0, len(cfg.Kafka.Brokers))
	for _, b := range cfg.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers
	for i := range cfg.Pool.Currencies {
		c := &cfg.Pool.Currencies[i]
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		if c.Name == "" {
			c.Name = c.Symbol
		}
	}
}

func (cfg *Config) validate() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.TokenTTL.Duration <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if cfg.Pool.MinDeposit <= 0 {
		return fmt.Errorf("pool.min_deposit must be positive")
	}
	if cfg.Pool.MinLock.Duration < 0 {
		return fmt.Errorf("pool.min_lock must not be negative")
	}
	if len(cfg.Pool.Currencies) == 0 {
		return fmt.Errorf("pool.currencies must list at least one currency")
	}
	seen := make(map[string]bool, len(cfg.Pool.Currencies))
	for _, c := range cfg.Pool.Currencies {
		if c.Symbol == "" {
			return fmt.Errorf("pool.currencies: symbol required")
		}
		if seen[c.Symbol] {
			return fmt.Errorf("pool.currencies: duplicate symbol %s", c.Symbol)
		}
		seen[c.Symbol] = true
		if c.SettlementWindow.Duration <= 0 {
			return fmt.Errorf("pool.currencies: %s settlement_window must be positive", c.Symbol)
		}
	}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	if cfg.BroadcastInterval.Duration <= 0 {
		return fmt.Errorf("broadcast_interval must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultVal
	}
	return strings.Split(valStr, sep)
}
