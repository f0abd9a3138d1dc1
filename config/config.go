package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseConfig  DatabaseConfig  `json:"database"`
	ServerConfig    ServerConfig    `json:"server"`
	QuotesConfig    QuotesConfig    `json:"quotes"`
	ExchangeConfig  ExchangeConfig  `json:"exchange"`
	AIConfig        AIConfig        `json:"ai"`
	SentimentConfig SentimentConfig `json:"sentiment"`
	FillSyncConfig  FillSyncConfig  `json:"fill_sync"`
	TradesConfig    TradesConfig    `json:"trades"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ProductionMode  bool   `json:"production_mode"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// QuotesConfig holds the market-data provider settings
type QuotesConfig struct {
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	Timeout        time.Duration `json:"timeout"`
	RateLimit      int           `json:"rate_limit"`      // Requests per window
	RatePer        time.Duration `json:"rate_per"`        // Window length
	RateBurst      int           `json:"rate_burst"`      // Burst allowance
	MaxConsecutive int           `json:"max_consecutive"` // Requests before a forced pause
	PauseDuration  time.Duration `json:"pause_duration"`  // Forced pause length
	AcquireTimeout time.Duration `json:"acquire_timeout"` // Max wait for a rate-limit slot
}

// ExchangeConfig holds the perpetuals exchange API settings
type ExchangeConfig struct {
	BaseURL  string        `json:"base_url"`
	Timeout  time.Duration `json:"timeout"`
	Accounts []Account     `json:"accounts"`
}

// Account identifies one exchange account to sync fills for
type Account struct {
	Type   string `json:"type"`
	Wallet string `json:"wallet"`
}

// AIConfig holds LLM client configuration
type AIConfig struct {
	Provider    string        `json:"provider"` // "claude" or "openai"
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// SentimentConfig holds the macro sentiment engine settings
type SentimentConfig struct {
	ScanIntervalHours     float64       `json:"scan_interval_hours"`
	AnalysisIntervalHours float64       `json:"analysis_interval_hours"`
	DebounceWindow        time.Duration `json:"debounce_window"`
	BootstrapDays         int           `json:"bootstrap_days"`
	BootstrapTarget       int           `json:"bootstrap_target"` // Minimum points for a complete bootstrap
	SnapshotRetries       int           `json:"snapshot_retries"` // Validation retries per ingest
	RenderTimeout         time.Duration `json:"render_timeout"`   // Hard cap per chart batch
}

// FillSyncConfig holds the exchange fill-sync settings
type FillSyncConfig struct {
	Enabled         bool          `json:"enabled"`
	Interval        time.Duration `json:"interval"`
	Overlap         time.Duration `json:"overlap"`          // Re-fetch margin before last success
	InitialLookback time.Duration `json:"initial_lookback"` // First-sync window
}

// TradesConfig holds the trade lifecycle engine settings
type TradesConfig struct {
	GracePeriod    time.Duration `json:"grace_period"`     // No exit checks right after creation
	AnalysisMaxAge time.Duration `json:"analysis_max_age"` // Age limit for historical analysis context
	OrphanMode     string        `json:"orphan_mode"`      // "close" or "recreate"
	CheckInterval  time.Duration `json:"check_interval"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// RedisConfig holds Redis configuration for the status cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for API keys
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "trading_analytics")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "trading_analytics")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30)

	// Quotes provider config
	cfg.QuotesConfig.BaseURL = getEnvOrDefault("QUOTES_BASE_URL", "https://pro-api.coinmarketcap.com")
	cfg.QuotesConfig.APIKey = getEnvOrDefault("QUOTES_API_KEY", cfg.QuotesConfig.APIKey)
	cfg.QuotesConfig.Timeout = getEnvDurationOrDefault("QUOTES_TIMEOUT", 10*time.Second)
	cfg.QuotesConfig.RateLimit = getEnvIntOrDefault("QUOTES_RATE_LIMIT", 30)
	cfg.QuotesConfig.RatePer = getEnvDurationOrDefault("QUOTES_RATE_PER", time.Minute)
	cfg.QuotesConfig.RateBurst = getEnvIntOrDefault("QUOTES_RATE_BURST", 5)
	cfg.QuotesConfig.MaxConsecutive = getEnvIntOrDefault("QUOTES_MAX_CONSECUTIVE", 10)
	cfg.QuotesConfig.PauseDuration = getEnvDurationOrDefault("QUOTES_PAUSE", 5*time.Second)
	cfg.QuotesConfig.AcquireTimeout = getEnvDurationOrDefault("QUOTES_ACQUIRE_TIMEOUT", 30*time.Second)

	// Exchange config
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", "https://api.hyperliquid.xyz")
	cfg.ExchangeConfig.Timeout = getEnvDurationOrDefault("EXCHANGE_TIMEOUT", 30*time.Second)
	if accounts := parseAccounts(os.Getenv("EXCHANGE_ACCOUNTS")); len(accounts) > 0 {
		cfg.ExchangeConfig.Accounts = accounts
	}

	// AI config
	cfg.AIConfig.Provider = getEnvOrDefault("AI_PROVIDER", "claude")
	cfg.AIConfig.APIKey = getEnvOrDefault("AI_API_KEY", cfg.AIConfig.APIKey)
	cfg.AIConfig.Model = getEnvOrDefault("AI_MODEL", "claude-sonnet-4-20250514")
	cfg.AIConfig.MaxTokens = getEnvIntOrDefault("AI_MAX_TOKENS", 4096)
	cfg.AIConfig.Temperature = getEnvFloatOrDefault("AI_TEMPERATURE", 0.3)
	cfg.AIConfig.Timeout = getEnvDurationOrDefault("AI_TIMEOUT", 120*time.Second)

	// Sentiment engine config
	cfg.SentimentConfig.ScanIntervalHours = getEnvFloatOrDefault("SENTIMENT_SCAN_INTERVAL_HOURS", 4)
	cfg.SentimentConfig.AnalysisIntervalHours = getEnvFloatOrDefault("SENTIMENT_ANALYSIS_INTERVAL_HOURS", 4)
	cfg.SentimentConfig.DebounceWindow = getEnvDurationOrDefault("SENTIMENT_DEBOUNCE_WINDOW", 30*time.Second)
	cfg.SentimentConfig.BootstrapDays = getEnvIntOrDefault("SENTIMENT_BOOTSTRAP_DAYS", 90)
	cfg.SentimentConfig.BootstrapTarget = getEnvIntOrDefault("SENTIMENT_BOOTSTRAP_TARGET", 80)
	cfg.SentimentConfig.SnapshotRetries = getEnvIntOrDefault("SENTIMENT_SNAPSHOT_RETRIES", 3)
	cfg.SentimentConfig.RenderTimeout = getEnvDurationOrDefault("SENTIMENT_RENDER_TIMEOUT", 30*time.Second)

	// Fill-sync config
	cfg.FillSyncConfig.Enabled = getEnvOrDefault("FILL_SYNC_ENABLED", "true") == "true"
	cfg.FillSyncConfig.Interval = getEnvDurationOrDefault("FILL_SYNC_INTERVAL", 5*time.Minute)
	cfg.FillSyncConfig.Overlap = getEnvDurationOrDefault("FILL_SYNC_OVERLAP", 5*time.Minute)
	cfg.FillSyncConfig.InitialLookback = getEnvDurationOrDefault("FILL_SYNC_INITIAL_LOOKBACK", 365*24*time.Hour)

	// Trade lifecycle config
	cfg.TradesConfig.GracePeriod = getEnvDurationOrDefault("TRADES_GRACE_PERIOD", 5*time.Minute)
	cfg.TradesConfig.AnalysisMaxAge = getEnvDurationOrDefault("TRADES_ANALYSIS_MAX_AGE", 48*time.Hour)
	cfg.TradesConfig.OrphanMode = getEnvOrDefault("TRADES_ORPHAN_MODE", "close")
	cfg.TradesConfig.CheckInterval = getEnvDurationOrDefault("TRADES_CHECK_INTERVAL", time.Minute)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "trading-analytics/api-keys")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)
}

// parseAccounts parses "type:wallet,type:wallet" into Account entries
func parseAccounts(raw string) []Account {
	if raw == "" {
		return nil
	}
	var accounts []Account
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			continue
		}
		accounts = append(accounts, Account{
			Type:   strings.TrimSpace(fields[0]),
			Wallet: strings.TrimSpace(fields[1]),
		})
	}
	return accounts
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
