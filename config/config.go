package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
)

// Provider kinds understood by the adapter factory
const (
	KindOpenAI    = "openai"
	KindGemini    = "gemini"
	KindAnthropic = "anthropic"
)

// UnlimitedDailyLimit disables the daily quota for a provider
const UnlimitedDailyLimit = -1

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Orchestrator  OrchestratorConfig
	Store         StoreConfig
	Providers     []ProviderConfig
	ProvidersFile string
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// AuthConfig holds the challenge/response signing settings
type AuthConfig struct {
	SharedSecret        string
	ChallengeTTL        time.Duration
	DriftWindow         time.Duration
	ChallengesPerMinute int
	ChallengeBurst      int
}

// OrchestratorConfig holds circuit breaker and response cache tuning
type OrchestratorConfig struct {
	CircuitThreshold int
	CircuitCooldown  time.Duration
	CacheTTL         time.Duration
	CacheMaxEntries  int
}

// StoreConfig selects and configures the key-value backend
type StoreConfig struct {
	Backend    string
	Database   DatabaseConfig
	Redis      RedisConfig
	SQLitePath string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// ProviderConfig describes one upstream LLM provider
type ProviderConfig struct {
	Name             string        `yaml:"name"`
	Kind             string        `yaml:"kind"`
	Priority         int           `yaml:"priority"`
	DailyLimit       int64         `yaml:"daily_limit"`
	SpecializesIn    []string      `yaml:"specializes_in"`
	FallbackEligible *bool         `yaml:"fallback_eligible"`
	Model            string        `yaml:"model"`
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
}

// IsFallbackEligible reports whether the provider may serve as a fallback.
// Unset means eligible.
func (p ProviderConfig) IsFallbackEligible() bool {
	return p.FallbackEligible == nil || *p.FallbackEligible
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Auth: AuthConfig{
			SharedSecret:        getEnv("AUTH_SHARED_SECRET", ""),
			ChallengeTTL:        getEnvAsDuration("CHALLENGE_TTL", 60*time.Second),
			DriftWindow:         getEnvAsDuration("CHALLENGE_DRIFT", 30*time.Second),
			ChallengesPerMinute: getEnvAsInt("CHALLENGE_RATE_PER_MINUTE", 60),
			ChallengeBurst:      getEnvAsInt("CHALLENGE_BURST", 10),
		},
		Orchestrator: OrchestratorConfig{
			CircuitThreshold: getEnvAsInt("CIRCUIT_THRESHOLD", 5),
			CircuitCooldown:  getEnvAsDuration("CIRCUIT_COOLDOWN", 60*time.Second),
			CacheTTL:         getEnvAsDuration("CACHE_TTL", 5*time.Second),
			CacheMaxEntries:  getEnvAsInt("CACHE_MAX_ENTRIES", 100),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getEnv("KV_BACKEND", StoreMemory)),
			Database: loadDatabaseConfig(),
			Redis: RedisConfig{
				Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
				Password:  getEnv("REDIS_PASSWORD", ""),
				DB:        getEnvAsInt("REDIS_DB", 0),
				KeyPrefix: getEnv("REDIS_KEY_PREFIX", "omnichat:"),
			},
			SQLitePath: getEnv("SQLITE_PATH", "omnichat.db"),
		},
		ProvidersFile: getEnv("PROVIDERS_FILE", ""),
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.ProvidersFile != "" {
		providers, err := LoadProviders(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		cfg.Providers = providers
	} else {
		cfg.Providers = loadProvidersFromEnv()
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadProviders reads the provider registry from a YAML file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var file providersFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	for i := range file.Providers {
		if file.Providers[i].Timeout == 0 {
			file.Providers[i].Timeout = 30 * time.Second
		}
	}
	return file.Providers, nil
}

// loadProvidersFromEnv registers each vendor whose credentials are present
func loadProvidersFromEnv() []ProviderConfig {
	timeout := getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second)
	var out []ProviderConfig

	if key := getEnv("GROQ_API_KEY", ""); key != "" {
		out = append(out, ProviderConfig{
			Name:       "groq",
			Kind:       KindOpenAI,
			Priority:   getEnvAsInt("GROQ_PRIORITY", 1),
			DailyLimit: int64(getEnvAsInt("GROQ_DAILY_LIMIT", 14400)),
			Model:      getEnv("GROQ_MODEL", "llama-3.1-8b-instant"),
			BaseURL:    getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKey:     key,
			Timeout:    timeout,
		})
	}
	if key := getEnv("GEMINI_API_KEY", ""); key != "" {
		out = append(out, ProviderConfig{
			Name:       "gemini",
			Kind:       KindGemini,
			Priority:   getEnvAsInt("GEMINI_PRIORITY", 2),
			DailyLimit: int64(getEnvAsInt("GEMINI_DAILY_LIMIT", 1500)),
			Model:      getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			BaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			APIKey:     key,
			Timeout:    timeout,
		})
	}
	if base := getEnv("QWEN_BASE_URL", ""); base != "" {
		out = append(out, ProviderConfig{
			Name:          "qwen",
			Kind:          KindOpenAI,
			Priority:      getEnvAsInt("QWEN_PRIORITY", 3),
			DailyLimit:    int64(getEnvAsInt("QWEN_DAILY_LIMIT", 1000)),
			SpecializesIn: []string{"code"},
			Model:         getEnv("QWEN_MODEL", "qwen2.5:7b"),
			BaseURL:       base,
			APIKey:        getEnv("QWEN_API_KEY", ""),
			Timeout:       timeout,
		})
	}
	if key := getEnv("CLAUDE_API_KEY", ""); key != "" {
		out = append(out, ProviderConfig{
			Name:       "claude",
			Kind:       KindAnthropic,
			Priority:   getEnvAsInt("CLAUDE_PRIORITY", 4),
			DailyLimit: int64(getEnvAsInt("CLAUDE_DAILY_LIMIT", 100)),
			Model:      getEnv("CLAUDE_MODEL", "claude-3-haiku-20240307"),
			BaseURL:    getEnv("CLAUDE_BASE_URL", "https://api.anthropic.com"),
			APIKey:     key,
			Timeout:    timeout,
		})
	}
	return out
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Auth.SharedSecret == "" {
		return fmt.Errorf("auth shared secret is required: set AUTH_SHARED_SECRET")
	}
	if c.Auth.ChallengeTTL <= 0 {
		return fmt.Errorf("challenge TTL must be positive")
	}
	if c.Auth.DriftWindow <= 0 || c.Auth.DriftWindow >= c.Auth.ChallengeTTL {
		return fmt.Errorf("challenge drift window must be positive and shorter than the challenge TTL")
	}

	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case StorePostgres:
		db := c.Store.Database
		if db.ConnectionString == "" && db.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if db.ConnectionString == "" {
			if db.User == "" {
				return fmt.Errorf("database user is required")
			}
			if db.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	default:
		return fmt.Errorf("unknown KV backend %q", c.Store.Backend)
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true

		switch p.Kind {
		case KindOpenAI, KindGemini, KindAnthropic:
		default:
			return fmt.Errorf("providers[%d] (%s): invalid kind %q", i, p.Name, p.Kind)
		}
		switch {
		case p.DailyLimit == 0:
			return fmt.Errorf("providers[%d] (%s): daily_limit is required, use %d for unlimited", i, p.Name, UnlimitedDailyLimit)
		case p.DailyLimit < UnlimitedDailyLimit:
			return fmt.Errorf("providers[%d] (%s): daily_limit must be positive or %d for unlimited", i, p.Name, UnlimitedDailyLimit)
		}
	}

	if c.IsProduction() && len(c.Providers) == 0 {
		return fmt.Errorf("at least one LLM provider must be configured in production")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "omnichat"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "omnichat"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
