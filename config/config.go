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
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Providers     ProvidersConfig
	Routing       RoutingConfig
	Discovery     DiscoveryConfig
	Sanitizer     SanitizerConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
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

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
// Persistence is disabled when neither DATABASE_URL nor DB_HOST is set.
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

// EngineConfig holds the settings of one backend engine
type EngineConfig struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// ProvidersConfig holds one entry per supported engine
type ProvidersConfig struct {
	Groq     EngineConfig
	Gemini   EngineConfig
	Claude   EngineConfig
	DeepSeek EngineConfig
	Cerebras EngineConfig
	Mistral  EngineConfig
	OpenAI   EngineConfig
}

// RoutingConfig holds ranker and cascade settings
type RoutingConfig struct {
	AttemptTimeout    time.Duration
	SuccessWeight     float64
	LatencyWeight     float64
	QualityWeight     float64
	ReferenceLatency  time.Duration
	FailureAlpha      float64
	SuccessAlpha      float64
	LatencyAlpha      float64
	NeutralScore      float64
	FlushInterval     time.Duration
	SystemInstruction string
}

// DiscoveryConfig holds candidate discovery settings
type DiscoveryConfig struct {
	Enabled        bool
	Schedule       string
	RunAtStartup   bool
	ProbeTimeout   time.Duration
	HealthCheck    bool
	RefreshTimeout time.Duration
	CandidatesFile string
	Watch          bool
}

// SanitizerConfig holds answer sanitizer settings
type SanitizerConfig struct {
	CanonicalIdentity string
}

// AuthConfig holds bearer token settings. Auth is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// RateLimitConfig holds per-user rate limits. A non-positive rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// AuditConfig holds routing log writer settings
type AuditConfig struct {
	BufferSize  int
	WorkerCount int
	BatchSize   int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
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
		Database:  loadDatabaseConfig(),
		Providers: loadProvidersConfig(),
		Routing: RoutingConfig{
			AttemptTimeout:    getEnvAsDuration("ROUTING_ATTEMPT_TIMEOUT", 20*time.Second),
			SuccessWeight:     getEnvAsFloat("ROUTING_SUCCESS_WEIGHT", 0.8),
			LatencyWeight:     getEnvAsFloat("ROUTING_LATENCY_WEIGHT", 0.1),
			QualityWeight:     getEnvAsFloat("ROUTING_QUALITY_WEIGHT", 0.1),
			ReferenceLatency:  getEnvAsDuration("ROUTING_REFERENCE_LATENCY", time.Second),
			FailureAlpha:      getEnvAsFloat("ROUTING_FAILURE_ALPHA", 0.5),
			SuccessAlpha:      getEnvAsFloat("ROUTING_SUCCESS_ALPHA", 0.1),
			LatencyAlpha:      getEnvAsFloat("ROUTING_LATENCY_ALPHA", 0.2),
			NeutralScore:      getEnvAsFloat("ROUTING_NEUTRAL_SCORE", 0.7),
			FlushInterval:     getEnvAsDuration("ROUTING_FLUSH_INTERVAL", time.Minute),
			SystemInstruction: getEnv("ROUTING_SYSTEM_INSTRUCTION", ""),
		},
		Discovery: DiscoveryConfig{
			Enabled:        getEnvAsBool("DISCOVERY_ENABLED", true),
			Schedule:       getEnv("DISCOVERY_SCHEDULE", "@daily"),
			RunAtStartup:   getEnvAsBool("DISCOVERY_RUN_AT_STARTUP", true),
			ProbeTimeout:   getEnvAsDuration("DISCOVERY_PROBE_TIMEOUT", 5*time.Second),
			HealthCheck:    getEnvAsBool("DISCOVERY_HEALTH_CHECK", false),
			RefreshTimeout: getEnvAsDuration("DISCOVERY_REFRESH_TIMEOUT", 2*time.Minute),
			CandidatesFile: getEnv("CANDIDATES_FILE", ""),
			Watch:          getEnvAsBool("CANDIDATES_WATCH", false),
		},
		Sanitizer: SanitizerConfig{
			CanonicalIdentity: getEnv("SANITIZER_CANONICAL_IDENTITY", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 2),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
			CleanupInterval:   getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("AUDIT_WORKER_COUNT", 5),
			BatchSize:   getEnvAsInt("AUDIT_BATCH_SIZE", 50),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation only applies when persistence is enabled
	if c.Database.Enabled() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth JWT secret is required in production")
		}
		if len(c.Providers.Configured()) == 0 {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
	}

	if c.Discovery.Watch && c.Discovery.CandidatesFile == "" {
		return fmt.Errorf("candidates file is required when watching is enabled")
	}
	if c.Routing.AttemptTimeout <= 0 {
		return fmt.Errorf("routing attempt timeout must be positive")
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

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
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

// All returns every engine's settings keyed by engine name
func (p *ProvidersConfig) All() map[string]EngineConfig {
	return map[string]EngineConfig{
		"Groq":     p.Groq,
		"Gemini":   p.Gemini,
		"Claude":   p.Claude,
		"DeepSeek": p.DeepSeek,
		"Cerebras": p.Cerebras,
		"Mistral":  p.Mistral,
		"OpenAI":   p.OpenAI,
	}
}

// Configured returns the engines that have an API key
func (p *ProvidersConfig) Configured() map[string]EngineConfig {
	out := make(map[string]EngineConfig)
	for engine, ec := range p.All() {
		if strings.TrimSpace(ec.APIKey) != "" {
			out[engine] = ec
		}
	}
	return out
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
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "cascade"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "cascade"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadProvidersConfig reads <ENGINE>_API_KEY, <ENGINE>_BASE_URL and the shared
// PROVIDER_* defaults. Claude reads ANTHROPIC_* variables.
func loadProvidersConfig() ProvidersConfig {
	timeout := getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second)
	maxTokens := getEnvAsInt("PROVIDER_MAX_TOKENS", 2048)
	temperature := getEnvAsFloat("PROVIDER_TEMPERATURE", 0.7)

	load := func(prefix string) EngineConfig {
		return EngineConfig{
			APIKey:      getEnv(prefix+"_API_KEY", ""),
			BaseURL:     getEnv(prefix+"_BASE_URL", ""),
			Timeout:     getEnvAsDuration(prefix+"_TIMEOUT", timeout),
			MaxTokens:   getEnvAsInt(prefix+"_MAX_TOKENS", maxTokens),
			Temperature: temperature,
		}
	}

	return ProvidersConfig{
		Groq:     load("GROQ"),
		Gemini:   load("GEMINI"),
		Claude:   load("ANTHROPIC"),
		DeepSeek: load("DEEPSEEK"),
		Cerebras: load("CEREBRAS"),
		Mistral:  load("MISTRAL"),
		OpenAI:   load("OPENAI"),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
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

// getEnvAsList splits a comma-separated value, dropping blanks
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
