package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/0xmhha/contract-explorer/internal/constants"
	"github.com/0xmhha/contract-explorer/pkg/api"
	"github.com/0xmhha/contract-explorer/pkg/explorer"
	"github.com/0xmhha/contract-explorer/pkg/fetch"
	"github.com/0xmhha/contract-explorer/pkg/ratelimit"
	"github.com/0xmhha/contract-explorer/pkg/retry"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EXPLORER_"

// Config represents the explorer configuration
type Config struct {
	RPC       RPCConfig       `yaml:"rpc"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Retry     RetryConfig     `yaml:"retry"`
	Scan      ScanConfig      `yaml:"scan"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RPCConfig holds node connection configuration
type RPCConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Networks maps a network name to its JSON-RPC endpoint.
	// Entries override the built-in mainnet and sepolia endpoints.
	Networks       map[string]string `yaml:"networks"`
	DefaultNetwork string            `yaml:"default_network"`
}

// RateLimitConfig holds client-side throttling configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
}

// RetryConfig holds retry configuration for throttled calls
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxElapsed  time.Duration `yaml:"max_elapsed"`
}

// ScanConfig holds discovery configuration
type ScanConfig struct {
	TraceBudget    int `yaml:"trace_budget"`
	EventChunkSize int `yaml:"event_chunk_size"`
	// TraceFallback is a pointer so an explicit false in the file survives SetDefaults
	TraceFallback *bool `yaml:"trace_fallback"`
	MaxEventPages int   `yaml:"max_event_pages"`
	MaxPageSize   int   `yaml:"max_page_size"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig holds HTTP server configuration
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	EnableRateLimit    bool    `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`

	// APIKeys maps accepted keys to labels; empty disables authentication
	APIKeys map[string]string `yaml:"api_keys"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector address; empty disables export
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for every field that is still unset
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.Networks == nil {
		c.RPC.Networks = make(map[string]string)
	}
	for name, endpoint := range constants.DefaultNetworkEndpoints {
		if _, ok := c.RPC.Networks[name]; !ok {
			c.RPC.Networks[name] = endpoint
		}
	}
	if c.RPC.DefaultNetwork == "" {
		c.RPC.DefaultNetwork = constants.DefaultNetwork
	}

	// Rate limit defaults
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = constants.DefaultRequestsPerSecond
	}
	if c.RateLimit.MaxConcurrency == 0 {
		c.RateLimit.MaxConcurrency = constants.DefaultMaxConcurrency
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = constants.DefaultRetryMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = constants.DefaultRetryBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = constants.DefaultRetryMaxDelay
	}
	if c.Retry.MaxElapsed == 0 {
		c.Retry.MaxElapsed = constants.DefaultRetryMaxElapsed
	}

	// Scan defaults
	if c.Scan.TraceBudget == 0 {
		c.Scan.TraceBudget = constants.DefaultTraceBudget
	}
	if c.Scan.EventChunkSize == 0 {
		c.Scan.EventChunkSize = constants.DefaultEventChunkSize
	}
	if c.Scan.TraceFallback == nil {
		enabled := true
		c.Scan.TraceFallback = &enabled
	}
	if c.Scan.MaxPageSize == 0 {
		c.Scan.MaxPageSize = constants.DefaultMaxPageSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = 1
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = 5
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "contract-explorer"
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error; variables that are already set are kept.
func LoadDotEnv(filename string) error {
	if filename == "" {
		filename = ".env"
	}
	info, err := os.Stat(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", filename, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s exists but is a directory", filename)
	}
	if err := godotenv.Load(filename); err != nil {
		return fmt.Errorf("failed to load %s: %w", filename, err)
	}
	return nil
}

// LoadFromEnv loads configuration from EXPLORER_* environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if timeout := os.Getenv("EXPLORER_RPC_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = d
	}
	if network := os.Getenv("EXPLORER_NETWORK"); network != "" {
		c.RPC.DefaultNetwork = strings.ToLower(network)
	}
	for name, endpoint := range networkEnv(os.Environ()) {
		if c.RPC.Networks == nil {
			c.RPC.Networks = make(map[string]string)
		}
		c.RPC.Networks[name] = endpoint
	}

	// Rate limit configuration
	if rps := os.Getenv("EXPLORER_RPS"); rps != "" {
		v, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_RPS: %w", err)
		}
		c.RateLimit.RequestsPerSecond = v
	}
	if concurrency := os.Getenv("EXPLORER_MAX_CONCURRENCY"); concurrency != "" {
		v, err := strconv.Atoi(concurrency)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_MAX_CONCURRENCY: %w", err)
		}
		c.RateLimit.MaxConcurrency = v
	}

	// Retry configuration
	if attempts := os.Getenv("EXPLORER_RETRY_MAX_ATTEMPTS"); attempts != "" {
		v, err := strconv.Atoi(attempts)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.MaxAttempts = v
	}
	if elapsed := os.Getenv("EXPLORER_RETRY_MAX_ELAPSED"); elapsed != "" {
		d, err := time.ParseDuration(elapsed)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_RETRY_MAX_ELAPSED: %w", err)
		}
		c.Retry.MaxElapsed = d
	}

	// Scan configuration
	if budget := os.Getenv("EXPLORER_TRACE_BUDGET"); budget != "" {
		v, err := strconv.Atoi(budget)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_TRACE_BUDGET: %w", err)
		}
		c.Scan.TraceBudget = v
	}

	// Log configuration
	if level := os.Getenv("EXPLORER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("EXPLORER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// API configuration
	if host := os.Getenv("EXPLORER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("EXPLORER_API_PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_API_PORT: %w", err)
		}
		c.API.Port = v
	}
	if keys := os.Getenv("EXPLORER_API_KEYS"); keys != "" {
		c.API.APIKeys = parseAPIKeys(keys)
	}
	if cors := os.Getenv("EXPLORER_API_CORS_ENABLED"); cors != "" {
		v, err := strconv.ParseBool(cors)
		if err != nil {
			return fmt.Errorf("invalid EXPLORER_API_CORS_ENABLED: %w", err)
		}
		c.API.EnableCORS = v
	}

	// Telemetry configuration
	if endpoint := os.Getenv("EXPLORER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.OTLPEndpoint = endpoint
	}

	return nil
}

// parseAPIKeys reads "label:key,key2" lists; a key without a label is its own label
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if label, key, ok := strings.Cut(item, ":"); ok && key != "" {
			keys[key] = label
			continue
		}
		keys[item] = item
	}
	return keys
}

// rpcEnvSettings are EXPLORER_RPC_* variables that are settings rather than network endpoints
var rpcEnvSettings = map[string]bool{
	"TIMEOUT": true,
}

// networkEnv extracts EXPLORER_RPC_<NETWORK>=<endpoint> pairs from environ
func networkEnv(environ []string) map[string]string {
	const prefix = EnvPrefix + "RPC_"
	out := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.TrimPrefix(key, prefix)
		if name == "" || rpcEnvSettings[name] {
			continue
		}
		out[strings.ToLower(name)] = value
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if len(c.RPC.Networks) == 0 {
		return fmt.Errorf("at least one network endpoint is required")
	}
	for name, endpoint := range c.RPC.Networks {
		if endpoint == "" {
			return fmt.Errorf("endpoint for network %q is empty", name)
		}
	}
	if _, ok := c.RPC.Networks[c.RPC.DefaultNetwork]; !ok {
		return fmt.Errorf("default network %q has no endpoint", c.RPC.DefaultNetwork)
	}

	// Validate rate limit configuration
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.RateLimit.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency cannot be negative")
	}

	// Validate retry configuration
	retryCfg := c.retryConfig()
	if err := retryCfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}

	// Validate scan configuration
	if c.Scan.TraceBudget < 0 {
		return fmt.Errorf("trace budget cannot be negative")
	}
	if c.Scan.EventChunkSize <= 0 {
		return fmt.Errorf("event chunk size must be positive")
	}
	if c.Scan.MaxEventPages < 0 {
		return fmt.Errorf("max event pages cannot be negative")
	}
	if c.Scan.MaxPageSize <= 0 {
		return fmt.Errorf("max page size must be positive")
	}

	// Validate log configuration
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	// Validate API configuration
	if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
		return fmt.Errorf("invalid API port: %d", c.API.Port)
	}
	if c.API.EnableRateLimit && c.API.RateLimitPerSecond <= 0 {
		return fmt.Errorf("API rate limit must be positive when enabled")
	}

	return nil
}

func (c *Config) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		MaxElapsed:  c.Retry.MaxElapsed,
	}
}

// ExplorerConfig converts the file configuration into the explorer service configuration
func (c *Config) ExplorerConfig() explorer.Config {
	networks := make(map[string]string, len(c.RPC.Networks))
	for name, endpoint := range c.RPC.Networks {
		networks[name] = endpoint
	}
	traceFallback := true
	if c.Scan.TraceFallback != nil {
		traceFallback = *c.Scan.TraceFallback
	}
	return explorer.Config{
		Networks:       networks,
		DefaultNetwork: c.RPC.DefaultNetwork,
		RPCTimeout:     c.RPC.Timeout,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			MaxConcurrency:    c.RateLimit.MaxConcurrency,
		},
		Retry: c.retryConfig(),
		Fetch: fetch.Config{
			EventChunkSize: c.Scan.EventChunkSize,
			TraceBudget:    c.Scan.TraceBudget,
			TraceFallback:  traceFallback,
			MaxEventPages:  c.Scan.MaxEventPages,
		},
		MaxPageSize: c.Scan.MaxPageSize,
	}
}

// ServerConfig converts the API section into the HTTP server configuration
func (c *Config) ServerConfig() *api.Config {
	cfg := api.DefaultConfig()
	cfg.Host = c.API.Host
	cfg.Port = c.API.Port
	cfg.EnableCORS = c.API.EnableCORS
	cfg.AllowedOrigins = c.API.AllowedOrigins
	cfg.EnableRateLimit = c.API.EnableRateLimit
	cfg.RateLimitPerSecond = c.API.RateLimitPerSecond
	cfg.RateLimitBurst = c.API.RateLimitBurst
	cfg.APIKeys = c.API.APIKeys
	if c.API.RequestTimeout > 0 {
		cfg.RequestTimeout = c.API.RequestTimeout
	}
	return cfg
}

// Load loads configuration from file, .env and environment variables
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := LoadDotEnv(""); err != nil {
		return nil, err
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
