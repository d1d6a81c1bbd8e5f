package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/0xmhha/contract-explorer/internal/constants"
)

// Config holds API server configuration
type Config struct {
	Host string
	Port int

	EnableCORS     bool
	AllowedOrigins []string

	// EnableRateLimit limits requests per client IP
	EnableRateLimit    bool
	RateLimitPerSecond float64
	RateLimitBurst     int

	// APIKeys maps accepted keys to labels; empty disables authentication
	APIKeys map[string]string

	// RequestTimeout bounds one discovery run started by a request
	RequestTimeout time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
}

// DefaultConfig returns the default API configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               constants.DefaultAPIHost,
		Port:               constants.DefaultAPIPort,
		AllowedOrigins:     []string{"*"},
		RateLimitPerSecond: 1,
		RateLimitBurst:     5,
		RequestTimeout:     constants.DefaultWriteTimeout - 5*time.Second,
		ReadTimeout:        constants.DefaultReadTimeout,
		WriteTimeout:       constants.DefaultWriteTimeout,
		IdleTimeout:        constants.DefaultIdleTimeout,
		ShutdownTimeout:    constants.DefaultShutdownTimeout,
		MaxHeaderBytes:     constants.DefaultMaxHeaderBytes,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.EnableRateLimit && c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate limit must be positive when enabled")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	return nil
}

// Address returns the listen address
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
