package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout.
	// Discovery runs are slow under throttling, so this is well above the read timeout.
	DefaultWriteTimeout = 2 * time.Minute

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20
)

// RPC Constants
const (
	// DefaultRPCTimeout is the default timeout for a single node request
	DefaultRPCTimeout = 30 * time.Second

	// DefaultRequestsPerSecond is the default client-side call rate against a node
	DefaultRequestsPerSecond = 5.0

	// MinRequestsPerSecond is the lowest accepted call rate
	MinRequestsPerSecond = 0.1

	// DefaultMaxConcurrency is the default number of node calls in flight
	DefaultMaxConcurrency = 4
)

// Retry Constants
const (
	// DefaultRetryMaxAttempts is the default number of attempts for a throttled call
	DefaultRetryMaxAttempts = 5

	// DefaultRetryBaseDelay is the first backoff delay
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps a single backoff delay
	DefaultRetryMaxDelay = 10 * time.Second

	// DefaultRetryMaxElapsed is the total time a call may spend waiting on retries
	DefaultRetryMaxElapsed = 60 * time.Second
)

// Scan Constants
const (
	// DefaultTraceBudget is the default number of block and trace lookups per run
	DefaultTraceBudget = 200

	// DefaultEventChunkSize is the default number of events requested per page
	DefaultEventChunkSize = 100

	// DefaultPageSize is the page size used when a query does not set one
	DefaultPageSize = 20

	// DefaultMaxPageSize is the largest accepted page size
	DefaultMaxPageSize = 100
)

// Metrics Constants
const (
	// MetricsNamespace is the Prometheus namespace for every collector
	MetricsNamespace = "explorer"
)
