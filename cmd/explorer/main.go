package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/config"
	"github.com/0xmhha/contract-explorer/internal/constants"
	"github.com/0xmhha/contract-explorer/internal/logger"
	"github.com/0xmhha/contract-explorer/internal/telemetry"
	"github.com/0xmhha/contract-explorer/pkg/api"
	"github.com/0xmhha/contract-explorer/pkg/explorer"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// queryFlags are the one-shot query flags
type queryFlags struct {
	network  string
	address  string
	from     string
	to       string
	page     int
	pageSize int
	kind     string
	method   string
	status   string
	minFee   string
	maxFee   string
	budget   int
}

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		serve       = flag.Bool("serve", false, "Run the HTTP API instead of a one-shot query")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")

		qf queryFlags
	)
	flag.StringVar(&qf.network, "network", "", "Network name (default from config)")
	flag.StringVar(&qf.address, "address", "", "Contract address to inspect")
	flag.StringVar(&qf.from, "from", "", "Range start, unix seconds (inclusive)")
	flag.StringVar(&qf.to, "to", "", "Range end, unix seconds (inclusive)")
	flag.IntVar(&qf.page, "page", 1, "Page number, 1-based")
	flag.IntVar(&qf.pageSize, "page-size", constants.DefaultPageSize, "Rows per page")
	flag.StringVar(&qf.kind, "kind", "", "Filter by transaction kind (INVOKE, DECLARE, DEPLOY, L1_HANDLER)")
	flag.StringVar(&qf.method, "method", "", "Filter by entrypoint name")
	flag.StringVar(&qf.status, "status", "", "Filter by status (ACCEPTED, REJECTED)")
	flag.StringVar(&qf.minFee, "min-fee", "", "Minimum fee, decimal or 0x hex")
	flag.StringVar(&qf.maxFee, "max-fee", "", "Maximum fee, decimal or 0x hex")
	flag.IntVar(&qf.budget, "trace-budget", 0, "Override the trace lookup budget for this query")

	flag.Parse()

	if *showVersion {
		fmt.Printf("contract-explorer version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	api.Version = version
	if err := run(cfg, log, *serve, qf); err != nil {
		log.Error("Explorer stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

// run wires tracing, metrics and the explorer, then serves or runs one query
func run(cfg *config.Config, log *zap.Logger, serve bool, qf queryFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := explorer.New(cfg.ExplorerConfig(), log, reg)
	if err != nil {
		return fmt.Errorf("failed to create explorer: %w", err)
	}
	defer svc.Close()

	log.Info("Starting contract explorer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("serve", serve),
	)

	if serve {
		return runServer(ctx, cfg.ServerConfig(), log, svc, reg)
	}
	return runQuery(ctx, svc, qf, os.Stdout)
}

// runQuery runs one discovery and writes the result as indented JSON
func runQuery(ctx context.Context, svc api.Explorer, qf queryFlags, out io.Writer) error {
	q, err := buildQuery(qf)
	if err != nil {
		return err
	}

	var events logger.Collector
	q.Sink = events.Sink()

	result, err := svc.Discover(ctx, q)
	if err != nil {
		return err
	}

	collected := events.Events()
	if collected == nil {
		collected = []logger.Event{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(api.InteractionsResponse{Result: result, Events: collected})
}

// runServer serves the API until ctx is cancelled, then shuts down gracefully
func runServer(ctx context.Context, cfg *api.Config, log *zap.Logger, svc api.Explorer, reg *prometheus.Registry) error {
	server, err := api.NewServer(cfg, log, svc, reg)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-errChan:
		return err
	}

	if err := server.Stop(context.Background()); err != nil {
		return fmt.Errorf("failed to stop API server gracefully: %w", err)
	}
	log.Info("Explorer stopped")
	return nil
}

// buildQuery turns the query flags into a discovery query.
// Semantic checks such as page bounds and range order are left to the explorer.
func buildQuery(qf queryFlags) (types.Query, error) {
	if qf.address == "" {
		return types.Query{}, errors.New("-address is required")
	}
	q := types.Query{
		Address:     qf.address,
		Network:     qf.network,
		Page:        qf.page,
		PageSize:    qf.pageSize,
		TraceBudget: qf.budget,
	}

	var err error
	if q.From, err = parseTime(qf.from); err != nil {
		return q, fmt.Errorf("invalid -from: %w", err)
	}
	if q.To, err = parseTime(qf.to); err != nil {
		return q, fmt.Errorf("invalid -to: %w", err)
	}

	if qf.kind != "" {
		kind, ok := types.ParseKind(qf.kind)
		if !ok {
			return q, fmt.Errorf("invalid -kind %q", qf.kind)
		}
		q.Filters.Kind = kind
	}
	q.Filters.Method = qf.method
	if qf.status != "" {
		status, ok := types.ParseStatus(qf.status)
		if !ok {
			return q, fmt.Errorf("invalid -status %q", qf.status)
		}
		q.Filters.Status = status
	}
	if qf.minFee != "" {
		if q.Filters.MinFee, err = types.ParseFee(qf.minFee); err != nil {
			return q, err
		}
	}
	if qf.maxFee != "" {
		if q.Filters.MaxFee, err = types.ParseFee(qf.maxFee); err != nil {
			return q, err
		}
	}
	return q, nil
}

// parseTime accepts unix seconds or an RFC 3339 timestamp; empty means unbounded
func parseTime(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &secs, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%q is neither unix seconds nor RFC 3339", raw)
	}
	secs := t.Unix()
	return &secs, nil
}
