package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestNewWithConfig tests logger creation with custom config
func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "console development config",
			config:  &Config{Level: "debug", Development: true, Encoding: "console"},
			wantErr: false,
		},
		{
			name:    "json production config",
			config:  &Config{Level: "info", Encoding: "json"},
			wantErr: false,
		},
		{
			name:    "defaults applied",
			config:  &Config{},
			wantErr: false,
		},
		{
			name:    "invalid level",
			config:  &Config{Level: "loud"},
			wantErr: true,
		},
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewWithConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("NewWithConfig() returned nil logger")
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New("warn", "console")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestContextLogger(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should fall back to a no-op logger")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	FromContext(ctx).Info("hello")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
}

func TestWithComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithComponent(zap.New(core), "scheduler").Info("tick")

	entry := logs.All()[0]
	if got := entry.ContextMap()["component"]; got != "scheduler" {
		t.Errorf("component field = %v, want scheduler", got)
	}
}

func TestEmit_WritesLoggerAndSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var collector Collector
	ctx := WithSink(context.Background(), collector.Sink())

	Emit(ctx, zap.New(core), LevelWarn, "slow down", zap.Int("attempt", 1))
	Emit(ctx, zap.New(core), LevelError, "gave up")
	Emit(ctx, zap.New(core), LevelInfo, "fine")

	if logs.FilterLevelExact(zapcore.WarnLevel).Len() != 1 {
		t.Error("expected one warn entry in zap")
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Error("expected one error entry in zap")
	}

	events := collector.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 sink events, got %d", len(events))
	}
	if events[0] != (Event{Level: LevelWarn, Message: "slow down"}) {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if collector.Count(LevelError) != 1 {
		t.Errorf("expected 1 error event, got %d", collector.Count(LevelError))
	}
}

func TestEmit_NoSinkNoLogger(t *testing.T) {
	// must not panic
	Emit(context.Background(), nil, LevelInfo, "nobody listens")

	if WithSink(context.Background(), nil) != context.Background() {
		t.Error("nil sink should leave the context unchanged")
	}
	if SinkFromContext(context.Background()) != nil {
		t.Error("expected no sink")
	}
}
