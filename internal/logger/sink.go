package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Level is the severity of an operator-visible event
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is what a Sink receives
type Event struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Sink receives operator-visible events for a single discovery run.
// It is called on the goroutine that runs the query and must not be used for control flow.
type Sink func(Event)

// WithSink attaches a sink to the context. A nil sink leaves the context unchanged.
func WithSink(ctx context.Context, sink Sink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, sinkKey, sink)
}

// SinkFromContext returns the sink attached to ctx, or nil
func SinkFromContext(ctx context.Context) Sink {
	if ctx == nil {
		return nil
	}
	sink, _ := ctx.Value(sinkKey).(Sink)
	return sink
}

// Emit writes msg to the zap logger at the given level and forwards it to the sink in ctx, if any.
// Fields only go to zap; the sink gets the plain message.
func Emit(ctx context.Context, log *zap.Logger, level Level, msg string, fields ...zap.Field) {
	if log != nil {
		switch level {
		case LevelWarn:
			log.Warn(msg, fields...)
		case LevelError:
			log.Error(msg, fields...)
		default:
			log.Info(msg, fields...)
		}
	}
	if sink := SinkFromContext(ctx); sink != nil {
		sink(Event{Level: level, Message: msg})
	}
}

// Collector is a goroutine-safe Sink target that keeps every event it receives
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Sink returns a Sink appending to the collector
func (c *Collector) Sink() Sink {
	return func(e Event) {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	}
}

// Events returns a copy of the collected events
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many collected events have the given level
func (c *Collector) Count(level Level) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Level == level {
			n++
		}
	}
	return n
}
