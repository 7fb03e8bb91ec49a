package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/EcommerceGo/pkg/database"

var slowCommandCfg struct {
	mu        sync.RWMutex
	threshold time.Duration
	logger    *slog.Logger
}

// SetSlowCommandLogging configures slow command detection. Commands exceeding
// the threshold are logged as warnings with the command and key. A zero
// threshold disables it.
func SetSlowCommandLogging(threshold time.Duration, logger *slog.Logger) {
	slowCommandCfg.mu.Lock()
	defer slowCommandCfg.mu.Unlock()
	slowCommandCfg.threshold = threshold
	slowCommandCfg.logger = logger
}

func getSlowCommandConfig() (time.Duration, *slog.Logger) {
	slowCommandCfg.mu.RLock()
	defer slowCommandCfg.mu.RUnlock()
	return slowCommandCfg.threshold, slowCommandCfg.logger
}

// TraceCommand starts a span for a Redis operation. The returned function
// must be called when the operation completes:
//
//	ctx, end := database.TraceCommand(ctx, "get", "cart:snapshot:abc")
//	defer func() { end(err) }()
func TraceCommand(ctx context.Context, operation, key string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", operation),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("db.redis.key", key))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if threshold, logger := getSlowCommandConfig(); threshold > 0 && logger != nil {
			if elapsed := time.Since(start); elapsed >= threshold {
				fields := []any{
					slog.String("operation", operation),
					slog.String("key", key),
					slog.Duration("duration", elapsed),
				}
				if err != nil {
					fields = append(fields, slog.String("error", err.Error()))
				}
				logger.WarnContext(ctx, "slow redis command detected", fields...)
			}
		}
	}
}

type tracingHook struct{}

// NewTracingHook returns a go-redis hook that wraps every command and
// pipeline in a TraceCommand span. A cache miss (redis.Nil) is not an error.
func NewTracingHook() redis.Hook {
	return tracingHook{}
}

func (tracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (tracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		ctx, end := TraceCommand(ctx, cmd.Name(), commandKey(cmd))
		err := next(ctx, cmd)
		end(ignoreNil(err))
		return err
	}
}

func (tracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
		}
		ctx, end := TraceCommand(ctx, "pipeline", strings.Join(names, " "))
		err := next(ctx, cmds)
		end(ignoreNil(err))
		return err
	}
}

// commandKey returns the first argument after the command name. Values are
// never recorded.
func commandKey(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return ""
	}
	return fmt.Sprint(args[1])
}

func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
