// Package logger: обёртка над zap с полями корреляции из контекста.
package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config: уровень ("debug", "info", "warn", "error"; пусто = info) и формат:
// DevMode пишет цветной текст, иначе JSON с семплингом.
type Config struct {
	Level   string
	DevMode bool
}

// Logger: *zap.Logger с методами проекта.
type Logger struct {
	z *zap.Logger
}

// New собирает core руками: stderr, ISO8601, короткий caller.
func New(cfg Config) (*Logger, error) {
	lvl := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logger: level %q: %w", cfg.Level, err)
		}
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var core zapcore.Core
	if cfg.DevMode {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), lvl)
	} else {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stderr), lvl)
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100) // 100 одинаковых/с, далее каждая 100-я
	}

	return &Logger{z: zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)}, nil
}

// FromZap: для тестов с observer-ядром.
func FromZap(z *zap.Logger) *Logger { return &Logger{z: z} }

// Nop ничего не пишет.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) Named(name string) *Logger        { return &Logger{z: l.z.Named(name)} }
func (l *Logger) With(fields ...zap.Field) *Logger { return &Logger{z: l.z.With(fields...)} }
func (l *Logger) Debug(msg string, f ...zap.Field) { l.z.Debug(msg, f...) }
func (l *Logger) Info(msg string, f ...zap.Field)  { l.z.Info(msg, f...) }
func (l *Logger) Warn(msg string, f ...zap.Field)  { l.z.Warn(msg, f...) }
func (l *Logger) Error(msg string, f ...zap.Field) { l.z.Error(msg, f...) }

// Sync: перед выходом из main; ошибка sync для stderr не интересна.
func (l *Logger) Sync() { _ = l.z.Sync() }

// WithContext добавляет trace_id/request_id, если они есть в ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ---------------------------------------------------------------------------
// корреляция
// ---------------------------------------------------------------------------

type ctxKey struct{}

type correlation struct {
	traceID   string
	requestID string
}

func fromCtx(ctx context.Context) correlation {
	c, _ := ctx.Value(ctxKey{}).(correlation)
	return c
}

// ContextWithTraceID кладёт trace-ID, сохраняя request-ID.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	c := fromCtx(ctx)
	c.traceID = id
	return context.WithValue(ctx, ctxKey{}, c)
}

// ContextWithRequestID кладёт request-ID, сохраняя trace-ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	c := fromCtx(ctx)
	c.requestID = id
	return context.WithValue(ctx, ctxKey{}, c)
}

// RequestIDFromContext: request-ID, выставленный HTTP-middleware.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id := fromCtx(ctx).requestID
	return id, id != ""
}

// Fields: поля корреляции для ручной передачи в zap.
func Fields(ctx context.Context) []zap.Field {
	c := fromCtx(ctx)
	var out []zap.Field
	if c.traceID != "" {
		out = append(out, zap.String("trace_id", c.traceID))
	}
	if c.requestID != "" {
		out = append(out, zap.String("request_id", c.requestID))
	}
	return out
}
