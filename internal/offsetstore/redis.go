package offsetstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/backoff"
	"github.com/YaganovValera/iggy-clients/common/logger"
)

var tracer = otel.Tracer("offsetstore")

// RedisConfig хранит параметры подключения к Redis.
type RedisConfig struct {
	URL       string // e.g. "redis://host:6379/0"
	KeyPrefix string // default: "iggy:offsets"
	Timeout   time.Duration
	Backoff   backoff.Config
}

func (c *RedisConfig) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "iggy:offsets"
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

func (c RedisConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("offsetstore redis: URL required")
	}
	return nil
}

// Redis: Store поверх go-redis: один строковый ключ на курсор.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	log     *logger.Logger
}

// NewRedis подключается к Redis с ретраями.
func NewRedis(ctx context.Context, cfg RedisConfig, log *logger.Logger) (*Redis, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("offsets-redis")

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("offsetstore redis: parse URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctxConn, span := tracer.Start(ctx, "Redis.Connect")
	op := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := backoff.Execute(ctxConn, "redis_connect", cfg.Backoff, log, op); err != nil {
		span.RecordError(err)
		span.End()
		_ = client.Close()
		return nil, fmt.Errorf("offsetstore redis: connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("addr", opts.Addr))

	return newRedis(client, cfg, log), nil
}

func newRedis(client redis.UniversalClient, cfg RedisConfig, log *logger.Logger) *Redis {
	cfg.applyDefaults()
	return &Redis{client: client, prefix: cfg.KeyPrefix, timeout: cfg.Timeout, log: log}
}

func (r *Redis) key(k Key) string { return r.prefix + ":" + k.String() }

func (r *Redis) Load(ctx context.Context, key Key) (uint64, bool, error) {
	ctx, span := tracer.Start(ctx, "Redis.Load", trace.WithAttributes(attribute.String("key", key.String())))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return 0, false, fmt.Errorf("offsetstore redis: get: %w", err)
	}
	off, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("offsetstore redis: corrupt value %q: %w", val, err)
	}
	return off, true, nil
}

func (r *Redis) Save(ctx context.Context, key Key, offset uint64) error {
	ctx, span := tracer.Start(ctx, "Redis.Save", trace.WithAttributes(
		attribute.String("key", key.String()),
		attribute.Int64("offset", int64(offset)),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), strconv.FormatUint(offset, 10), 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("offsetstore redis: set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
