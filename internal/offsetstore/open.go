package offsetstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/YaganovValera/iggy-clients/common/logger"
)

// Backends
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config выбирает backend и его настройки.
type Config struct {
	Backend  string
	Redis    RedisConfig
	Postgres PostgresConfig
}

// Open создаёт Store по имени backend. Для "none" (и пустого имени)
// возвращает nil, nil: курсор живёт только в памяти Poller.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		s, err := NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPostgres(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("offsetstore: unknown backend %q", cfg.Backend)
	}
}
