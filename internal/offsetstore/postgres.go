package offsetstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (goose)
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/backoff"
	"github.com/YaganovValera/iggy-clients/common/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresConfig: параметры подключения к Postgres.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	Backoff  backoff.Config
}

func (c *PostgresConfig) applyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 2
	}
}

func (c PostgresConfig) validate() error {
	if c.DSN == "" {
		return fmt.Errorf("offsetstore postgres: DSN required")
	}
	return nil
}

// pgxPool: подмножество *pgxpool.Pool, которым пользуется Postgres.
type pgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres: Store поверх таблицы consumer_offsets.
type Postgres struct {
	pool pgxPool
	log  *logger.Logger
}

// NewPostgres применяет миграции, поднимает пул и проверяет связь.
func NewPostgres(ctx context.Context, cfg PostgresConfig, log *logger.Logger) (*Postgres, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("offsets-postgres")

	// 1) Миграции через database/sql + goose
	if err := migrate(ctx, cfg, log); err != nil {
		return nil, err
	}

	// 2) Пул pgxpool
	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("offsetstore postgres: parse DSN: %w", err)
	}
	pgxCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("offsetstore postgres: connect: %w", err)
	}

	// 3) Проверка соединения
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("offsetstore postgres: ping: %w", err)
	}
	log.Info("postgres: connected", zap.String("database", pgxCfg.ConnConfig.Database))

	return &Postgres{pool: pool, log: log}, nil
}

func migrate(ctx context.Context, cfg PostgresConfig, log *logger.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("offsetstore postgres: open DB: %w", err)
	}
	defer sqlDB.Close()

	// БД может подниматься дольше клиента: ждём с ретраями
	if err := backoff.Execute(ctx, "postgres_connect", cfg.Backoff, log, sqlDB.PingContext); err != nil {
		return fmt.Errorf("offsetstore postgres: ping: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("offsetstore postgres: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("offsetstore postgres: migrate up: %w", err)
	}
	log.Info("postgres: migrations applied")
	return nil
}

func (p *Postgres) Load(ctx context.Context, key Key) (uint64, bool, error) {
	const query = `
SELECT next_offset FROM consumer_offsets
WHERE stream = $1 AND topic = $2 AND partition_id = $3 AND consumer_id = $4;
`
	var off int64
	err := p.pool.QueryRow(ctx, query, key.Stream, key.Topic, int64(key.Partition), int64(key.ConsumerID)).Scan(&off)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("offsetstore postgres: load: %w", err)
	}
	return uint64(off), true, nil
}

func (p *Postgres) Save(ctx context.Context, key Key, offset uint64) error {
	const query = `
INSERT INTO consumer_offsets (stream, topic, partition_id, consumer_id, next_offset, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (stream, topic, partition_id, consumer_id)
DO UPDATE SET next_offset = EXCLUDED.next_offset, updated_at = EXCLUDED.updated_at;
`
	start := time.Now()
	_, err := p.pool.Exec(ctx, query,
		key.Stream, key.Topic, int64(key.Partition), int64(key.ConsumerID), int64(offset), start.UTC())
	if err != nil {
		return fmt.Errorf("offsetstore postgres: save: %w", err)
	}
	p.log.Debug("offset saved",
		zap.String("key", key.String()),
		zap.Uint64("offset", offset),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
