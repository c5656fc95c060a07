// Package backoff: экспоненциальные повторы поверх cenkalti/backoff:
// Execute для разовых операций с бюджетом по времени (логин, подключение
// к хранилищу) и NewPolicy для бесконечных циклов.
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/logger"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var serviceLabel = "unknown"

// SetServiceLabel вызывается из app один раз при старте.
func SetServiceLabel(name string) { serviceLabel = name }

var retryMetrics = struct {
	Retries  *prometheus.CounterVec
	GiveUps  *prometheus.CounterVec
	Attempts *prometheus.HistogramVec
	Delays   *prometheus.HistogramVec
}{
	Retries: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iggy_client", Subsystem: "backoff", Name: "retries_total",
		Help: "Retries of an operation after a failed attempt",
	}, []string{"service", "op"}),
	GiveUps: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iggy_client", Subsystem: "backoff", Name: "give_ups_total",
		Help: "Operations abandoned: budget spent, permanent error or cancelled",
	}, []string{"service", "op"}),
	Attempts: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iggy_client", Subsystem: "backoff", Name: "attempts",
		Help:    "Attempts spent per operation, successful or not",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	}, []string{"service", "op"}),
	Delays: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "iggy_client", Subsystem: "backoff", Name: "delay_seconds",
		Help:    "Pause before the next attempt (seconds)",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "op"}),
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config: параметры экспоненциальной паузы. Нулевые поля получают
// значения по умолчанию.
type Config struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"` // первая пауза, 1s
	Multiplier      float64       `mapstructure:"multiplier"`       // рост паузы, 2.0
	MaxInterval     time.Duration `mapstructure:"max_interval"`     // потолок одной паузы, 30s

	// RandomizationFactor: джиттер ±f. nil: 0.5; явный 0 отключает джиттер.
	RandomizationFactor *float64 `mapstructure:"randomization_factor"`

	// MaxElapsedTime: бюджет Execute на все попытки; 0: без ограничения.
	// NewPolicy его не использует.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`

	// PerAttemptTimeout: таймаут одного вызова fn; 0: без таймаута.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor == nil {
		f := 0.5
		c.RandomizationFactor = &f
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

func (c Config) validate() error {
	switch {
	case *c.RandomizationFactor < 0 || *c.RandomizationFactor > 1:
		return fmt.Errorf("backoff: randomization_factor must be in [0,1], got %v", *c.RandomizationFactor)
	case c.Multiplier < 1:
		return fmt.Errorf("backoff: multiplier must be >= 1, got %v", c.Multiplier)
	case c.MaxInterval < c.InitialInterval:
		return fmt.Errorf("backoff: max_interval %v is below initial_interval %v", c.MaxInterval, c.InitialInterval)
	}
	return nil
}

// Jitter: значение для Config.RandomizationFactor.
func Jitter(f float64) *float64 { return &f }

// Validate проверяет конфиг с учётом значений по умолчанию.
func (c Config) Validate() error {
	c.applyDefaults()
	return c.validate()
}

func (c Config) exponential(maxElapsed time.Duration) (*backoff.ExponentialBackOff, error) {
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.RandomizationFactor = *c.RandomizationFactor
	bo.Multiplier = c.Multiplier
	bo.MaxInterval = c.MaxInterval
	bo.MaxElapsedTime = maxElapsed
	bo.Reset()
	return bo, nil
}

// NewPolicy: бесконечная экспоненциальная политика для scheduler:
// цикл опроса не сдаётся, поэтому MaxElapsedTime игнорируется.
func NewPolicy(cfg Config) (backoff.BackOff, error) {
	return cfg.exponential(0)
}

// -----------------------------------------------------------------------------
// Execute
// -----------------------------------------------------------------------------

// ErrMaxRetries: Execute сдался. Err: последняя ошибка fn
// (или ошибка, помеченная Permanent).
type ErrMaxRetries struct {
	Op       string
	Err      error
	Attempts int
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %s: gave up after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent помечает ошибку как неповторяемую: Execute вернётся сразу.
func Permanent(err error) error { return backoff.Permanent(err) }

// RetryableFunc: одна попытка операции.
type RetryableFunc func(ctx context.Context) error

// Execute повторяет fn, пока та не вернёт nil, пока не истечёт
// MaxElapsedTime, не отменится ctx или fn не вернёт Permanent.
// op попадает в логи и метрики.
func Execute(ctx context.Context, op string, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	bo, err := cfg.exponential(cfg.MaxElapsedTime)
	if err != nil {
		return fmt.Errorf("backoff: %s: invalid config: %w", op, err)
	}
	log = log.WithContext(ctx).With(zap.String("op", op))

	attempts := 0
	attempt := func() error {
		attempts++
		if cfg.PerAttemptTimeout <= 0 {
			return fn(ctx)
		}
		actx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
		defer cancel()
		return fn(actx)
	}
	notify := func(err error, delay time.Duration) {
		retryMetrics.Retries.WithLabelValues(serviceLabel, op).Inc()
		retryMetrics.Delays.WithLabelValues(serviceLabel, op).Observe(delay.Seconds())
		log.Warn("retrying",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err = backoff.RetryNotify(attempt, backoff.WithContext(bo, ctx), notify)
	retryMetrics.Attempts.WithLabelValues(serviceLabel, op).Observe(float64(attempts))
	if err != nil {
		retryMetrics.GiveUps.WithLabelValues(serviceLabel, op).Inc()
		log.Error("giving up", zap.Int("attempts", attempts), zap.Error(err))
		return &ErrMaxRetries{Op: op, Err: err, Attempts: attempts}
	}
	return nil
}
