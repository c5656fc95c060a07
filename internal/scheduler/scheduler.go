// Package scheduler крутит tick-функцию с фиксированной паузой до отмены
// контекста. Время инъектируется через Sleeper, поэтому контракт
// (проверки отмены, ровно одна пауза после каждого тика) тестируется без
// реальных задержек.
package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TickFunc: одна итерация цикла. Ошибка означает «тик не удался»:
// она переключает паузу на политику ретраев, но цикл не останавливает.
type TickFunc func(ctx context.Context) error

// Sleeper приостанавливает цикл. Возвращает ctx.Err(), если ожидание
// прервано отменой.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc адаптирует функцию к Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper: реальное ожидание на time.Timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type options struct {
	sleeper Sleeper
	retry   backoff.BackOff
	onError func(err error, delay time.Duration)
}

// Option настраивает RunUntilCancelled.
type Option func(*options)

// WithSleeper подменяет источник пауз (в тестах: фейк).
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// WithRetryPolicy задаёт паузу после неудачного тика.
// По умолчанию: ConstantBackOff с тем же interval.
func WithRetryPolicy(b backoff.BackOff) Option {
	return func(o *options) { o.retry = b }
}

// WithErrorHook вызывается после неудачного тика с выбранной паузой.
func WithErrorHook(fn func(err error, delay time.Duration)) Option {
	return func(o *options) { o.onError = fn }
}

// RunUntilCancelled вызывает tick, затем ровно одну паузу, и так до
// отмены ctx. Отмена проверяется перед каждым тиком и прерывает паузу;
// выполняющийся тик не прерывается принудительно. Ошибки тиков наружу
// не выходят. Возвращает nil после отмены.
func RunUntilCancelled(ctx context.Context, tick TickFunc, interval time.Duration, opts ...Option) error {
	o := options{sleeper: TimerSleeper{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retry == nil {
		o.retry = backoff.NewConstantBackOff(interval)
	}
	o.retry.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		delay := interval
		if err := tick(ctx); err != nil {
			if d := o.retry.NextBackOff(); d != backoff.Stop {
				delay = d
			}
			if o.onError != nil {
				o.onError(err, delay)
			}
		} else {
			o.retry.Reset()
		}

		if err := o.sleeper.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}
