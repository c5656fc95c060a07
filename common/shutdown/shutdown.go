package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/logger"
)

// Safe вызывает Close()/Shutdown() ресурса и логирует результат.
func Safe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	l := log.WithContext(ctx).With(zap.String("component", name))
	l.Info("shutdown: stopping")
	if err := fn(); err != nil {
		l.Error("shutdown: error", zap.Error(err))
		return
	}
	l.Info("shutdown: stopped cleanly")
}

// WithTimeout выполняет fn с собственным контекстом и таймаутом.
// Нужен, когда родительский ctx уже отменён сигналом.
func WithTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	Safe(ctx, name, func() error { return fn(ctx) }, log)
}
