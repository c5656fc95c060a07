package memory

import (
	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/transport"
)

// Брокер живёт в памяти процесса: producer и consumer, запущенные
// отдельно, друг друга не видят. Пользователь по умолчанию iggy/iggy.
func init() {
	transport.Register("memory", func(transport.Config, *logger.Logger) (broker.Client, error) {
		return New(), nil
	})
}
