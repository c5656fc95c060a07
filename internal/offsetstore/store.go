// Package offsetstore: внешняя фиксация курсора консьюмера. Без неё
// Poller после рестарта начинает с нуля.
package offsetstore

import (
	"context"
	"fmt"
)

// Key идентифицирует курсор: (destination, consumer).
type Key struct {
	Stream     string
	Topic      string
	Partition  uint32
	ConsumerID uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.Stream, k.Topic, k.Partition, k.ConsumerID)
}

// Store хранит последнее закоммиченное смещение.
type Store interface {
	// Load возвращает (offset, true), если курсор сохранён.
	Load(ctx context.Context, key Key) (uint64, bool, error)
	Save(ctx context.Context, key Key, offset uint64) error
	Close() error
}
