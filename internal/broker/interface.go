// internal/broker/interface.go
//
// Пакет broker задаёт контракт клиента стримингового брокера: логин,
// провижининг stream/topic, отправку и опрос сообщений. Конкретные
// транспорты (REST, sarama, franz-go, in-memory) живут в internal/transport.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/YaganovValera/iggy-clients/internal/payload"
)

// Credentials: логин/пароль пользователя брокера.
type Credentials struct {
	Username string
	Password string
}

// Session: непрозрачный токен, полученный при логине.
// Транспорт сам прикладывает его к последующим вызовам.
type Session struct {
	Token  string
	UserID uint32
}

// StreamInfo описывает stream на стороне брокера.
type StreamInfo struct {
	ID   uint32
	Name string
}

// TopicInfo описывает topic внутри stream.
type TopicInfo struct {
	ID              uint32
	Name            string
	PartitionsCount uint32
}

// Destination: логический канал (stream, topic, partition).
// Неизменяем после bootstrap.
type Destination struct {
	Stream    string
	Topic     string
	Partition uint32

	StreamID uint32
	TopicID  uint32
}

func (d Destination) String() string {
	return fmt.Sprintf("%s/%s/%d", d.Stream, d.Topic, d.Partition)
}

// OutgoingMessage: то, что отправляет Publisher.
type OutgoingMessage struct {
	ID      uint64
	Key     []byte
	Payload []byte
}

// Message: запись, полученная при опросе.
type Message struct {
	Offset    uint64
	Payload   payload.Encoded
	Timestamp time.Time
	Partition uint32
	Key       []byte
}

// Strategy: откуда брокер начинает отдавать сообщения.
type Strategy string

const (
	// StrategyOffset: с явно переданного смещения.
	StrategyOffset Strategy = "offset"
	// StrategyNext: с сохранённого на сервере смещения консьюмера.
	StrategyNext Strategy = "next"
)

// PollRequest: параметры одного опроса.
type PollRequest struct {
	Destination Destination
	ConsumerID  uint32
	Offset      uint64
	Count       uint32
	AutoCommit  bool
	Strategy    Strategy
}

// Admin: логин и провижининг.
type Admin interface {
	Login(ctx context.Context, creds Credentials) (*Session, error)
	GetStream(ctx context.Context, name string) (*StreamInfo, error)
	CreateStream(ctx context.Context, name string) (*StreamInfo, error)
	GetTopic(ctx context.Context, stream, name string) (*TopicInfo, error)
	CreateTopic(ctx context.Context, stream, name string, partitions uint32) (*TopicInfo, error)
}

// Sender публикует одно сообщение в Destination.
type Sender interface {
	Send(ctx context.Context, dst Destination, msg OutgoingMessage) error
}

// Poller забирает пачку сообщений.
type Poller interface {
	Poll(ctx context.Context, req PollRequest) ([]Message, error)
}

// Client: полный транспорт.
type Client interface {
	Admin
	Sender
	Poller
	// Ping проверяет достижимость брокера (используется в /readyz).
	Ping(ctx context.Context) error
	Close() error
}
