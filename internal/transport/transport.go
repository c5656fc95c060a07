// Package transport: реестр транспортов брокера. Конкретные реализации
// регистрируются из init() своих пакетов (http, sarama, franz, memory);
// приложение выбирает нужную по transport.kind.
package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/broker"
)

// HTTPConfig: параметры REST-транспорта.
type HTTPConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaConfig: общие параметры Kafka-транспортов (sarama, franz).
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	Version           string        `mapstructure:"version"`
	ClientID          string        `mapstructure:"client_id"`
	StreamSeparator   string        `mapstructure:"stream_separator"`
	Acks              string        `mapstructure:"acks"`
	Compression       string        `mapstructure:"compression"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	ReplicationFactor int16         `mapstructure:"replication_factor"`
}

// Config: секция transport.* конфигурации.
type Config struct {
	Kind  string      `mapstructure:"kind"`
	HTTP  HTTPConfig  `mapstructure:"http"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// Factory создаёт клиента. Соединение устанавливается в Login.
type Factory func(cfg Config, log *logger.Logger) (broker.Client, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register вызывается из init() пакета-транспорта.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(name)] = f
}

// New возвращает клиента по имени ("http", "sarama", "franz", "memory").
func New(cfg Config, log *logger.Logger) (broker.Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Kind))
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unsupported kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(cfg, log)
}

// Kinds: зарегистрированные имена в алфавитном порядке.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------
// Kafka naming
// -----------------------------------------------------------------------------

// TopicName: stream: пространство имён, topic: "<stream><sep><topic>".
func (c KafkaConfig) TopicName(stream, topic string) string {
	return stream + c.Separator() + topic
}

// StreamPrefix: префикс, по которому ищутся topic'и stream'а.
func (c KafkaConfig) StreamPrefix(stream string) string {
	return stream + c.Separator()
}

func (c KafkaConfig) Separator() string {
	if c.StreamSeparator == "" {
		return "."
	}
	return c.StreamSeparator
}

// KafkaPartition переводит id partition (с 1) в индекс Kafka (с 0).
// Нулевой id остаётся нулём.
func KafkaPartition(p uint32) int32 {
	if p == 0 {
		return 0
	}
	return int32(p - 1)
}
