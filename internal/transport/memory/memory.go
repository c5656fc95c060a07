// Package memory: брокер в памяти процесса: для локальных прогонов без
// сервера и для тестов bootstrap/poller. Нумерация partition и id с 1,
// как у Iggy.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/payload"
)

type record struct {
	key  []byte
	data []byte
	ts   time.Time
}

type topic struct {
	id         uint32
	name       string
	partitions map[uint32][]record
}

type stream struct {
	id          uint32
	name        string
	topics      map[string]*topic
	nextTopicID uint32
}

type consumerKey struct {
	stream, topic string
	partition     uint32
	consumer      uint32
}

// Faults: точки внедрения ошибок. Функция вызывается перед операцией;
// ненулевая ошибка возвращается вызывающему как есть.
type Faults struct {
	Login  func() error
	Send   func(msg broker.OutgoingMessage) error
	Poll   func(req broker.PollRequest) error
	Create func(resource, name string) error
}

// Broker: потокобезопасный in-process брокер.
type Broker struct {
	mu sync.Mutex

	users        map[string]string
	streams      map[string]*stream
	nextStreamID uint32
	offsets      map[consumerKey]uint64
	loggedIn     bool
	closed       bool
	now          func() time.Time

	createdStreams int
	createdTopics  int

	faults Faults
}

// Option настраивает Broker.
type Option func(*Broker)

// WithUser добавляет пользователя.
func WithUser(username, password string) Option {
	return func(b *Broker) { b.users[username] = password }
}

// WithFaults подключает внедрение ошибок.
func WithFaults(f Faults) Option {
	return func(b *Broker) { b.faults = f }
}

// WithClock подменяет источник времени для меток сообщений.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New создаёт пустой брокер. Без WithUser доступен пользователь iggy/iggy.
func New(opts ...Option) *Broker {
	b := &Broker{
		users:   make(map[string]string),
		streams: make(map[string]*stream),
		offsets: make(map[consumerKey]uint64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.users) == 0 {
		b.users["iggy"] = "iggy"
	}
	return b
}

// Created возвращает число созданных stream и topic.
func (b *Broker) Created() (streams, topics int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createdStreams, b.createdTopics
}

// Len: число записей в partition.
func (b *Broker) Len(streamName, topicName string, partition uint32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.topicLocked(streamName, topicName)
	if err != nil {
		return 0
	}
	return len(t.partitions[partition])
}

func (b *Broker) checkLocked() error {
	if b.closed {
		return &broker.TransportError{Op: "memory", Err: fmt.Errorf("client closed")}
	}
	if !b.loggedIn {
		return broker.ErrNotLoggedIn
	}
	return nil
}

func (b *Broker) topicLocked(streamName, topicName string) (*topic, error) {
	s, ok := b.streams[streamName]
	if !ok {
		return nil, broker.ErrNotFound
	}
	t, ok := s.topics[topicName]
	if !ok {
		return nil, broker.ErrNotFound
	}
	return t, nil
}

// -----------------------------------------------------------------------------
// Admin
// -----------------------------------------------------------------------------

func (b *Broker) Login(_ context.Context, creds broker.Credentials) (*broker.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.faults.Login != nil {
		if err := b.faults.Login(); err != nil {
			return nil, err
		}
	}
	if pw, ok := b.users[creds.Username]; !ok || pw != creds.Password {
		return nil, &broker.AuthError{Op: "login", Err: fmt.Errorf("invalid credentials for %q", creds.Username)}
	}
	b.loggedIn = true
	b.closed = false
	return &broker.Session{Token: "memory:" + creds.Username, UserID: 1}, nil
}

func (b *Broker) GetStream(_ context.Context, name string) (*broker.StreamInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	s, ok := b.streams[name]
	if !ok {
		return nil, broker.ErrNotFound
	}
	return &broker.StreamInfo{ID: s.id, Name: s.name}, nil
}

func (b *Broker) CreateStream(_ context.Context, name string) (*broker.StreamInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	if b.faults.Create != nil {
		if err := b.faults.Create("stream", name); err != nil {
			return nil, err
		}
	}
	if _, ok := b.streams[name]; ok {
		return nil, broker.ErrAlreadyExists
	}
	b.nextStreamID++
	s := &stream{id: b.nextStreamID, name: name, topics: make(map[string]*topic)}
	b.streams[name] = s
	b.createdStreams++
	return &broker.StreamInfo{ID: s.id, Name: s.name}, nil
}

func (b *Broker) GetTopic(_ context.Context, streamName, name string) (*broker.TopicInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	t, err := b.topicLocked(streamName, name)
	if err != nil {
		return nil, err
	}
	return &broker.TopicInfo{ID: t.id, Name: t.name, PartitionsCount: uint32(len(t.partitions))}, nil
}

func (b *Broker) CreateTopic(_ context.Context, streamName, name string, partitions uint32) (*broker.TopicInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	if b.faults.Create != nil {
		if err := b.faults.Create("topic", name); err != nil {
			return nil, err
		}
	}
	s, ok := b.streams[streamName]
	if !ok {
		return nil, broker.ErrNotFound
	}
	if _, ok := s.topics[name]; ok {
		return nil, broker.ErrAlreadyExists
	}
	if partitions == 0 {
		partitions = 1
	}
	s.nextTopicID++
	t := &topic{id: s.nextTopicID, name: name, partitions: make(map[uint32][]record, partitions)}
	for p := uint32(1); p <= partitions; p++ {
		t.partitions[p] = nil
	}
	s.topics[name] = t
	b.createdTopics++
	return &broker.TopicInfo{ID: t.id, Name: t.name, PartitionsCount: partitions}, nil
}

// -----------------------------------------------------------------------------
// Data path
// -----------------------------------------------------------------------------

func (b *Broker) Send(_ context.Context, dst broker.Destination, msg broker.OutgoingMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	if b.faults.Send != nil {
		if err := b.faults.Send(msg); err != nil {
			return err
		}
	}
	t, err := b.topicLocked(dst.Stream, dst.Topic)
	if err != nil {
		return &broker.TransportError{Op: "send", StatusCode: 404, Err: err}
	}
	log, ok := t.partitions[dst.Partition]
	if !ok {
		return &broker.TransportError{Op: "send", StatusCode: 400, Err: fmt.Errorf("partition %d not found", dst.Partition)}
	}
	t.partitions[dst.Partition] = append(log, record{
		key:  append([]byte(nil), msg.Key...),
		data: append([]byte(nil), msg.Payload...),
		ts:   b.now(),
	})
	return nil
}

// Poll отдаёт до Count записей. Для strategy=next начало берётся из
// серверного смещения консьюмера; auto_commit сдвигает его за пачку.
func (b *Broker) Poll(_ context.Context, req broker.PollRequest) ([]broker.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	if b.faults.Poll != nil {
		if err := b.faults.Poll(req); err != nil {
			return nil, err
		}
	}
	dst := req.Destination
	t, err := b.topicLocked(dst.Stream, dst.Topic)
	if err != nil {
		return nil, &broker.TransportError{Op: "poll", StatusCode: 404, Err: err}
	}
	log, ok := t.partitions[dst.Partition]
	if !ok {
		return nil, &broker.TransportError{Op: "poll", StatusCode: 400, Err: fmt.Errorf("partition %d not found", dst.Partition)}
	}

	ck := consumerKey{stream: dst.Stream, topic: dst.Topic, partition: dst.Partition, consumer: req.ConsumerID}
	start := req.Offset
	if req.Strategy == broker.StrategyNext {
		start = b.offsets[ck]
	}
	if start >= uint64(len(log)) {
		return nil, nil
	}
	end := uint64(len(log))
	if req.Count > 0 && start+uint64(req.Count) < end {
		end = start + uint64(req.Count)
	}

	out := make([]broker.Message, 0, end-start)
	for off := start; off < end; off++ {
		r := log[off]
		out = append(out, broker.Message{
			Offset:    off,
			Payload:   payload.RawBytes(append([]byte(nil), r.data...)),
			Timestamp: r.ts,
			Partition: dst.Partition,
			Key:       r.key,
		})
	}
	if req.AutoCommit && end > b.offsets[ck] {
		b.offsets[ck] = end
	}
	return out, nil
}

func (b *Broker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &broker.TransportError{Op: "ping", Err: fmt.Errorf("client closed")}
	}
	return nil
}

// Close помечает клиента закрытым; данные остаются для повторного открытия.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.loggedIn = false
	return nil
}

var _ broker.Client = (*Broker)(nil)
