// Package kafkasarama: транспорт поверх Kafka-протокола на IBM/sarama.
// Stream: пространство имён, topic: Kafka-топик "<stream><sep><topic>".
package kafkasarama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/payload"
	"github.com/YaganovValera/iggy-clients/internal/transport"
)

var meter = transport.NewMeter("sarama")

var tracer = otel.Tracer("kafka-sarama")

func init() {
	transport.Register("sarama", func(cfg transport.Config, log *logger.Logger) (broker.Client, error) {
		return New(Config{KafkaConfig: cfg.Kafka}, log)
	})
}

// clusterAdmin: то подмножество sarama.ClusterAdmin, что нужно транспорту.
type clusterAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

// conn: всё, что создаётся при Login.
type conn struct {
	admin clusterAdmin
	prod  sarama.SyncProducer
	cons  sarama.Consumer
	ping  func() error

	// bounds: самое старое доступное смещение и high-water mark партиции.
	bounds func(topic string, partition int32) (oldest, newest int64, err error)
}

func (c *conn) close() error {
	var errs []error
	if c.cons != nil {
		errs = append(errs, c.cons.Close())
	}
	if c.prod != nil {
		errs = append(errs, c.prod.Close())
	}
	// admin, созданный из клиента, закрывает и клиента
	if c.admin != nil {
		errs = append(errs, c.admin.Close())
	}
	return errors.Join(errs...)
}

type connectFunc func(brokers []string, sc *sarama.Config) (*conn, error)

// connectCluster поднимает client, admin, producer и consumer на одном соединении.
func connectCluster(brokers []string, sc *sarama.Config) (*conn, error) {
	client, err := sarama.NewClient(brokers, sc)
	if err != nil {
		return nil, err
	}
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	prod, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = admin.Close()
		return nil, err
	}
	cons, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = prod.Close()
		_ = admin.Close()
		return nil, err
	}
	return &conn{
		admin:  admin,
		prod:   otelsarama.WrapSyncProducer(sc, prod),
		cons:   cons,
		ping:   func() error { return client.RefreshMetadata() },
		bounds: offsetBounds(client),
	}, nil
}

func offsetBounds(client sarama.Client) func(string, int32) (int64, int64, error) {
	return func(topic string, partition int32) (int64, int64, error) {
		oldest, err := client.GetOffset(topic, partition, sarama.OffsetOldest)
		if err != nil {
			return 0, 0, err
		}
		newest, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
		return oldest, newest, err
	}
}

// cursor: открытый partition consumer, переиспользуемый между опросами,
// пока запрошенное смещение совпадает с ожидаемым.
type cursor struct {
	topic     string
	partition int32
	next      int64
	pc        sarama.PartitionConsumer
}

// Client реализует broker.Client поверх sarama.
type Client struct {
	cfg     Config
	log     *logger.Logger
	connect connectFunc

	// mu охраняет conn от конкурентного Ping (/readyz); остальные
	// методы вызываются из одного цикла.
	mu       sync.RWMutex
	conn     *conn
	reserved map[string]bool
	cur      *cursor
}

// New проверяет конфигурацию; соединение создаёт Login.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		log:      log.Named("kafka-sarama"),
		connect:  connectCluster,
		reserved: make(map[string]bool),
	}, nil
}

// -----------------------------------------------------------------------------
// Admin
// -----------------------------------------------------------------------------

// Login подключается к кластеру с SASL/PLAIN (если задан username).
func (c *Client) Login(ctx context.Context, creds broker.Credentials) (*broker.Session, error) {
	_, span := tracer.Start(ctx, "Login", trace.WithAttributes(attribute.StringSlice("brokers", c.cfg.Brokers)))
	defer span.End()

	sc, err := buildSaramaConfig(c.cfg, creds)
	if err != nil {
		return nil, &broker.AuthError{Op: "login", Err: err}
	}

	began := time.Now()
	cn, err := c.connect(c.cfg.Brokers, sc)
	meter.Observe("login", began, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		if errors.Is(err, sarama.ErrSASLAuthenticationFailed) {
			return nil, &broker.AuthError{Op: "login", Err: err}
		}
		return nil, &broker.TransportError{Op: "login", Err: err}
	}

	c.mu.Lock()
	if c.conn != nil {
		c.closeCursor()
		_ = c.conn.close()
	}
	c.conn = cn
	c.mu.Unlock()
	c.log.WithContext(ctx).Info("logged in",
		zap.String("user", creds.Username),
		zap.Strings("brokers", c.cfg.Brokers),
	)
	return &broker.Session{Token: "sasl:" + creds.Username}, nil
}

func (c *Client) listTopics(op string) (map[string]sarama.TopicDetail, error) {
	if c.conn == nil {
		return nil, broker.ErrNotLoggedIn
	}
	topics, err := c.conn.admin.ListTopics()
	if err != nil {
		return nil, &broker.TransportError{Op: op, Err: err}
	}
	return topics, nil
}

// GetStream: stream существует, если есть хоть один топик с его префиксом
// или он зарезервирован этим клиентом. Id у Kafka нет, поэтому 0.
func (c *Client) GetStream(_ context.Context, name string) (*broker.StreamInfo, error) {
	topics, err := c.listTopics("get_stream")
	if err != nil {
		return nil, err
	}
	if c.reserved[name] {
		return &broker.StreamInfo{Name: name}, nil
	}
	prefix := c.cfg.StreamPrefix(name)
	for t := range topics {
		if strings.HasPrefix(t, prefix) {
			return &broker.StreamInfo{Name: name}, nil
		}
	}
	return nil, broker.ErrNotFound
}

// CreateStream только резервирует пространство имён.
func (c *Client) CreateStream(_ context.Context, name string) (*broker.StreamInfo, error) {
	if c.conn == nil {
		return nil, broker.ErrNotLoggedIn
	}
	c.reserved[name] = true
	return &broker.StreamInfo{Name: name}, nil
}

func (c *Client) GetTopic(_ context.Context, stream, name string) (*broker.TopicInfo, error) {
	topics, err := c.listTopics("get_topic")
	if err != nil {
		return nil, err
	}
	d, ok := topics[c.cfg.TopicName(stream, name)]
	if !ok {
		return nil, broker.ErrNotFound
	}
	return &broker.TopicInfo{Name: name, PartitionsCount: uint32(d.NumPartitions)}, nil
}

func (c *Client) CreateTopic(_ context.Context, stream, name string, partitions uint32) (*broker.TopicInfo, error) {
	if c.conn == nil {
		return nil, broker.ErrNotLoggedIn
	}
	full := c.cfg.TopicName(stream, name)
	err := c.conn.admin.CreateTopic(full, &sarama.TopicDetail{
		NumPartitions:     int32(partitions),
		ReplicationFactor: c.cfg.ReplicationFactor,
	}, false)
	switch {
	case err == nil:
		return &broker.TopicInfo{Name: name, PartitionsCount: partitions}, nil
	case errors.Is(err, sarama.ErrTopicAlreadyExists):
		return nil, fmt.Errorf("kafkasarama: topic %q: %w", full, broker.ErrAlreadyExists)
	default:
		return nil, &broker.TransportError{Op: "create_topic", Err: err}
	}
}

// -----------------------------------------------------------------------------
// Data path
// -----------------------------------------------------------------------------

func (c *Client) Send(ctx context.Context, dst broker.Destination, msg broker.OutgoingMessage) error {
	if c.conn == nil {
		return broker.ErrNotLoggedIn
	}
	full := c.cfg.TopicName(dst.Stream, dst.Topic)
	_, span := tracer.Start(ctx, "Send", trace.WithAttributes(attribute.String("topic", full)))
	defer span.End()

	pm := &sarama.ProducerMessage{
		Topic:     full,
		Partition: transport.KafkaPartition(dst.Partition),
		Value:     sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message_id"), Value: []byte(fmt.Sprint(msg.ID))},
		},
	}
	if len(msg.Key) > 0 {
		pm.Key = sarama.ByteEncoder(msg.Key)
	}

	start := time.Now()
	_, _, err := c.conn.prod.SendMessage(pm)
	meter.Observe("send", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return &broker.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Poll ждёт первое сообщение не дольше PollTimeout, затем забирает то,
// что уже пришло, но не больше Count. Strategy=next у Kafka без групп
// не поддерживается: всегда читаем с req.Offset.
func (c *Client) Poll(ctx context.Context, req broker.PollRequest) ([]broker.Message, error) {
	if c.conn == nil {
		return nil, broker.ErrNotLoggedIn
	}
	dst := req.Destination
	full := c.cfg.TopicName(dst.Stream, dst.Topic)
	part := transport.KafkaPartition(dst.Partition)
	offset := int64(req.Offset)

	cur, err := c.cursorFor(full, part, offset)
	if errors.Is(err, sarama.ErrOffsetOutOfRange) {
		cur, err = c.outOfRange(ctx, full, part, offset)
		if cur == nil && err == nil {
			return nil, nil
		}
	}
	if err != nil {
		meter.Fail("poll")
		return nil, &broker.TransportError{Op: "poll", Err: err}
	}

	count := int(req.Count)
	if count <= 0 {
		count = 1
	}
	out := make([]broker.Message, 0, count)
	appendMsg := func(m *sarama.ConsumerMessage) {
		out = append(out, broker.Message{
			Offset:    uint64(m.Offset),
			Payload:   payload.RawBytes(m.Value),
			Timestamp: m.Timestamp,
			Partition: dst.Partition,
			Key:       m.Key,
		})
		cur.next = m.Offset + 1
	}

	timer := time.NewTimer(c.cfg.PollTimeout)
	defer timer.Stop()

	// первое сообщение
	select {
	case m, ok := <-cur.pc.Messages():
		if !ok {
			c.closeCursor()
			return nil, &broker.TransportError{Op: "poll", Err: errors.New("partition consumer closed")}
		}
		appendMsg(m)
	case cerr := <-cur.pc.Errors():
		c.closeCursor()
		meter.Fail("poll")
		if cerr == nil {
			return nil, &broker.TransportError{Op: "poll", Err: errors.New("partition consumer closed")}
		}
		return nil, &broker.TransportError{Op: "poll", Err: cerr.Err}
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}

	// остальное: только то, что уже в буфере
	for len(out) < count {
		select {
		case m, ok := <-cur.pc.Messages():
			if !ok {
				return out, nil
			}
			appendMsg(m)
		default:
			return out, nil
		}
	}
	return out, nil
}

// outOfRange разбирает ErrOffsetOutOfRange по границам партиции.
// offset >= high-water mark: новых сообщений нет, (nil, nil).
// offset < oldest (сегменты удалены retention): курсор с oldest и warn в лог.
func (c *Client) outOfRange(ctx context.Context, topic string, partition int32, offset int64) (*cursor, error) {
	if c.conn.bounds == nil {
		return nil, sarama.ErrOffsetOutOfRange
	}
	oldest, newest, err := c.conn.bounds(topic, partition)
	if err != nil {
		return nil, fmt.Errorf("offset %d out of range, bounds lookup: %w", offset, err)
	}
	switch {
	case offset >= newest:
		return nil, nil
	case offset < oldest:
		c.log.WithContext(ctx).Warn("requested offset is no longer retained, skipping to oldest",
			zap.String("topic", topic),
			zap.Int64("offset", offset),
			zap.Int64("oldest", oldest),
		)
		return c.cursorFor(topic, partition, oldest)
	default:
		return nil, fmt.Errorf("offset %d out of range [%d, %d): %w", offset, oldest, newest, sarama.ErrOffsetOutOfRange)
	}
}

// cursorFor переиспользует открытый partition consumer или открывает новый.
func (c *Client) cursorFor(topic string, partition int32, offset int64) (*cursor, error) {
	if cur := c.cur; cur != nil {
		if cur.topic == topic && cur.partition == partition && cur.next == offset {
			return cur, nil
		}
		c.closeCursor()
	}
	pc, err := c.conn.cons.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	c.cur = &cursor{topic: topic, partition: partition, next: offset, pc: pc}
	return c.cur, nil
}

func (c *Client) closeCursor() {
	if c.cur == nil {
		return
	}
	if err := c.cur.pc.Close(); err != nil {
		c.log.Debug("partition consumer close", zap.Error(err))
	}
	c.cur = nil
}

// Ping обновляет метаданные, проверяя доступность кластера.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return broker.ErrNotLoggedIn
	}
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if err := c.conn.ping(); err != nil {
		meter.Fail("ping")
		span.RecordError(err)
		return &broker.TransportError{Op: "ping", Err: err}
	}
	return nil
}

// Close закрывает consumer, producer и клиента.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.closeCursor()
	err := c.conn.close()
	c.conn = nil
	if err != nil {
		c.log.Error("close failed", zap.Error(err))
		return err
	}
	c.log.Info("kafka client closed")
	return nil
}

var _ broker.Client = (*Client)(nil)
