// Package kafkafranz: транспорт поверх Kafka-протокола на twmb/franz-go.
// Наименование то же, что у kafkasarama: topic "<stream><sep><topic>".
package kafkafranz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
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

var meter = transport.NewMeter("franz")

var tracer = otel.Tracer("kafka-franz")

func init() {
	transport.Register("franz", func(cfg transport.Config, log *logger.Logger) (broker.Client, error) {
		return New(Config{KafkaConfig: cfg.Kafka}, log)
	})
}

// consumer: отдельный kgo-клиент, читающий ровно одну partition.
type consumer struct {
	cl        *kgo.Client
	topic     string
	partition int32
	next      int64
	polled    bool // SetOffsets работает только после первой выборки
}

// Client реализует broker.Client поверх franz-go.
type Client struct {
	cfg Config
	log *logger.Logger

	mu       sync.RWMutex
	prod     *kgo.Client
	admin    kmsg.Requestor
	opts     []kgo.Opt
	reserved map[string]bool
	cons     *consumer
}

// New проверяет конфигурацию; соединение создаёт Login.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		log:      log.Named("kafka-franz"),
		reserved: make(map[string]bool),
	}, nil
}

// -----------------------------------------------------------------------------
// Admin
// -----------------------------------------------------------------------------

// Login создаёт клиента и пингует кластер: kgo.NewClient сам по себе
// ни к кому не подключается.
func (c *Client) Login(ctx context.Context, creds broker.Credentials) (*broker.Session, error) {
	ctx, span := tracer.Start(ctx, "Login", trace.WithAttributes(attribute.StringSlice("brokers", c.cfg.Brokers)))
	defer span.End()

	opts, err := clientOpts(c.cfg, creds)
	if err != nil {
		return nil, &broker.AuthError{Op: "login", Err: err}
	}

	began := time.Now()
	cl, err := kgo.NewClient(opts...)
	if err == nil {
		err = cl.Ping(ctx)
		if err != nil {
			cl.Close()
		}
	}
	meter.Observe("login", began, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return nil, loginError(err)
	}

	c.mu.Lock()
	c.closeConsumer()
	if c.prod != nil {
		c.prod.Close()
	}
	c.prod, c.admin, c.opts = cl, cl, opts
	c.mu.Unlock()

	c.log.WithContext(ctx).Info("logged in",
		zap.String("user", creds.Username),
		zap.Strings("brokers", c.cfg.Brokers),
	)
	return &broker.Session{Token: "sasl:" + creds.Username}, nil
}

func loginError(err error) error {
	if errors.Is(err, kerr.SaslAuthenticationFailed) {
		return &broker.AuthError{Op: "login", Err: err}
	}
	return &broker.TransportError{Op: "login", Err: err}
}

func (c *Client) adminCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// GetStream: stream существует, если есть топик с его префиксом
// или он зарезервирован этим клиентом.
func (c *Client) GetStream(ctx context.Context, name string) (*broker.StreamInfo, error) {
	if c.admin == nil {
		return nil, broker.ErrNotLoggedIn
	}
	if c.reserved[name] {
		return &broker.StreamInfo{Name: name}, nil
	}
	ctx, cancel := c.adminCtx(ctx)
	defer cancel()
	topics, err := listTopics(ctx, c.admin)
	if err != nil {
		return nil, err
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
	if c.admin == nil {
		return nil, broker.ErrNotLoggedIn
	}
	c.reserved[name] = true
	return &broker.StreamInfo{Name: name}, nil
}

func (c *Client) GetTopic(ctx context.Context, stream, name string) (*broker.TopicInfo, error) {
	if c.admin == nil {
		return nil, broker.ErrNotLoggedIn
	}
	ctx, cancel := c.adminCtx(ctx)
	defer cancel()
	topics, err := listTopics(ctx, c.admin)
	if err != nil {
		return nil, err
	}
	n, ok := topics[c.cfg.TopicName(stream, name)]
	if !ok {
		return nil, broker.ErrNotFound
	}
	return &broker.TopicInfo{Name: name, PartitionsCount: uint32(n)}, nil
}

func (c *Client) CreateTopic(ctx context.Context, stream, name string, partitions uint32) (*broker.TopicInfo, error) {
	if c.admin == nil {
		return nil, broker.ErrNotLoggedIn
	}
	ctx, cancel := c.adminCtx(ctx)
	defer cancel()
	full := c.cfg.TopicName(stream, name)
	err := createTopic(ctx, c.admin, full, int32(partitions), c.cfg.ReplicationFactor, int32(c.cfg.RequestTimeout.Milliseconds()))
	if err != nil {
		return nil, err
	}
	return &broker.TopicInfo{Name: name, PartitionsCount: partitions}, nil
}

// -----------------------------------------------------------------------------
// Data path
// -----------------------------------------------------------------------------

func newRecord(topic string, dst broker.Destination, msg broker.OutgoingMessage) *kgo.Record {
	r := &kgo.Record{
		Topic:     topic,
		Partition: transport.KafkaPartition(dst.Partition),
		Value:     msg.Payload,
		Headers:   []kgo.RecordHeader{{Key: "message_id", Value: []byte(strconv.FormatUint(msg.ID, 10))}},
	}
	if len(msg.Key) > 0 {
		r.Key = msg.Key
	}
	return r
}

func (c *Client) Send(ctx context.Context, dst broker.Destination, msg broker.OutgoingMessage) error {
	if c.prod == nil {
		return broker.ErrNotLoggedIn
	}
	full := c.cfg.TopicName(dst.Stream, dst.Topic)
	ctx, span := tracer.Start(ctx, "Send", trace.WithAttributes(attribute.String("topic", full)))
	defer span.End()

	start := time.Now()
	err := c.prod.ProduceSync(ctx, newRecord(full, dst, msg)).FirstErr()
	meter.Observe("send", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return &broker.TransportError{Op: "send", Err: err}
	}
	return nil
}

func toMessage(r *kgo.Record, partition uint32) broker.Message {
	return broker.Message{
		Offset:    uint64(r.Offset),
		Payload:   payload.RawBytes(r.Value),
		Timestamp: r.Timestamp,
		Partition: partition,
		Key:       r.Key,
	}
}

// fetchError отбрасывает истечение PollTimeout; OffsetOutOfRange значит,
// что новых сообщений нет.
func fetchError(fetches kgo.Fetches) (empty bool, err error) {
	for _, fe := range fetches.Errors() {
		switch {
		case errors.Is(fe.Err, context.DeadlineExceeded), errors.Is(fe.Err, context.Canceled):
		case errors.Is(fe.Err, kerr.OffsetOutOfRange):
			empty = true
		default:
			return false, fmt.Errorf("%s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
		}
	}
	return empty, nil
}

// Poll читает с req.Offset не дольше PollTimeout и не больше Count записей.
// Strategy=next не поддерживается, как и в kafkasarama.
func (c *Client) Poll(ctx context.Context, req broker.PollRequest) ([]broker.Message, error) {
	if c.prod == nil {
		return nil, broker.ErrNotLoggedIn
	}
	dst := req.Destination
	full := c.cfg.TopicName(dst.Stream, dst.Topic)
	part := transport.KafkaPartition(dst.Partition)

	cons, err := c.consumerFor(full, part, int64(req.Offset))
	if err != nil {
		meter.Fail("poll")
		return nil, &broker.TransportError{Op: "poll", Err: err}
	}

	count := int(req.Count)
	if count <= 0 {
		count = 1
	}
	pctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	fetches := cons.cl.PollRecords(pctx, count)
	cancel()

	if fetches.IsClientClosed() {
		c.closeConsumer()
		return nil, &broker.TransportError{Op: "poll", Err: kgo.ErrClientClosed}
	}
	if empty, ferr := fetchError(fetches); ferr != nil {
		c.closeConsumer()
		meter.Fail("poll")
		return nil, &broker.TransportError{Op: "poll", Err: ferr}
	} else if empty {
		return nil, nil
	}

	var out []broker.Message
	fetches.EachRecord(func(r *kgo.Record) {
		if r.Topic != full || r.Partition != part || len(out) >= count {
			return
		}
		out = append(out, toMessage(r, dst.Partition))
		cons.next = r.Offset + 1
		cons.polled = true
	})
	return out, nil
}

// consumerFor переиспользует consumer, пока смещение идёт подряд;
// при скачке смещения сдвигает его через SetOffsets или пересоздаёт.
func (c *Client) consumerFor(topic string, partition int32, offset int64) (*consumer, error) {
	if cons := c.cons; cons != nil && cons.topic == topic && cons.partition == partition {
		switch {
		case cons.next == offset:
			return cons, nil
		case cons.polled:
			cons.cl.SetOffsets(map[string]map[int32]kgo.EpochOffset{
				topic: {partition: {Epoch: -1, Offset: offset}},
			})
			cons.next = offset
			return cons, nil
		}
	}
	c.closeConsumer()

	opts := append([]kgo.Opt{}, c.opts...)
	opts = append(opts, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
		topic: {partition: kgo.NewOffset().At(offset)},
	}))
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	c.cons = &consumer{cl: cl, topic: topic, partition: partition, next: offset}
	return c.cons, nil
}

func (c *Client) closeConsumer() {
	if c.cons == nil {
		return
	}
	c.cons.cl.Close()
	c.cons = nil
}

// Ping проверяет доступность хотя бы одного брокера.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.prod == nil {
		return broker.ErrNotLoggedIn
	}
	ctx, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if err := c.prod.Ping(ctx); err != nil {
		meter.Fail("ping")
		span.RecordError(err)
		return &broker.TransportError{Op: "ping", Err: err}
	}
	return nil
}

// Close закрывает consumer и producer. kgo.Client.Close ошибок не возвращает.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prod == nil {
		return nil
	}
	c.closeConsumer()
	c.prod.Close()
	c.prod, c.admin = nil, nil
	c.log.Info("kafka client closed")
	return nil
}

var _ broker.Client = (*Client)(nil)
