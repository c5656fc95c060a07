// Package publisher: цикл отправки: каждый тик формирует JSON-сообщение
// с растущим id и отправляет его в Destination.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/common/telemetry"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/metrics"
	"github.com/YaganovValera/iggy-clients/internal/scheduler"
)

var tracer = otel.Tracer("publisher")

// Config: настройки цикла отправки.
type Config struct {
	Interval time.Duration
	Text     string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Text == "" {
		c.Text = "hello from producer"
	}
}

// Payload: тело сообщения.
type Payload struct {
	ID   uint64 `json:"id"`
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// Publisher владеет счётчиком id; доступ только из собственного цикла.
type Publisher struct {
	sender broker.Sender
	dst    broker.Destination
	cfg    Config
	log    *logger.Logger
	now    func() time.Time

	lastID uint64
}

// Option настраивает Publisher.
type Option func(*Publisher)

// WithClock подменяет источник времени для поля ts.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// New создаёт Publisher для уже подготовленного Destination.
func New(sender broker.Sender, dst broker.Destination, cfg Config, log *logger.Logger, opts ...Option) *Publisher {
	cfg.applyDefaults()
	p := &Publisher{
		sender: sender,
		dst:    dst,
		cfg:    cfg,
		log:    log.Named("publisher"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LastID: id последнего сформированного сообщения (0 до первого тика).
func (p *Publisher) LastID() uint64 { return p.lastID }

// Tick формирует и отправляет одно сообщение. id растёт на 1 независимо
// от результата отправки. Ошибка отправки логируется и возвращается
// планировщику, цикл при этом не прерывается.
func (p *Publisher) Tick(ctx context.Context) error {
	p.lastID++
	id := p.lastID
	metrics.LastMessageID.Set(float64(id))

	ctx, span := tracer.Start(ctx, "Publisher.Tick", trace.WithAttributes(
		attribute.Int64("message.id", int64(id)),
		attribute.String("destination", p.dst.String()),
	))
	defer span.End()
	ctx = logger.ContextWithRequestID(ctx, uuid.NewString())
	if tid := telemetry.TraceID(ctx); tid != "" {
		ctx = logger.ContextWithTraceID(ctx, tid)
	}
	log := p.log.WithContext(ctx)

	body, err := json.Marshal(Payload{
		ID:   id,
		Text: p.cfg.Text,
		TS:   p.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		// Payload состоит из примитивов, сюда попасть нельзя.
		return fmt.Errorf("publisher: marshal: %w", err)
	}

	start := time.Now()
	err = p.sender.Send(ctx, p.dst, broker.OutgoingMessage{ID: id, Payload: body})
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SendErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		log.Error("failed to send message",
			zap.Uint64("message_id", id),
			zap.Error(err),
		)
		return err
	}

	metrics.MessagesSent.Inc()
	log.Info("sent message",
		zap.Uint64("message_id", id),
		zap.ByteString("payload", body),
	)
	return nil
}

// Run крутит Tick с фиксированным интервалом до отмены ctx.
func (p *Publisher) Run(ctx context.Context, opts ...scheduler.Option) error {
	p.log.Info("producing",
		zap.String("stream", p.dst.Stream),
		zap.String("topic", p.dst.Topic),
		zap.Uint32("partition", p.dst.Partition),
		zap.Duration("interval", p.cfg.Interval),
	)
	err := scheduler.RunUntilCancelled(ctx, p.Tick, p.cfg.Interval, opts...)
	p.log.Info("producer stopped", zap.Uint64("last_message_id", p.lastID))
	return err
}
