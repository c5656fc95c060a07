// Package poller: цикл чтения: опрашивает брокер с отслеживаемого
// смещения, логирует сообщения и сдвигает курсор на last+1.
package poller

import (
	"context"
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
	"github.com/YaganovValera/iggy-clients/internal/offsetstore"
	"github.com/YaganovValera/iggy-clients/internal/payload"
	"github.com/YaganovValera/iggy-clients/internal/scheduler"
)

var tracer = otel.Tracer("poller")

// State: состояние цикла опроса.
type State int

const (
	StateWaitingForBatch State = iota
	StateProcessingBatch
	StateBackoffRetry
)

func (s State) String() string {
	switch s {
	case StateWaitingForBatch:
		return "WAITING_FOR_BATCH"
	case StateProcessingBatch:
		return "PROCESSING_BATCH"
	case StateBackoffRetry:
		return "BACKOFF_RETRY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config: настройки цикла опроса.
type Config struct {
	Interval   time.Duration
	BatchSize  uint32
	ConsumerID uint32
	AutoCommit bool
	Strategy   broker.Strategy
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.ConsumerID == 0 {
		c.ConsumerID = 1
	}
	if c.Strategy == "" {
		c.Strategy = broker.StrategyOffset
	}
}

// Poller владеет курсором; состояние трогает только собственный цикл.
type Poller struct {
	src   broker.Poller
	dst   broker.Destination
	cfg   Config
	store offsetstore.Store
	log   *logger.Logger

	offset uint64
	state  State
}

// Option настраивает Poller.
type Option func(*Poller)

// WithOffsetStore включает внешнюю фиксацию курсора.
func WithOffsetStore(s offsetstore.Store) Option {
	return func(p *Poller) { p.store = s }
}

// WithStartOffset задаёт начальное смещение (по умолчанию 0).
func WithStartOffset(off uint64) Option {
	return func(p *Poller) { p.offset = off }
}

// New создаёт Poller для уже подготовленного Destination.
func New(src broker.Poller, dst broker.Destination, cfg Config, log *logger.Logger, opts ...Option) *Poller {
	cfg.applyDefaults()
	p := &Poller{
		src: src,
		dst: dst,
		cfg: cfg,
		log: log.Named("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Offset: смещение, с которого начнётся следующий опрос.
func (p *Poller) Offset() uint64 { return p.offset }

// State: текущее состояние цикла.
func (p *Poller) State() State { return p.state }

func (p *Poller) storeKey() offsetstore.Key {
	return offsetstore.Key{
		Stream:     p.dst.Stream,
		Topic:      p.dst.Topic,
		Partition:  p.dst.Partition,
		ConsumerID: p.cfg.ConsumerID,
	}
}

// Restore подтягивает сохранённый курсор. Курсор только растёт, поэтому
// сохранённое значение меньше текущего игнорируется.
func (p *Poller) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	off, ok, err := p.store.Load(ctx, p.storeKey())
	if err != nil {
		return fmt.Errorf("poller: restore offset: %w", err)
	}
	if ok && off > p.offset {
		p.offset = off
		p.log.Info("offset restored", zap.Uint64("offset", off))
	}
	metrics.CurrentOffset.Set(float64(p.offset))
	return nil
}

// Tick выполняет один цикл WAITING → PROCESSING → WAITING.
// Ошибка транспорта переводит цикл в BACKOFF_RETRY и не сдвигает курсор.
func (p *Poller) Tick(ctx context.Context) error {
	p.state = StateWaitingForBatch

	ctx, span := tracer.Start(ctx, "Poller.Tick", trace.WithAttributes(
		attribute.Int64("offset", int64(p.offset)),
		attribute.String("destination", p.dst.String()),
	))
	defer span.End()
	ctx = logger.ContextWithRequestID(ctx, uuid.NewString())
	if tid := telemetry.TraceID(ctx); tid != "" {
		ctx = logger.ContextWithTraceID(ctx, tid)
	}
	log := p.log.WithContext(ctx)

	metrics.Polls.Inc()
	msgs, err := p.src.Poll(ctx, broker.PollRequest{
		Destination: p.dst,
		ConsumerID:  p.cfg.ConsumerID,
		Offset:      p.offset,
		Count:       p.cfg.BatchSize,
		AutoCommit:  p.cfg.AutoCommit,
		Strategy:    p.cfg.Strategy,
	})
	if err != nil {
		p.state = StateBackoffRetry
		metrics.PollErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "poll failed")
		log.Error("error while consuming, retrying",
			zap.Uint64("offset", p.offset),
			zap.Error(err),
		)
		return err
	}

	if len(msgs) == 0 {
		metrics.EmptyPolls.Inc()
		log.Debug("no new messages, waiting", zap.Uint64("offset", p.offset))
		return nil
	}

	p.state = StateProcessingBatch
	span.SetAttributes(attribute.Int("batch.size", len(msgs)))

	next := p.offset
	for _, m := range msgs {
		text, derr := payload.Decode(m.Payload)
		if derr != nil {
			metrics.DecodeFallbacks.Inc()
			log.Debug("payload decode fallback", zap.Uint64("offset", m.Offset), zap.Error(derr))
		}
		log.Info("message received",
			zap.Uint64("offset", m.Offset),
			zap.String("payload", text),
		)
		metrics.MessagesReceived.Inc()
		if m.Offset+1 > next {
			next = m.Offset + 1
		}
	}

	p.offset = next
	metrics.CurrentOffset.Set(float64(next))
	p.commit(ctx, log)
	p.state = StateWaitingForBatch
	return nil
}

func (p *Poller) commit(ctx context.Context, log *logger.Logger) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(ctx, p.storeKey(), p.offset); err != nil {
		log.Warn("offset checkpoint failed", zap.Uint64("offset", p.offset), zap.Error(err))
	}
}

// Run восстанавливает курсор и крутит Tick до отмены ctx.
func (p *Poller) Run(ctx context.Context, opts ...scheduler.Option) error {
	if err := p.Restore(ctx); err != nil {
		p.log.Warn("starting from in-memory offset", zap.Uint64("offset", p.offset), zap.Error(err))
	}
	p.log.Info("consuming from destination",
		zap.String("stream", p.dst.Stream),
		zap.String("topic", p.dst.Topic),
		zap.Uint32("partition", p.dst.Partition),
		zap.Uint32("consumer_id", p.cfg.ConsumerID),
		zap.Uint64("offset", p.offset),
		zap.String("strategy", string(p.cfg.Strategy)),
	)
	err := scheduler.RunUntilCancelled(ctx, p.Tick, p.cfg.Interval, opts...)
	p.log.Info("consumer stopped", zap.Uint64("offset", p.offset))
	return err
}
