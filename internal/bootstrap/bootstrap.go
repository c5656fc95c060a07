// internal/bootstrap/bootstrap.go
//
// Bootstrap выполняется один раз до цикла producer/consumer: логин,
// проверка stream и topic, создание отсутствующих. Повторный запуск
// ничего не создаёт.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/backoff"
	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/metrics"
)

var tracer = otel.Tracer("bootstrap")

// Target: что должно существовать на брокере.
type Target struct {
	Stream          string
	Topic           string
	Partition       uint32
	PartitionsCount uint32
}

func (t Target) validate() error {
	if t.Stream == "" {
		return fmt.Errorf("bootstrap: stream name is required")
	}
	if t.Topic == "" {
		return fmt.Errorf("bootstrap: topic name is required")
	}
	if t.PartitionsCount > 0 && t.Partition > t.PartitionsCount {
		return fmt.Errorf("bootstrap: partition %d out of range (partitions_count=%d)", t.Partition, t.PartitionsCount)
	}
	return nil
}

type options struct {
	backoff backoff.Config
	log     *logger.Logger
}

// Option настраивает EnsureDestination.
type Option func(*options)

// WithBackoff задаёт политику повторов логина при недоступном сервисе.
func WithBackoff(cfg backoff.Config) Option {
	return func(o *options) { o.backoff = cfg }
}

// WithLogger задаёт логгер.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// EnsureDestination логинится и гарантирует существование stream/topic.
// Ошибки: *broker.AuthError, *broker.ProvisioningError.
func EnsureDestination(ctx context.Context, admin broker.Admin, creds broker.Credentials, target Target, opts ...Option) (broker.Destination, error) {
	o := options{
		backoff: backoff.Config{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxElapsedTime:  30 * time.Second,
		},
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.Named("bootstrap")

	if target.PartitionsCount == 0 {
		target.PartitionsCount = 1
	}
	if err := target.validate(); err != nil {
		return broker.Destination{}, err
	}

	ctx, span := tracer.Start(ctx, "Bootstrap")
	defer span.End()
	span.SetAttributes(
		attribute.String("stream", target.Stream),
		attribute.String("topic", target.Topic),
	)

	dst, err := ensure(ctx, admin, creds, target, o.backoff, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bootstrap failed")
		return broker.Destination{}, err
	}
	return dst, nil
}

func ensure(ctx context.Context, admin broker.Admin, creds broker.Credentials, target Target, bo backoff.Config, log *logger.Logger) (broker.Destination, error) {
	if err := login(ctx, admin, creds, bo, log); err != nil {
		return broker.Destination{}, err
	}

	s, err := ensureStream(ctx, admin, target.Stream, log)
	if err != nil {
		return broker.Destination{}, err
	}
	t, err := ensureTopic(ctx, admin, target, log)
	if err != nil {
		return broker.Destination{}, err
	}

	return broker.Destination{
		Stream:    target.Stream,
		Topic:     target.Topic,
		Partition: target.Partition,
		StreamID:  s.ID,
		TopicID:   t.ID,
	}, nil
}

// login: неверные учётные данные фатальны сразу, недоступный сервис
// повторяется с экспоненциальной паузой.
func login(ctx context.Context, admin broker.Admin, creds broker.Credentials, bo backoff.Config, log *logger.Logger) error {
	err := backoff.Execute(ctx, "login", bo, log, func(ctx context.Context) error {
		_, err := admin.Login(ctx, creds)
		if err != nil && broker.IsAuth(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err == nil {
		log.Info("logged in", zap.String("user", creds.Username))
		return nil
	}

	var ae *broker.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return &broker.AuthError{Op: "login", Err: err}
}

func ensureStream(ctx context.Context, admin broker.Admin, name string, log *logger.Logger) (*broker.StreamInfo, error) {
	s, err := admin.GetStream(ctx, name)
	switch {
	case err == nil:
		log.Info(fmt.Sprintf("stream already exists (id=%d)", s.ID), zap.String("stream", name))
		return s, nil
	case !errors.Is(err, broker.ErrNotFound):
		return nil, provisioning("stream", name, err)
	}

	s, err = admin.CreateStream(ctx, name)
	switch {
	case err == nil:
		metrics.BootstrapCreated.WithLabelValues("stream").Inc()
		log.Info("stream created", zap.String("stream", name), zap.Uint32("id", s.ID))
		return s, nil
	case errors.Is(err, broker.ErrAlreadyExists):
		// создан параллельно другим клиентом
		s, err = admin.GetStream(ctx, name)
		if err != nil {
			return nil, provisioning("stream", name, err)
		}
		log.Info(fmt.Sprintf("stream already exists (id=%d)", s.ID), zap.String("stream", name))
		return s, nil
	default:
		return nil, provisioning("stream", name, err)
	}
}

func ensureTopic(ctx context.Context, admin broker.Admin, target Target, log *logger.Logger) (*broker.TopicInfo, error) {
	t, err := admin.GetTopic(ctx, target.Stream, target.Topic)
	switch {
	case err == nil:
		log.Info(fmt.Sprintf("topic already exists (id=%d)", t.ID), zap.String("topic", target.Topic))
		return t, nil
	case !errors.Is(err, broker.ErrNotFound):
		return nil, provisioning("topic", target.Topic, err)
	}

	t, err = admin.CreateTopic(ctx, target.Stream, target.Topic, target.PartitionsCount)
	switch {
	case err == nil:
		metrics.BootstrapCreated.WithLabelValues("topic").Inc()
		log.Info("topic created",
			zap.String("topic", target.Topic),
			zap.Uint32("id", t.ID),
			zap.Uint32("partitions", t.PartitionsCount),
		)
		return t, nil
	case errors.Is(err, broker.ErrAlreadyExists):
		t, err = admin.GetTopic(ctx, target.Stream, target.Topic)
		if err != nil {
			return nil, provisioning("topic", target.Topic, err)
		}
		log.Info(fmt.Sprintf("topic already exists (id=%d)", t.ID), zap.String("topic", target.Topic))
		return t, nil
	default:
		return nil, provisioning("topic", target.Topic, err)
	}
}

func provisioning(resource, name string, err error) error {
	var pe *broker.ProvisioningError
	if errors.As(err, &pe) {
		return pe
	}
	return &broker.ProvisioningError{Resource: resource, Name: name, Err: err}
}
