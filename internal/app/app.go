// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/iggy-clients/common/backoff"
	"github.com/YaganovValera/iggy-clients/common/httpserver"
	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/common/middleware"
	"github.com/YaganovValera/iggy-clients/common/shutdown"
	"github.com/YaganovValera/iggy-clients/common/telemetry"
	"github.com/YaganovValera/iggy-clients/internal/bootstrap"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/config"
	"github.com/YaganovValera/iggy-clients/internal/metrics"
	"github.com/YaganovValera/iggy-clients/internal/offsetstore"
	"github.com/YaganovValera/iggy-clients/internal/poller"
	"github.com/YaganovValera/iggy-clients/internal/publisher"
	"github.com/YaganovValera/iggy-clients/internal/scheduler"
	"github.com/YaganovValera/iggy-clients/internal/transport"

	// транспорты регистрируются в init()
	_ "github.com/YaganovValera/iggy-clients/internal/transport/httpapi"
	_ "github.com/YaganovValera/iggy-clients/internal/transport/kafkafranz"
	_ "github.com/YaganovValera/iggy-clients/internal/transport/kafkasarama"
	_ "github.com/YaganovValera/iggy-clients/internal/transport/memory"
)

const closeTimeout = 5 * time.Second

// session: то, что общее у producer и consumer после bootstrap.
type session struct {
	cfg    *config.Config
	log    *logger.Logger
	client broker.Client
	dst    broker.Destination

	shutdownTracer telemetry.ShutdownFunc
}

// start поднимает метрики, трейсинг, транспорт и выполняет bootstrap.
// При ошибке всё уже созданное закрыто.
func start(ctx context.Context, cfg *config.Config, log *logger.Logger) (*session, error) {
	// -------------------------------------------------------------------------
	// 0) Service-label для метрик подсистем
	// -------------------------------------------------------------------------
	backoff.SetServiceLabel(cfg.ServiceName)
	transport.SetServiceLabel(cfg.ServiceName)

	// -------------------------------------------------------------------------
	// 1) Prometheus-метрики
	// -------------------------------------------------------------------------
	metrics.Register()

	// -------------------------------------------------------------------------
	// 2) OpenTelemetry
	// -------------------------------------------------------------------------
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
		SamplerRatio:   cfg.Telemetry.SamplerRatio,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	// -------------------------------------------------------------------------
	// 3) Transport
	// -------------------------------------------------------------------------
	client, err := transport.New(cfg.Transport, log)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, fmt.Errorf("transport init: %w", err)
	}

	// -------------------------------------------------------------------------
	// 4) Bootstrap: login + stream + topic
	// -------------------------------------------------------------------------
	dst, err := bootstrap.EnsureDestination(ctx, client, cfg.Creds(), bootstrap.Target{
		Stream:          cfg.Destination.Stream,
		Topic:           cfg.Destination.Topic,
		Partition:       cfg.Destination.Partition,
		PartitionsCount: cfg.Destination.PartitionsCount,
	},
		bootstrap.WithBackoff(cfg.Bootstrap.Backoff),
		bootstrap.WithLogger(log),
	)
	if err != nil {
		_ = client.Close()
		_ = shutdownTracer(context.Background())
		return nil, err
	}

	return &session{cfg: cfg, log: log, client: client, dst: dst, shutdownTracer: shutdownTracer}, nil
}

// run крутит loop рядом со служебным HTTP-сервером. Отмена или дедлайн
// parent: штатная остановка; ошибка любой из горутин останавливает обе.
func (s *session) run(parent context.Context, loop func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(parent)

	if s.cfg.HTTP.Port > 0 {
		h := s.cfg.HTTP
		srv, err := httpserver.New(httpserver.Config{
			Addr: fmt.Sprintf(":%d", h.Port),
			Paths: httpserver.Paths{
				Metrics: h.MetricsPath,
				Healthz: h.HealthzPath,
				Readyz:  h.ReadyzPath,
			},
			ReadTimeout:     h.ReadTimeout,
			WriteTimeout:    h.WriteTimeout,
			IdleTimeout:     h.IdleTimeout,
			ShutdownTimeout: h.ShutdownTimeout,
		}, []httpserver.Check{{Name: "broker", Probe: s.client.Ping}}, s.log,
			httpserver.CORSMiddleware(h.CORSOrigins...), middleware.Metrics())
		if err != nil {
			return fmt.Errorf("http server init: %w", err)
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	g.Go(func() error {
		if err := loop(ctx); err != nil {
			return err
		}
		// цикл вернулся только по отмене: гасим и сервер
		return ctx.Err()
	})

	err := g.Wait()
	// сигнал или дедлайн вызывающего: штатная остановка
	if parent.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}

func (s *session) close() {
	shutdown.Safe(context.Background(), "transport", s.client.Close, s.log)
	shutdown.WithTimeout("telemetry", closeTimeout, s.shutdownTracer, s.log)
}

// -----------------------------------------------------------------------------
// Producer
// -----------------------------------------------------------------------------

// RunProducer: bootstrap, затем публикация с producer.interval до отмены ctx.
func RunProducer(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	s, err := start(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.close()

	pub := publisher.New(s.client, s.dst, publisher.Config{
		Interval: cfg.Producer.Interval,
		Text:     cfg.Producer.Text,
	}, log)

	err = s.run(ctx, func(ctx context.Context) error { return pub.Run(ctx) })
	log.Info("producer shutdown complete", zap.Uint64("last_message_id", pub.LastID()))
	return err
}

// -----------------------------------------------------------------------------
// Consumer
// -----------------------------------------------------------------------------

// RunConsumer: bootstrap, восстановление курсора, опрос до отмены ctx.
func RunConsumer(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	s, err := start(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.close()

	store, err := offsetstore.Open(ctx, cfg.Offsets.OffsetStore(), log)
	if err != nil {
		return fmt.Errorf("offset store init: %w", err)
	}
	if store != nil {
		defer shutdown.Safe(context.Background(), "offsetstore", store.Close, log)
	}

	var schedOpts []scheduler.Option
	if strings.EqualFold(cfg.Consumer.Retry.Kind, "exponential") {
		policy, err := backoff.NewPolicy(cfg.Consumer.Retry.Backoff)
		if err != nil {
			return fmt.Errorf("consumer retry policy: %w", err)
		}
		schedOpts = append(schedOpts, scheduler.WithRetryPolicy(policy))
	}

	var pollOpts []poller.Option
	if store != nil {
		pollOpts = append(pollOpts, poller.WithOffsetStore(store))
	}
	p := poller.New(s.client, s.dst, poller.Config{
		Interval:   cfg.Consumer.Interval,
		BatchSize:  cfg.Consumer.BatchSize,
		ConsumerID: cfg.Consumer.ConsumerID,
		AutoCommit: cfg.Consumer.AutoCommit,
		Strategy:   broker.Strategy(strings.ToLower(cfg.Consumer.Strategy)),
	}, log, pollOpts...)

	err = s.run(ctx, func(ctx context.Context) error { return p.Run(ctx, schedOpts...) })
	log.Info("consumer shutdown complete", zap.Uint64("offset", p.Offset()))
	return err
}
