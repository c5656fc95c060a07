// Package httpapi: транспорт поверх REST API брокера Iggy:
// логин по /users/login, Bearer-токен, провижининг stream/topic,
// отправка и опрос сообщений.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/transport"
)

var meter = transport.NewMeter("http")

var tracer = otel.Tracer("iggy-http")

func init() {
	transport.Register("http", func(cfg transport.Config, log *logger.Logger) (broker.Client, error) {
		return New(Config{BaseURL: cfg.HTTP.BaseURL, Timeout: cfg.HTTP.Timeout}, log)
	})
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

type Config struct {
	// BaseURL: адрес REST API, например http://localhost:3000.
	BaseURL string
	// Timeout на один HTTP-вызов.
	Timeout time.Duration
	// HTTPClient подменяется в тестах; по умолчанию создаётся новый.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:3000"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("httpapi: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("httpapi: base url must be http(s), got %q", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("httpapi: base url has no host: %q", c.BaseURL)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client реализует broker.Client. Токен принадлежит циклу, который
// вызывает Login; Ping токен не использует.
type Client struct {
	base string
	http *http.Client
	log  *logger.Logger

	creds *broker.Credentials
	token string
}

// New создаёт клиента без соединения; сеть трогает только Login.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: hc,
		log:  log.Named("iggy-http"),
	}, nil
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	out    any
	// anonymous: без Bearer и без повторного логина (login, ping).
	anonymous bool
}

// do выполняет вызов; на 401 один раз перелогинивается и повторяет.
func (c *Client) do(ctx context.Context, cl call) error {
	if !cl.anonymous && c.token == "" {
		return broker.ErrNotLoggedIn
	}
	err := c.roundTrip(ctx, cl)
	if err == nil || cl.anonymous || c.creds == nil || !isUnauthorized(err) {
		return err
	}

	httpMetrics.Relogins.WithLabelValues(transport.ServiceLabel()).Inc()
	c.log.WithContext(ctx).Warn("token rejected, logging in again", zap.String("op", cl.op))
	if _, lerr := c.Login(ctx, *c.creds); lerr != nil {
		return lerr
	}
	return c.roundTrip(ctx, cl)
}

func isUnauthorized(err error) bool {
	var te *broker.TransportError
	return broker.IsAuth(err) && errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized
}

// roundTrip: один HTTP-вызов. 404 и прочие non-2xx тоже считаются
// как result=error в метриках транспорта.
func (c *Client) roundTrip(ctx context.Context, cl call) (err error) {
	ctx, span := tracer.Start(ctx, "iggy-http."+cl.op, trace.WithAttributes(
		attribute.String("http.method", cl.method),
		attribute.String("http.route", cl.path),
	))
	defer span.End()

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("httpapi: marshal %s request: %w", cl.op, err)
		}
		body = bytes.NewReader(b)
	}

	u := c.base + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return &broker.TransportError{Op: cl.op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !cl.anonymous && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	defer func() { meter.Observe(cl.op, start, err) }()
	resp, err := c.http.Do(req)
	if err != nil {
		httpMetrics.Requests.WithLabelValues(transport.ServiceLabel(), cl.op, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return &broker.TransportError{Op: cl.op, Err: err}
	}
	defer resp.Body.Close()

	httpMetrics.Requests.WithLabelValues(transport.ServiceLabel(), cl.op, strconv.Itoa(resp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &broker.TransportError{Op: cl.op, StatusCode: resp.StatusCode, Err: err}
	}
	if err := statusError(cl.op, resp.StatusCode, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-2xx response")
		return err
	}

	if cl.out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, cl.out); err != nil {
		return &broker.TransportError{
			Op:         cl.op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("malformed response: %w", err),
		}
	}
	return nil
}

// Ping проверяет, что REST API отвечает.
func (c *Client) Ping(ctx context.Context) error {
	return c.roundTrip(ctx, call{op: "ping", method: http.MethodGet, path: "/ping", anonymous: true})
}

// Close забывает токен; HTTP-соединения закрываются пулом транспорта.
func (c *Client) Close() error {
	c.token = ""
	c.creds = nil
	c.http.CloseIdleConnections()
	return nil
}

func streamPath(stream string) string {
	return "/streams/" + url.PathEscape(stream)
}

func topicPath(stream, topic string) string {
	return streamPath(stream) + "/topics/" + url.PathEscape(topic)
}

var _ broker.Client = (*Client)(nil)
