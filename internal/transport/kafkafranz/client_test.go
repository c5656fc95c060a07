package kafkafranz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/payload"
	"github.com/YaganovValera/iggy-clients/internal/transport"
)

// fakeCluster отвечает на Metadata и CreateTopics из памяти.
type fakeCluster struct {
	topics    map[string]int32
	createErr int16
	err       error
	created   []kmsg.CreateTopicsRequestTopic
}

func (f *fakeCluster) Request(_ context.Context, req kmsg.Request) (kmsg.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	switch r := req.(type) {
	case *kmsg.MetadataRequest:
		resp := kmsg.NewPtrMetadataResponse()
		for name, n := range f.topics {
			t := kmsg.NewMetadataResponseTopic()
			t.Topic = kmsg.StringPtr(name)
			t.Partitions = make([]kmsg.MetadataResponseTopicPartition, n)
			resp.Topics = append(resp.Topics, t)
		}
		// топик с ошибкой в метаданных не должен считаться существующим
		bad := kmsg.NewMetadataResponseTopic()
		bad.Topic = kmsg.StringPtr("broken.topic")
		bad.ErrorCode = kerr.LeaderNotAvailable.Code
		resp.Topics = append(resp.Topics, bad)
		return resp, nil
	case *kmsg.CreateTopicsRequest:
		resp := kmsg.NewPtrCreateTopicsResponse()
		for _, rt := range r.Topics {
			f.created = append(f.created, rt)
			t := kmsg.NewCreateTopicsResponseTopic()
			t.Topic = rt.Topic
			switch _, exists := f.topics[rt.Topic]; {
			case f.createErr != 0:
				t.ErrorCode = f.createErr
			case exists:
				t.ErrorCode = kerr.TopicAlreadyExists.Code
			default:
				f.topics[rt.Topic] = rt.NumPartitions
			}
			resp.Topics = append(resp.Topics, t)
		}
		return resp, nil
	}
	return nil, errors.New("unexpected request")
}

var testCfg = Config{KafkaConfig: transport.KafkaConfig{Brokers: []string{"localhost:9092"}}}

func newAdminClient(t *testing.T, fc *fakeCluster) *Client {
	t.Helper()
	c, err := New(testCfg, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.admin = fc
	return c
}

func TestProvisioning(t *testing.T) {
	ctx := context.Background()
	fc := &fakeCluster{topics: map[string]int32{"other.events": 3}}
	c := newAdminClient(t, fc)

	if _, err := c.GetStream(ctx, "demo-stream"); !errors.Is(err, broker.ErrNotFound) {
		t.Fatalf("GetStream = %v; want ErrNotFound", err)
	}
	if s, err := c.GetStream(ctx, "other"); err != nil || s.Name != "other" {
		t.Errorf("GetStream(other) = %v, %v", s, err)
	}
	if _, err := c.CreateStream(ctx, "demo-stream"); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if _, err := c.GetStream(ctx, "demo-stream"); err != nil {
		t.Errorf("reserved stream not found: %v", err)
	}

	if _, err := c.GetTopic(ctx, "demo-stream", "demo-topic"); !errors.Is(err, broker.ErrNotFound) {
		t.Fatalf("GetTopic = %v; want ErrNotFound", err)
	}
	ti, err := c.CreateTopic(ctx, "demo-stream", "demo-topic", 2)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if ti.PartitionsCount != 2 {
		t.Errorf("PartitionsCount = %d", ti.PartitionsCount)
	}
	if len(fc.created) != 1 {
		t.Fatalf("create requests = %d", len(fc.created))
	}
	if got := fc.created[0]; got.Topic != "demo-stream.demo-topic" || got.NumPartitions != 2 || got.ReplicationFactor != 1 {
		t.Errorf("create request = %+v", got)
	}

	ti, err = c.GetTopic(ctx, "demo-stream", "demo-topic")
	if err != nil || ti.PartitionsCount != 2 {
		t.Errorf("GetTopic = %+v, %v", ti, err)
	}
	if _, err := c.CreateTopic(ctx, "demo-stream", "demo-topic", 2); !errors.Is(err, broker.ErrAlreadyExists) {
		t.Errorf("second CreateTopic = %v; want ErrAlreadyExists", err)
	}
	if _, err := c.GetTopic(ctx, "broken", "topic"); !errors.Is(err, broker.ErrNotFound) {
		t.Errorf("topic with metadata error = %v; want ErrNotFound", err)
	}
}

func TestProvisioning_Errors(t *testing.T) {
	ctx := context.Background()

	c := newAdminClient(t, &fakeCluster{topics: map[string]int32{}, createErr: kerr.InvalidReplicationFactor.Code})
	_, err := c.CreateTopic(ctx, "s", "t", 1)
	if !broker.IsTransport(err) || !errors.Is(err, kerr.InvalidReplicationFactor) {
		t.Errorf("CreateTopic = %v; want TransportError(InvalidReplicationFactor)", err)
	}

	c = newAdminClient(t, &fakeCluster{err: errors.New("dial tcp: refused")})
	if _, err := c.GetTopic(ctx, "s", "t"); !broker.IsTransport(err) {
		t.Errorf("GetTopic = %v; want TransportError", err)
	}
	if _, err := c.CreateTopic(ctx, "s", "t", 1); !broker.IsTransport(err) {
		t.Errorf("CreateTopic = %v; want TransportError", err)
	}
}

func TestNotLoggedIn(t *testing.T) {
	ctx := context.Background()
	c, err := New(testCfg, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dst := broker.Destination{Stream: "s", Topic: "t", Partition: 1}
	checks := map[string]error{
		"get_stream": func() error { _, err := c.GetStream(ctx, "s"); return err }(),
		"create":     func() error { _, err := c.CreateStream(ctx, "s"); return err }(),
		"get_topic":  func() error { _, err := c.GetTopic(ctx, "s", "t"); return err }(),
		"send":       c.Send(ctx, dst, broker.OutgoingMessage{ID: 1}),
		"poll":       func() error { _, err := c.Poll(ctx, broker.PollRequest{Destination: dst}); return err }(),
		"ping":       c.Ping(ctx),
	}
	for op, err := range checks {
		if !errors.Is(err, broker.ErrNotLoggedIn) {
			t.Errorf("%s: %v; want ErrNotLoggedIn", op, err)
		}
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLoginError(t *testing.T) {
	if err := loginError(kerr.SaslAuthenticationFailed); !broker.IsAuth(err) {
		t.Errorf("SASL failure = %v; want AuthError", err)
	}
	if err := loginError(errors.New("dial tcp: i/o timeout")); !broker.IsTransport(err) || broker.IsAuth(err) {
		t.Errorf("network failure = %v; want TransportError", err)
	}
}

func TestClientOpts(t *testing.T) {
	cases := []struct {
		name    string
		acks    string
		comp    string
		creds   broker.Credentials
		wantLen int
		wantErr bool
	}{
		{"defaults", "all", "none", broker.Credentials{}, 6, false},
		{"leader disables idempotence", "leader", "gzip", broker.Credentials{}, 7, false},
		{"none acks", "none", "zstd", broker.Credentials{}, 7, false},
		{"sasl", "all", "lz4", broker.Credentials{Username: "iggy", Password: "iggy"}, 7, false},
		{"bad acks", "quorum", "none", broker.Credentials{}, 0, true},
		{"bad compression", "all", "brotli", broker.Credentials{}, 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := testCfg
			cfg.Acks, cfg.Compression = c.acks, c.comp
			opts, err := clientOpts(cfg, c.creds)
			if (err != nil) != c.wantErr {
				t.Fatalf("err = %v; wantErr=%v", err, c.wantErr)
			}
			if len(opts) != c.wantLen {
				t.Errorf("len(opts) = %d; want %d", len(opts), c.wantLen)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.ClientID != "iggy-clients" || cfg.Acks != "all" || cfg.PollTimeout != time.Second || cfg.ReplicationFactor != 1 {
		t.Errorf("defaults = %+v", cfg)
	}
	if _, err := New(Config{}, logger.Nop()); err == nil {
		t.Error("expected error for empty brokers")
	}
	bad := testCfg
	bad.Acks = "two"
	if _, err := New(bad, logger.Nop()); err == nil {
		t.Error("expected error for invalid acks")
	}
}

func TestFetchError(t *testing.T) {
	fetches := func(errs ...error) kgo.Fetches {
		var parts []kgo.FetchPartition
		for i, err := range errs {
			parts = append(parts, kgo.FetchPartition{Partition: int32(i), Err: err})
		}
		return kgo.Fetches{{Topics: []kgo.FetchTopic{{Topic: "s.t", Partitions: parts}}}}
	}
	cases := []struct {
		name      string
		in        kgo.Fetches
		wantEmpty bool
		wantErr   bool
	}{
		{"no errors", fetches(), false, false},
		{"poll timeout", fetches(context.DeadlineExceeded), false, false},
		{"out of range", fetches(kerr.OffsetOutOfRange), true, false},
		{"broker error", fetches(kerr.NotLeaderForPartition), false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			empty, err := fetchError(c.in)
			if empty != c.wantEmpty || (err != nil) != c.wantErr {
				t.Errorf("fetchError = %v, %v", empty, err)
			}
		})
	}
}

func TestRecordMapping(t *testing.T) {
	dst := broker.Destination{Stream: "s", Topic: "t", Partition: 1}
	r := newRecord("s.t", dst, broker.OutgoingMessage{ID: 42, Payload: []byte(`{"id":42}`)})
	if r.Partition != 0 || r.Topic != "s.t" || r.Key != nil {
		t.Errorf("record = %+v", r)
	}
	if len(r.Headers) != 1 || string(r.Headers[0].Value) != "42" {
		t.Errorf("headers = %+v", r.Headers)
	}

	ts := time.Unix(1700000000, 0)
	m := toMessage(&kgo.Record{Offset: 7, Value: []byte("hi"), Timestamp: ts}, 1)
	if m.Offset != 7 || m.Partition != 1 || !m.Timestamp.Equal(ts) || m.Payload.Encoding != payload.Raw {
		t.Errorf("message = %+v", m)
	}
}
