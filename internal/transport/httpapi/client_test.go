package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/bootstrap"
	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/payload"
)

// fakeIggy: минимальный REST-сервер брокера для тестов.
type fakeIggy struct {
	mu      sync.Mutex
	logins  int
	tokens  map[string]bool
	streams map[string]uint32
	topics  map[string]uint32
	sent    []sendRequest
	queries []url.Values
	// pollBody отдаётся как есть на GET .../messages.
	pollBody string
}

func newFakeIggy() *fakeIggy {
	return &fakeIggy{
		tokens:  map[string]bool{},
		streams: map[string]uint32{},
		topics:  map[string]uint32{},
	}
}

func (f *fakeIggy) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
}

// expireTokens имитирует истечение всех выданных токенов.
func (f *fakeIggy) expireTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = map[string]bool{}
}

func (f *fakeIggy) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "pong") })
	r.Post("/users/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "iggy" || req.Password != "iggy" {
			http.Error(w, `{"code":"invalid_credentials"}`, http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.logins++
		tok := "tok-" + string(rune('0'+f.logins))
		f.tokens[tok] = true
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"user_id":1,"access_token":{"token":"`+tok+`","expiry":0}}`)
	})

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !f.authorized(r) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/streams/{s}", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			id, ok := f.streams[chi.URLParam(r, "s")]
			f.mu.Unlock()
			if !ok {
				http.Error(w, "stream not found", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(streamResponse{ID: id, Name: chi.URLParam(r, "s")})
		})
		r.Post("/streams", func(w http.ResponseWriter, r *http.Request) {
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.streams[req["name"]]; ok {
				http.Error(w, `{"code":"stream_name_already_exists"}`, http.StatusBadRequest)
				return
			}
			f.streams[req["name"]] = uint32(len(f.streams) + 1)
			w.WriteHeader(http.StatusCreated)
		})
		r.Get("/streams/{s}/topics/{t}", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			id, ok := f.topics[chi.URLParam(r, "s")+"/"+chi.URLParam(r, "t")]
			f.mu.Unlock()
			if !ok {
				http.Error(w, "topic not found", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(topicResponse{ID: id, Name: chi.URLParam(r, "t"), PartitionsCount: 1})
		})
		r.Post("/streams/{s}/topics", func(w http.ResponseWriter, r *http.Request) {
			var req createTopicRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			key := chi.URLParam(r, "s") + "/" + req.Name
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.topics[key]; ok {
				http.Error(w, "topic already exists", http.StatusConflict)
				return
			}
			id := uint32(len(f.topics) + 1)
			f.topics[key] = id
			_ = json.NewEncoder(w).Encode(topicResponse{ID: id, Name: req.Name, PartitionsCount: req.PartitionsCount})
		})
		r.Post("/streams/{s}/topics/{t}/messages", func(w http.ResponseWriter, r *http.Request) {
			var req sendRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.sent = append(f.sent, req)
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		})
		r.Get("/streams/{s}/topics/{t}/messages", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.queries = append(f.queries, r.URL.Query())
			body := f.pollBody
			f.mu.Unlock()
			_, _ = io.WriteString(w, body)
		})
	})
	return r
}

func newTestClient(t *testing.T, f *fakeIggy) *Client {
	t.Helper()
	ts := httptest.NewServer(f.router())
	t.Cleanup(ts.Close)
	c, err := New(Config{BaseURL: ts.URL}, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var creds = broker.Credentials{Username: "iggy", Password: "iggy"}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, newFakeIggy())

	if _, err := c.GetStream(ctx, "s"); !errors.Is(err, broker.ErrNotLoggedIn) {
		t.Errorf("call before login = %v", err)
	}
	_, err := c.Login(ctx, broker.Credentials{Username: "iggy", Password: "wrong"})
	if !broker.IsAuth(err) {
		t.Errorf("bad credentials = %v; want AuthError", err)
	}
	sess, err := c.Login(ctx, creds)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Token != "tok-1" || sess.UserID != 1 {
		t.Errorf("session = %+v", sess)
	}
}

func TestLogin_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	c, err := New(Config{BaseURL: ts.URL}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Login(context.Background(), creds)
	if broker.IsAuth(err) || !broker.IsTransport(err) {
		t.Errorf("unreachable server = %v; want TransportError only", err)
	}
}

func TestBootstrapOverREST(t *testing.T) {
	ctx := context.Background()
	f := newFakeIggy()
	c := newTestClient(t, f)
	target := bootstrap.Target{Stream: "demo-stream", Topic: "demo-topic", Partition: 1, PartitionsCount: 1}

	dst, err := bootstrap.EnsureDestination(ctx, c, creds, target)
	if err != nil {
		t.Fatalf("EnsureDestination: %v", err)
	}
	if dst.StreamID != 1 || dst.TopicID != 1 {
		t.Errorf("destination = %+v", dst)
	}
	if _, err := bootstrap.EnsureDestination(ctx, c, creds, target); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.streams) != 1 || len(f.topics) != 1 {
		t.Errorf("streams=%d topics=%d", len(f.streams), len(f.topics))
	}

	if _, err := c.CreateStream(ctx, "demo-stream"); !errors.Is(err, broker.ErrAlreadyExists) {
		t.Errorf("duplicate stream (400 body) = %v", err)
	}
	if _, err := c.CreateTopic(ctx, "demo-stream", "demo-topic", 1); !errors.Is(err, broker.ErrAlreadyExists) {
		t.Errorf("duplicate topic (409) = %v", err)
	}
	if _, err := c.GetTopic(ctx, "demo-stream", "nope"); !errors.Is(err, broker.ErrNotFound) {
		t.Errorf("missing topic = %v", err)
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	f := newFakeIggy()
	c := newTestClient(t, f)
	if _, err := c.Login(ctx, creds); err != nil {
		t.Fatal(err)
	}

	dst := broker.Destination{Stream: "demo-stream", Topic: "demo-topic", Partition: 1}
	body := `{"id":1,"text":"hi","ts":"2024-05-01T10:00:00Z"}`
	if err := c.Send(ctx, dst, broker.OutgoingMessage{ID: 1, Payload: []byte(body)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("server got %d sends", len(f.sent))
	}
	got := f.sent[0]
	if got.Partitioning.Kind != "partition_id" || got.Partitioning.Value != "AQAAAA==" {
		t.Errorf("partitioning = %+v", got.Partitioning)
	}
	raw, err := base64.StdEncoding.DecodeString(got.Messages[0].Payload)
	if err != nil || string(raw) != body {
		t.Errorf("payload = %q (%v)", raw, err)
	}
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	dst := broker.Destination{Stream: "s", Topic: "t", Partition: 1}
	req := broker.PollRequest{Destination: dst, ConsumerID: 1, Offset: 5, Count: 10, AutoCommit: true}

	cases := []struct {
		name     string
		body     string
		wantOffs []uint64
		wantText []string
	}{
		{"empty body", "", nil, nil},
		{"no messages field", `{"partition_id":1}`, nil, nil},
		{"header offsets", `{"messages":[{"header":{"offset":5,"timestamp":1714557600000000},"payload":"YQ=="},{"header":{"offset":6},"payload":"Yg=="}]}`,
			[]uint64{5, 6}, []string{"a", "b"}},
		{"root offset and byte array", `{"messages":[{"offset":9,"payload":[104,105]}]}`, []uint64{9}, []string{"hi"}},
		{"plain text payload", `{"messages":[{"offset":0,"payload":"hello world"}]}`, []uint64{0}, []string{"hello world"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeIggy()
			f.pollBody = tc.body
			c := newTestClient(t, f)
			if _, err := c.Login(ctx, creds); err != nil {
				t.Fatal(err)
			}
			msgs, err := c.Poll(ctx, req)
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if len(msgs) != len(tc.wantOffs) {
				t.Fatalf("got %d messages; want %d", len(msgs), len(tc.wantOffs))
			}
			for i, m := range msgs {
				text, _ := payload.Decode(m.Payload)
				if m.Offset != tc.wantOffs[i] || text != tc.wantText[i] {
					t.Errorf("msg %d = offset %d %q; want %d %q", i, m.Offset, text, tc.wantOffs[i], tc.wantText[i])
				}
			}

			q := f.queries[0]
			want := map[string]string{"consumer": "1", "partition_id": "1", "strategy": "offset", "value": "5", "count": "10", "auto_commit": "true"}
			for k, v := range want {
				if q.Get(k) != v {
					t.Errorf("query %s = %q; want %q", k, q.Get(k), v)
				}
			}
		})
	}
}

func TestPoll_Malformed(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		body string
	}{
		{"truncated json", `{"messages":[`},
		{"message without offset", `{"messages":[{"offset":3,"payload":"YQ=="},{"timestamp":1714557600000000,"payload":"Yg=="}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeIggy()
			f.pollBody = tc.body
			c := newTestClient(t, f)
			if _, err := c.Login(ctx, creds); err != nil {
				t.Fatal(err)
			}
			msgs, err := c.Poll(ctx, broker.PollRequest{Destination: broker.Destination{Stream: "s", Topic: "t", Partition: 1}})
			if !broker.IsTransport(err) || !strings.Contains(err.Error(), "malformed") {
				t.Errorf("err = %v; want malformed TransportError", err)
			}
			if msgs != nil {
				t.Errorf("msgs = %v; want nil on malformed response", msgs)
			}
		})
	}
}

func TestRelogin(t *testing.T) {
	ctx := context.Background()
	f := newFakeIggy()
	c := newTestClient(t, f)
	if _, err := c.Login(ctx, creds); err != nil {
		t.Fatal(err)
	}
	f.expireTokens()

	dst := broker.Destination{Stream: "s", Topic: "t", Partition: 1}
	if err := c.Send(ctx, dst, broker.OutgoingMessage{Payload: []byte("x")}); err != nil {
		t.Fatalf("Send after expiry: %v", err)
	}
	if f.logins != 2 {
		t.Errorf("logins = %d; want 2", f.logins)
	}
	if len(f.sent) != 1 {
		t.Errorf("sent = %d", len(f.sent))
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, newFakeIggy())
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStatusError(t *testing.T) {
	cases := []struct {
		code      int
		body      string
		notFound  bool
		exists    bool
		auth      bool
		transport bool
	}{
		{200, "", false, false, false, false},
		{404, "", true, false, false, true},
		{401, "", false, false, true, true},
		{403, "", false, false, true, true},
		{409, "", false, true, false, true},
		{400, "Stream with name: s already exists", false, true, false, true},
		{500, "boom", false, false, false, true},
	}
	for _, c := range cases {
		err := statusError("op", c.code, []byte(c.body))
		if errors.Is(err, broker.ErrNotFound) != c.notFound ||
			errors.Is(err, broker.ErrAlreadyExists) != c.exists ||
			broker.IsAuth(err) != c.auth ||
			broker.IsTransport(err) != c.transport {
			t.Errorf("statusError(%d, %q) = %v", c.code, c.body, err)
		}
	}
	if err := statusError("send", 500, []byte("disk full")); !strings.Contains(err.Error(), "disk full") {
		t.Errorf("body text lost: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, u := range []string{"ftp://x", "http://", "::"} {
		if _, err := New(Config{BaseURL: u}, logger.Nop()); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
	if _, err := New(Config{}, logger.Nop()); err != nil {
		t.Errorf("default config: %v", err)
	}
	if got := partitionValue(1); got != "AQAAAA==" {
		t.Errorf("partitionValue(1) = %q", got)
	}
}
