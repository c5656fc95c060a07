package httpapi

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/internal/broker"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID      uint32 `json:"user_id"`
	AccessToken struct {
		Token  string `json:"token"`
		Expiry uint64 `json:"expiry"`
	} `json:"access_token"`
}

type streamResponse struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

type topicResponse struct {
	ID              uint32 `json:"id"`
	Name            string `json:"name"`
	PartitionsCount uint32 `json:"partitions_count"`
}

type createTopicRequest struct {
	Name                 string `json:"name"`
	PartitionsCount      uint32 `json:"partitions_count"`
	CompressionAlgorithm string `json:"compression_algorithm"`
	MessageExpiry        uint64 `json:"message_expiry"`
	MaxTopicSize         uint64 `json:"max_topic_size"`
	ReplicationFactor    uint8  `json:"replication_factor"`
}

// Login получает access token и запоминает учётные данные для
// прозрачного перелогина. Неверные данные: *broker.AuthError,
// недоступный сервис: *broker.TransportError.
func (c *Client) Login(ctx context.Context, creds broker.Credentials) (*broker.Session, error) {
	var out loginResponse
	err := c.roundTrip(ctx, call{
		op:        "login",
		method:    http.MethodPost,
		path:      "/users/login",
		body:      loginRequest{Username: creds.Username, Password: creds.Password},
		out:       &out,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}
	if out.AccessToken.Token == "" {
		return nil, &broker.TransportError{Op: "login", StatusCode: http.StatusOK, Err: errors.New("malformed response: empty access token")}
	}

	c.token = out.AccessToken.Token
	c.creds = &creds
	c.log.WithContext(ctx).Info("logged in", zap.String("user", creds.Username), zap.Uint32("user_id", out.UserID))
	return &broker.Session{Token: out.AccessToken.Token, UserID: out.UserID}, nil
}

func (c *Client) GetStream(ctx context.Context, name string) (*broker.StreamInfo, error) {
	var out streamResponse
	if err := c.do(ctx, call{op: "get_stream", method: http.MethodGet, path: streamPath(name), out: &out}); err != nil {
		return nil, err
	}
	return &broker.StreamInfo{ID: out.ID, Name: nameOr(out.Name, name)}, nil
}

// CreateStream: часть версий сервера отвечает пустым телом,
// тогда id дочитывается отдельным GET.
func (c *Client) CreateStream(ctx context.Context, name string) (*broker.StreamInfo, error) {
	var out streamResponse
	err := c.do(ctx, call{
		op:     "create_stream",
		method: http.MethodPost,
		path:   "/streams",
		body:   map[string]string{"name": name},
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return c.GetStream(ctx, name)
	}
	return &broker.StreamInfo{ID: out.ID, Name: nameOr(out.Name, name)}, nil
}

func (c *Client) GetTopic(ctx context.Context, stream, name string) (*broker.TopicInfo, error) {
	var out topicResponse
	if err := c.do(ctx, call{op: "get_topic", method: http.MethodGet, path: topicPath(stream, name), out: &out}); err != nil {
		return nil, err
	}
	return &broker.TopicInfo{ID: out.ID, Name: nameOr(out.Name, name), PartitionsCount: out.PartitionsCount}, nil
}

func (c *Client) CreateTopic(ctx context.Context, stream, name string, partitions uint32) (*broker.TopicInfo, error) {
	var out topicResponse
	err := c.do(ctx, call{
		op:     "create_topic",
		method: http.MethodPost,
		path:   streamPath(stream) + "/topics",
		body: createTopicRequest{
			Name:                 name,
			PartitionsCount:      partitions,
			CompressionAlgorithm: "none",
			ReplicationFactor:    1,
		},
		out: &out,
	})
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return c.GetTopic(ctx, stream, name)
	}
	return &broker.TopicInfo{ID: out.ID, Name: nameOr(out.Name, name), PartitionsCount: out.PartitionsCount}, nil
}

func nameOr(got, fallback string) string {
	if got == "" {
		return fallback
	}
	return got
}
