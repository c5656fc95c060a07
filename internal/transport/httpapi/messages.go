package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/payload"
)

type partitioning struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type outgoingMessage struct {
	Payload string `json:"payload"`
}

type sendRequest struct {
	Partitioning partitioning      `json:"partitioning"`
	Messages     []outgoingMessage `json:"messages"`
}

type messageHeader struct {
	Offset    uint64 `json:"offset"`
	Timestamp uint64 `json:"timestamp"`
}

// polledMessage: смещение приходит либо в корне, либо в header.
type polledMessage struct {
	Offset    *uint64         `json:"offset"`
	Timestamp uint64          `json:"timestamp"`
	Header    *messageHeader  `json:"header"`
	Payload   json.RawMessage `json:"payload"`
}

type pollResponse struct {
	PartitionID   uint32          `json:"partition_id"`
	CurrentOffset uint64          `json:"current_offset"`
	Messages      []polledMessage `json:"messages"`
}

// partitionValue: id partition как base64 от little-endian uint32.
func partitionValue(p uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], p)
	return base64.StdEncoding.EncodeToString(b[:])
}

func (c *Client) Send(ctx context.Context, dst broker.Destination, msg broker.OutgoingMessage) error {
	return c.do(ctx, call{
		op:     "send",
		method: http.MethodPost,
		path:   topicPath(dst.Stream, dst.Topic) + "/messages",
		body: sendRequest{
			Partitioning: partitioning{Kind: "partition_id", Value: partitionValue(dst.Partition)},
			Messages:     []outgoingMessage{{Payload: base64.StdEncoding.EncodeToString(msg.Payload)}},
		},
	})
}

// Poll: пустое тело или отсутствие messages: пустая пачка.
func (c *Client) Poll(ctx context.Context, req broker.PollRequest) ([]broker.Message, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = broker.StrategyOffset
	}
	q := url.Values{}
	q.Set("consumer", strconv.FormatUint(uint64(req.ConsumerID), 10))
	q.Set("partition_id", strconv.FormatUint(uint64(req.Destination.Partition), 10))
	q.Set("strategy", string(strategy))
	q.Set("value", strconv.FormatUint(req.Offset, 10))
	q.Set("count", strconv.FormatUint(uint64(req.Count), 10))
	q.Set("auto_commit", strconv.FormatBool(req.AutoCommit))

	var out pollResponse
	err := c.do(ctx, call{
		op:     "poll",
		method: http.MethodGet,
		path:   topicPath(req.Destination.Stream, req.Destination.Topic) + "/messages",
		query:  q,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msgs := make([]broker.Message, 0, len(out.Messages))
	for i, m := range out.Messages {
		var off, ts uint64
		switch {
		case m.Offset != nil:
			off, ts = *m.Offset, m.Timestamp
		case m.Header != nil:
			off, ts = m.Header.Offset, m.Header.Timestamp
		default:
			// без смещения курсор консьюмера не продвинуть
			return nil, &broker.TransportError{
				Op:         "poll",
				StatusCode: http.StatusOK,
				Err:        fmt.Errorf("malformed response: message %d has no offset", i),
			}
		}
		var at time.Time
		if ts > 0 {
			at = time.UnixMicro(int64(ts)).UTC()
		}
		msgs = append(msgs, broker.Message{
			Offset:    off,
			Payload:   payload.FromJSON(m.Payload),
			Timestamp: at,
			Partition: req.Destination.Partition,
		})
	}
	return msgs, nil
}
