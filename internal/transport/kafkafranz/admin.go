package kafkafranz

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/YaganovValera/iggy-clients/internal/broker"
)

// listTopics возвращает topic → число partition. Топики с ошибкой
// в метаданных пропускаются.
func listTopics(ctx context.Context, r kmsg.Requestor) (map[string]int, error) {
	req := kmsg.NewPtrMetadataRequest()
	req.Topics = nil // все топики
	resp, err := req.RequestWith(ctx, r)
	if err != nil {
		return nil, &broker.TransportError{Op: "metadata", Err: err}
	}
	out := make(map[string]int, len(resp.Topics))
	for _, t := range resp.Topics {
		if t.Topic == nil || kerr.ErrorForCode(t.ErrorCode) != nil {
			continue
		}
		out[*t.Topic] = len(t.Partitions)
	}
	return out, nil
}

func createTopic(ctx context.Context, r kmsg.Requestor, name string, partitions int32, rf int16, timeoutMs int32) error {
	rt := kmsg.NewCreateTopicsRequestTopic()
	rt.Topic = name
	rt.NumPartitions = partitions
	rt.ReplicationFactor = rf

	req := kmsg.NewPtrCreateTopicsRequest()
	req.Topics = append(req.Topics, rt)
	req.TimeoutMillis = timeoutMs

	resp, err := req.RequestWith(ctx, r)
	if err != nil {
		return &broker.TransportError{Op: "create_topic", Err: err}
	}
	if len(resp.Topics) != 1 {
		return &broker.TransportError{Op: "create_topic", Err: fmt.Errorf("malformed response: %d topics", len(resp.Topics))}
	}
	t := resp.Topics[0]
	switch err := kerr.ErrorForCode(t.ErrorCode); {
	case err == nil:
		return nil
	case errors.Is(err, kerr.TopicAlreadyExists):
		return fmt.Errorf("kafkafranz: topic %q: %w", name, broker.ErrAlreadyExists)
	default:
		if t.ErrorMessage != nil {
			err = fmt.Errorf("%w: %s", err, *t.ErrorMessage)
		}
		return &broker.TransportError{Op: "create_topic", Err: err}
	}
}
