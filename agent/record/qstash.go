package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	qstashx "github.com/tanpawarit/voice-order-agent/pkg/qstash"
)

type publisher interface {
	Publish(ctx context.Context, destination string, body []byte, opts ...qstashx.PublishOption) ([]byte, error)
}

var _ contractx.CallRecorder = (*QStashSink)(nil)

// QStashSink forwards call records to an HTTP destination through QStash.
type QStashSink struct {
	client      publisher
	destination string
	retries     int
}

func NewQStashSink(client *qstashx.Client, destination string, retries int) (*QStashSink, error) {
	if client == nil {
		return nil, errors.New("qstash client is required")
	}
	return newQStashSink(client, destination, retries)
}

func newQStashSink(client publisher, destination string, retries int) (*QStashSink, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, errors.New("qstash destination is required")
	}
	return &QStashSink{client: client, destination: destination, retries: retries}, nil
}

func (s *QStashSink) RecordCall(ctx context.Context, rec contractx.CallRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	if _, err := s.client.Publish(ctx, s.destination, payload,
		qstashx.WithDeduplicationID(rec.ID),
		qstashx.WithRetries(s.retries),
	); err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}
	return nil
}
