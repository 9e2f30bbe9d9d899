package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
)

type KafkaConfig struct {
	Brokers      []string      `envconfig:"BROKERS" split_words:"true"`
	Topic        string        `envconfig:"TOPIC" split_words:"true" default:"voice.call-records"`
	BatchTimeout time.Duration `envconfig:"BATCH_TIMEOUT" split_words:"true" default:"50ms"`
}

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ contractx.CallRecorder = (*KafkaSink)(nil)

// KafkaSink publishes call records keyed by call id, so one call's records
// land on one partition.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
	}, nil
}

func NewKafkaSink(writer MessageWriter) (*KafkaSink, error) {
	if writer == nil {
		return nil, errors.New("kafka writer is required")
	}
	return &KafkaSink{writer: writer}, nil
}

func (s *KafkaSink) RecordCall(ctx context.Context, rec contractx.CallRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.CallID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "record_id", Value: []byte(rec.ID)},
			{Key: "end_reason", Value: []byte(rec.EndReason)},
		},
		Time: rec.EndedAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write call record to kafka: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
