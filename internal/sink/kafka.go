package sink

import (
	"context"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/memtrace/internal/records"
)

type (
	// KafkaSink publishes records to a topic for downstream
	// reconstruction, one message per record. The writer batches
	// internally; Flush is a no-op since Close drains pending batches.
	KafkaSink struct {
		writer *kafka.Writer
	}
)

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    100,
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			Topic:        topic,
			WriteTimeout: 3 * time.Second,
		},
	}
}

func (s *KafkaSink) WriteRecord(r *records.Record) error {
	b, err := gojson.Marshal(r)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(r.Kind),
		Value: b,
	})
}

func (s *KafkaSink) Flush() error {
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
