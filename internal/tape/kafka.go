// Package tape publishes executed trades to Kafka.
package tape

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/efreitasn/spotexchange/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each trade as one JSON message keyed by the taker
// order id.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// PublishTrade writes t to the tape.
func (p *KafkaPublisher) PublishTrade(ctx context.Context, t domain.SaveTrade) error {
	msg, err := encodeTrade(t)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write trade %d/%d: %w", t.MakerOrderID, t.TakerOrderID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeTrade(t domain.SaveTrade) (kafka.Message, error) {
	value, err := json.Marshal(t)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal trade: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(t.TakerOrderID, 10)),
		Value: value,
		Time:  time.UnixMilli(t.Timestamp),
	}, nil
}
