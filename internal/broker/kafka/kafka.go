package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Producer) SendMessage(ctx context.Context, msg models.Message) error {
	const op = "kafka.SendMessage"

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Email),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *Producer) Close() {
	_ = p.writer.Close()
}

type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
}

func NewConsumer(log *slog.Logger, brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		log: log,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
}

// * StartReading delivers each message value to handle until ctx is done.
// Offsets are committed whether or not handle succeeds.
func (c *Consumer) StartReading(ctx context.Context, handle func(body []byte) error) error {
	const op = "kafka.StartReading"

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		c.process(msg, handle)
	}
}

// process hands one message to handle. Failures are logged and the offset
// moves on.
func (c *Consumer) process(msg kafka.Message, handle func(body []byte) error) {
	if err := handle(msg.Value); err != nil {
		c.log.Error("failed to handle message",
			slog.String("op", "kafka.StartReading"),
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			sl.Err(err),
		)
	}
}

func (c *Consumer) Close() {
	_ = c.reader.Close()
}
