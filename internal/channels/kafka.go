package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/guildkeeper/internal/bus"
	"github.com/KafClaw/guildkeeper/internal/config"
)

const kafkaMaxAttempts = 3

// MessageWriter is the subset of *kafka.Writer the channel uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes audit notifications as JSON records, keyed by guild.
type KafkaChannel struct {
	BaseChannel
	config config.KafkaConfig
	writer MessageWriter
}

// NewKafkaChannel creates a channel writing to the configured topic.
func NewKafkaChannel(cfg config.KafkaConfig, b *bus.EventBus) *KafkaChannel {
	c := &KafkaChannel{BaseChannel: BaseChannel{Bus: b}, config: cfg}
	if cfg.Enabled {
		c.writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.BrokerList()...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		}
	}
	return c
}

// NewKafkaChannelWithWriter creates a channel around an existing writer.
func NewKafkaChannelWithWriter(cfg config.KafkaConfig, b *bus.EventBus, w MessageWriter) *KafkaChannel {
	return &KafkaChannel{BaseChannel: BaseChannel{Bus: b}, config: cfg, writer: w}
}

func (c *KafkaChannel) Name() string { return "kafka" }

func (c *KafkaChannel) Start(ctx context.Context) error {
	if !c.config.Enabled || c.writer == nil {
		return nil
	}
	c.subscribe(ctx, c)
	slog.Info("Kafka audit channel started", "topic", c.config.Topic, "brokers", c.config.Brokers)
	return nil
}

func (c *KafkaChannel) Stop() error {
	if c.writer == nil {
		return nil
	}
	return c.writer.Close()
}

// Send writes one record, retrying while partition leadership moves.
func (c *KafkaChannel) Send(ctx context.Context, n *bus.Notification) error {
	if c.writer == nil {
		return nil
	}
	msg, err := encodeNotification(n)
	if err != nil {
		return err
	}

	var writeErr error
	for attempt := 0; attempt < kafkaMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		writeErr = c.writer.WriteMessages(ctx, msg)
		if writeErr == nil {
			return nil
		}
		if !errors.Is(writeErr, kafka.NotLeaderForPartition) && !errors.Is(writeErr, kafka.LeaderNotAvailable) {
			break
		}
	}
	return fmt.Errorf("kafka write: %w", writeErr)
}

func encodeNotification(n *bus.Notification) (kafka.Message, error) {
	value, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode notification: %w", err)
	}
	return kafka.Message{
		Key:   []byte(n.GuildID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "id", Value: []byte(n.ID)},
		},
		Time: n.Timestamp,
	}, nil
}
