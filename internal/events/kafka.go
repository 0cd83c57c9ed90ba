// Package events publishes coupon redemptions to Kafka.
package events

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// DefaultTopic receives redemption events when no topic is configured.
const DefaultTopic = "coupon.redemptions"

var _ coupon.RedemptionPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher sends one message per committed redemption, keyed by coupon
// ID so that redemptions of a coupon stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer to brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return NewPublisher(producer, topic), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PublishRedemption sends r as a JSON message.
func (p *KafkaPublisher) PublishRedemption(ctx context.Context, r coupon.Redemption) error {
	var e jx.Encoder
	r.Encode(&e)

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(r.CouponID.String()),
		Value: sarama.ByteEncoder(e.Bytes()),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte("coupon.redeemed")},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, "send redemption of %s", r.CouponID)
	}

	zctx.From(ctx).Debug("Redemption published",
		zap.String("topic", p.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
