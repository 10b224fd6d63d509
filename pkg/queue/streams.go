// Package queue implements the topic-partitioned message substrate spec
// §6 names (alerts.raw, jobs.llm.priority.*, audit.events, ...) over
// Redis Streams, one stream per topic partition with a consumer group per
// reader.
// Kafka topic provisioning is explicitly out of scope (spec.md §1); this
// is the concrete substrate the rest of the module's Publisher/Consumer
// interfaces are defined against.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aluskort/soc-core/pkg/detection"
)

// TopicSpec is one entry in the canonical topic table (spec §6).
type TopicSpec struct {
	Name       string
	Partitions int
	Retention  time.Duration
}

// Topics is the canonical partition/retention table. Redis Streams has
// no native partition concept; Partitions here sizes the number of
// sibling streams ("<name>.p0".."<name>.pN-1") a producer spreads messages
// across by hashing the partition key, to approximate Kafka-style
// partition fan-out.
var Topics = map[string]TopicSpec{
	"alerts.raw":                   {Name: "alerts.raw", Partitions: 4, Retention: 7 * 24 * time.Hour},
	"alerts.normalized":            {Name: "alerts.normalized", Partitions: 4, Retention: 7 * 24 * time.Hour},
	"incidents.enriched":           {Name: "incidents.enriched", Partitions: 4, Retention: 7 * 24 * time.Hour},
	"jobs.llm.priority.critical":   {Name: "jobs.llm.priority.critical", Partitions: 4, Retention: 3 * 24 * time.Hour},
	"jobs.llm.priority.high":       {Name: "jobs.llm.priority.high", Partitions: 4, Retention: 3 * 24 * time.Hour},
	"jobs.llm.priority.normal":     {Name: "jobs.llm.priority.normal", Partitions: 4, Retention: 7 * 24 * time.Hour},
	"jobs.llm.priority.low":        {Name: "jobs.llm.priority.low", Partitions: 2, Retention: 14 * 24 * time.Hour},
	"actions.pending":              {Name: "actions.pending", Partitions: 2, Retention: 7 * 24 * time.Hour},
	"audit.events":                 {Name: "audit.events", Partitions: 4, Retention: 90 * 24 * time.Hour},
}

// dlqName returns the DLQ companion stream name for topic.
func dlqName(topic string) string {
	return topic + ".dlq"
}

// partitionStream picks a partition stream name by hashing key (e.g.
// tenant_id) across the topic's partition count, preserving per-key
// ordering within a partition (spec §5's "FIFO up to the queue's
// partition count").
func partitionStream(topic, key string, partitions int) string {
	if partitions <= 1 {
		return topic
	}
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return fmt.Sprintf("%s.p%d", topic, int(h%uint32(partitions)))
}

// Producer publishes JSON-encoded messages onto a topic's partition
// streams.
type Producer struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewProducer constructs a Producer over an already-connected client.
func NewProducer(rdb *redis.Client, logger *zap.Logger) *Producer {
	return &Producer{rdb: rdb, logger: logger}
}

// Publish JSON-encodes msg and XADDs it onto the partition of topic that
// partitionKey hashes to. An empty partitionKey always targets partition
// 0's stream, which is fine for topics with Partitions<=1.
func (p *Producer) Publish(ctx context.Context, topic, partitionKey string, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message for topic %s: %w", topic, err)
	}

	spec, ok := Topics[topic]
	partitions := 1
	if ok {
		partitions = spec.Partitions
	}
	stream := partitionStream(topic, partitionKey, partitions)

	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"payload": raw},
	}).Err()
}

// PublishDLQ routes a message that failed processing to topic's DLQ
// companion stream, tagged with the failure reason.
func (p *Producer) PublishDLQ(ctx context.Context, topic string, msg interface{}, reason string) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal DLQ message for topic %s: %w", topic, err)
	}
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqName(topic),
		Values: map[string]interface{}{"payload": raw, "dlq_reason": reason},
	}).Err()
}

// Handler processes one dequeued message's raw JSON payload. A returned
// error routes the message to the topic's DLQ rather than acking it.
type Handler func(ctx context.Context, payload []byte) error

// Consumer reads a topic's partition streams via a Redis consumer group,
// so competing workers split the load and a crashed worker's pending
// entries remain claimable rather than lost (spec §6's "competing
// consumers" queue model).
type Consumer struct {
	rdb    *redis.Client
	logger *zap.Logger
	group  string
	name   string
}

// NewConsumer constructs a Consumer identified as name within group.
func NewConsumer(rdb *redis.Client, logger *zap.Logger, group, consumerName string) *Consumer {
	return &Consumer{rdb: rdb, logger: logger, group: group, name: consumerName}
}

// Run blocks, repeatedly reading new entries from topic's partition
// streams and dispatching them to handle, until ctx is cancelled. A
// handler error sends the message to the DLQ and acks it anyway — the
// DLQ, not stream redelivery, owns retry policy (spec §7).
func (c *Consumer) Run(ctx context.Context, producer *Producer, topic string, handle Handler) error {
	spec, ok := Topics[topic]
	partitions := 1
	if ok {
		partitions = spec.Partitions
	}

	streams := make([]string, 0, partitions)
	for i := 0; i < partitions; i++ {
		stream := topic
		if partitions > 1 {
			stream = fmt.Sprintf("%s.p%d", topic, i)
		}
		if err := c.rdb.XGroupCreateMkStream(ctx, stream, c.group, "0").Err(); err != nil && !isBusyGroupErr(err) {
			return fmt.Errorf("queue: create consumer group for %s: %w", stream, err)
		}
		streams = append(streams, stream)
	}

	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		result, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  args,
			Count:    10,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			if c.logger != nil {
				c.logger.Warn("queue consumer read failed", zap.String("topic", topic), zap.Error(err))
			}
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, producer, topic, stream.Stream, msg, handle)
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, producer *Producer, topic, stream string, msg redis.XMessage, handle Handler) {
	raw, _ := msg.Values["payload"].(string)
	if err := handle(ctx, []byte(raw)); err != nil {
		if producer != nil {
			if dlqErr := producer.PublishDLQ(ctx, topic, json.RawMessage(raw), err.Error()); dlqErr != nil && c.logger != nil {
				c.logger.Error("failed to publish to dlq", zap.String("topic", topic), zap.Error(dlqErr))
			}
		}
	}
	c.rdb.XAck(ctx, stream, c.group, msg.ID)
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// AlertPublisher adapts Producer to pkg/detection.Publisher, which
// publishes by (topic, alert) without a partition key — alerts fan out
// by alert_id hash instead of tenant, since the detection runner itself
// is tenant-agnostic at the point of firing.
type AlertPublisher struct {
	producer *Producer
}

// NewAlertPublisher constructs an AlertPublisher over producer.
func NewAlertPublisher(producer *Producer) *AlertPublisher {
	return &AlertPublisher{producer: producer}
}

// Publish satisfies detection.Publisher, partitioning by alert_id.
func (a *AlertPublisher) Publish(ctx context.Context, topic string, alert detection.CanonicalAlert) error {
	return a.producer.Publish(ctx, topic, alert.AlertID, alert)
}

var _ detection.Publisher = (*AlertPublisher)(nil)
