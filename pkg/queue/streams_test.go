package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestProducer(t *testing.T) (*Producer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewProducer(rdb, zap.NewNop()), rdb
}

func TestPublishWritesToPartitionStream(t *testing.T) {
	p, rdb := newTestProducer(t)
	ctx := context.Background()

	if err := p.Publish(ctx, "audit.events", "tenant-a", map[string]string{"event_type": "system.genesis"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	stream := partitionStream("audit.events", "tenant-a", Topics["audit.events"].Partitions)
	length, err := rdb.XLen(ctx, stream).Result()
	if err != nil {
		t.Fatalf("XLen() error = %v", err)
	}
	if length != 1 {
		t.Errorf("stream length = %d, want 1", length)
	}
}

func TestPartitionStreamIsStableForSameKey(t *testing.T) {
	a := partitionStream("alerts.raw", "tenant-a", 4)
	b := partitionStream("alerts.raw", "tenant-a", 4)
	if a != b {
		t.Errorf("partitionStream not stable across calls: %s != %s", a, b)
	}
}

func TestConsumerRunDispatchesAndAcks(t *testing.T) {
	p, rdb := newTestProducer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Publish(ctx, "actions.pending", "tenant-a", map[string]string{"action": "isolate_host"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	consumer := NewConsumer(rdb, zap.NewNop(), "workers", "worker-1")

	received := make(chan []byte, 1)
	go consumer.Run(ctx, p, "actions.pending", func(ctx context.Context, payload []byte) error {
		received <- payload
		cancel()
		return nil
	})

	select {
	case payload := <-received:
		if len(payload) == 0 {
			t.Error("handler received empty payload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for consumer to dispatch message")
	}
}

func TestConsumerRunRoutesHandlerErrorToDLQ(t *testing.T) {
	p, rdb := newTestProducer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Publish(ctx, "actions.pending", "tenant-a", map[string]string{"action": "isolate_host"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	consumer := NewConsumer(rdb, zap.NewNop(), "workers", "worker-1")

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx, p, "actions.pending", func(ctx context.Context, payload []byte) error {
			defer close(done)
			return errors.New("handler failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler to run")
	}
	cancel()

	time.Sleep(100 * time.Millisecond)
	length, err := rdb.XLen(context.Background(), dlqName("actions.pending")).Result()
	if err != nil {
		t.Fatalf("XLen() error = %v", err)
	}
	if length != 1 {
		t.Errorf("dlq stream length = %d, want 1", length)
	}
}

func TestPublishDLQ(t *testing.T) {
	p, rdb := newTestProducer(t)
	ctx := context.Background()

	if err := p.PublishDLQ(ctx, "alerts.raw", map[string]string{"x": "y"}, "unmarshalable payload"); err != nil {
		t.Fatalf("PublishDLQ() error = %v", err)
	}

	length, err := rdb.XLen(ctx, dlqName("alerts.raw")).Result()
	if err != nil {
		t.Fatalf("XLen() error = %v", err)
	}
	if length != 1 {
		t.Errorf("dlq stream length = %d, want 1", length)
	}
}
