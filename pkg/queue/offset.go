package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// OffsetLookup answers the hourly lag check's "how far has topic's
// durable copy fallen behind the queue" question (spec §4.4), satisfying
// pkg/audit.QueueOffsetLookup without that package importing this one.
type OffsetLookup struct {
	rdb *redis.Client
}

// NewOffsetLookup constructs an OffsetLookup over rdb.
func NewOffsetLookup(rdb *redis.Client) *OffsetLookup {
	return &OffsetLookup{rdb: rdb}
}

// LatestOffset returns the entry count of tenantID's partition stream for
// topic, used as the queue-side reference point for a lag comparison
// against Postgres's persisted record count.
func (l *OffsetLookup) LatestOffset(ctx context.Context, topic, tenantID string) (int64, error) {
	spec, ok := Topics[topic]
	partitions := 1
	if ok {
		partitions = spec.Partitions
	}
	stream := partitionStream(topic, tenantID, partitions)
	return l.rdb.XLen(ctx, stream).Result()
}
