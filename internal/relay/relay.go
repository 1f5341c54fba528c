package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/taskweave/internal/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay publishes workflow progress updates to Redis Streams so
// observers outside the process can tail a run. Delivery is strictly
// fire-and-forget: publish failures are logged and dropped, never
// surfaced to the orchestrator.
type Relay struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a Redis-backed progress relay.
func New(redisURL string, logger *zap.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Relay{rdb: rdb, logger: logger}, nil
}

const streamPrefix = "taskweave:run:"

// publishTimeout bounds each XADD so a stalled Redis cannot block a run.
const publishTimeout = 2 * time.Second

// SinkFor returns a ProgressSink that publishes every update onto the
// run's stream.
func (r *Relay) SinkFor(runID string) workflow.ProgressSink {
	return workflow.SinkFunc(func(u workflow.ProgressUpdate) {
		data, err := json.Marshal(u)
		if err != nil {
			r.logger.Warn("marshal progress update", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		stream := streamPrefix + runID
		if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{"data": string(data)},
		}).Err(); err != nil {
			r.logger.Warn("publish progress update",
				zap.String("run", runID), zap.Error(err))
			return
		}
		r.logger.Debug("published progress update",
			zap.String("run", runID),
			zap.String("agent", string(u.Agent)),
			zap.String("status", string(u.Status)))
	})
}

// Subscribe tails a run's progress stream from the beginning. Returns a
// channel that emits updates; cancel the context to stop.
func (r *Relay) Subscribe(ctx context.Context, runID string) <-chan workflow.ProgressUpdate {
	ch := make(chan workflow.ProgressUpdate, 16)
	stream := streamPrefix + runID

	go func() {
		defer close(ch)
		lastID := "0"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := r.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				continue
			}

			for _, res := range results {
				for _, msg := range res.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var u workflow.ProgressUpdate
					if json.Unmarshal([]byte(data), &u) == nil {
						ch <- u
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (r *Relay) Close() error {
	return r.rdb.Close()
}
