package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingJob asks the embedding worker to embed the titles of freshly collected videos.
type EmbeddingJob struct {
	CycleID  string   `json:"cycle_id"`
	VideoIDs []string `json:"video_ids"`
}

// DefaultQueue is the Redis list key used for the embedding job queue.
const DefaultQueue = "jobs:embeddings"

// Queue is a Redis list used as a FIFO job queue.
type Queue struct {
	r    *Redis
	name string
}

// NewQueue returns a queue on the list key name.
func NewQueue(r *Redis, name string) *Queue {
	return &Queue{r: r, name: r.key(name)}
}

// Enqueue pushes a job onto the left side of the list.
func (q *Queue) Enqueue(ctx context.Context, job EmbeddingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	return q.r.client.LPush(ctx, q.name, data).Err()
}

// Dequeue blocks until a job is available on the right side of the list
// or the timeout expires. When the timeout elapses without a job,
// (nil, nil) is returned so the caller can loop and check for shutdown.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*EmbeddingJob, error) {
	result, err := q.r.client.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		// Context cancelled on shutdown.
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	var job EmbeddingJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	return &job, nil
}
