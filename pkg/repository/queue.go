package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
)

const presentationQueueKey = "presentation_queue"

// JobQueue is the durable FIFO holding pending processing jobs. Delivery is
// at-least-once; BRPOP guarantees a popped job is handed to a single worker.
type JobQueue interface {
	// Push appends a job to the queue.
	Push(ctx context.Context, job *datamodel.Job) error

	// Pop blocks up to timeout waiting for the next job. Returns ErrNoJob on
	// an empty-queue timeout, which is not a failure condition.
	Pop(ctx context.Context, timeout time.Duration) (*datamodel.Job, error)

	// Ping probes the queue backend. The submission gateway uses it to decide
	// between the queued and the in-process fallback path.
	Ping(ctx context.Context) error
}

type jobQueue struct {
	redisClient *redis.Client
}

// NewJobQueue implements JobQueue on a Redis list.
func NewJobQueue(redisClient *redis.Client) JobQueue {
	return &jobQueue{redisClient: redisClient}
}

func (q *jobQueue) Push(ctx context.Context, job *datamodel.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}
	if err := q.redisClient.LPush(ctx, presentationQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("pushing job: %w", err)
	}
	return nil
}

func (q *jobQueue) Pop(ctx context.Context, timeout time.Duration) (*datamodel.Job, error) {
	result, err := q.redisClient.BRPop(ctx, timeout, presentationQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errorsx.ErrNoJob
		}
		return nil, fmt.Errorf("popping job: %w", err)
	}
	// BRPOP returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}

	var job datamodel.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job payload: %w", err)
	}
	return &job, nil
}

func (q *jobQueue) Ping(ctx context.Context) error {
	if err := q.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", errorsx.ErrQueueUnavailable, err)
	}
	return nil
}
