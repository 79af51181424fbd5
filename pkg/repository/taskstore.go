package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
)

const taskKeyPrefix = "task:"

// TaskStore keeps the expiring per-job status records. Entries are keyed by
// job ID and expire after the configured TTL so storage stays bounded; the
// durable truth lives in the record store.
type TaskStore interface {
	// Create initializes a queued entry with the configured TTL.
	Create(ctx context.Context, jobID, fileName string) error

	// MarkProcessing transitions the entry to processing and stamps started_at.
	MarkProcessing(ctx context.Context, jobID string) error

	// MarkCompleted transitions the entry to completed and stamps completed_at.
	MarkCompleted(ctx context.Context, jobID string) error

	// MarkFailed transitions the entry to failed, stamps failed_at and records
	// the error message.
	MarkFailed(ctx context.Context, jobID string, errMsg string) error

	// Get returns the status entry, or ErrNotFound once it has expired or was
	// never created.
	Get(ctx context.Context, jobID string) (*datamodel.TaskStatus, error)
}

type taskStore struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewTaskStore implements TaskStore on Redis hashes.
func NewTaskStore(redisClient *redis.Client, ttl time.Duration) TaskStore {
	return &taskStore{
		redisClient: redisClient,
		ttl:         ttl,
	}
}

func taskKey(jobID string) string {
	return taskKeyPrefix + jobID
}

func (s *taskStore) Create(ctx context.Context, jobID, fileName string) error {
	key := taskKey(jobID)
	fields := map[string]any{
		"status":     string(datamodel.TaskStateQueued),
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		"file_name":  fileName,
	}
	if err := s.redisClient.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("creating task entry: %w", err)
	}
	// TTL bounds storage growth; status queries after expiry see ErrNotFound.
	if err := s.redisClient.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("setting task TTL: %w", err)
	}
	return nil
}

func (s *taskStore) MarkProcessing(ctx context.Context, jobID string) error {
	fields := map[string]any{
		"status":     string(datamodel.TaskStateProcessing),
		"started_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.redisClient.HSet(ctx, taskKey(jobID), fields).Err(); err != nil {
		return fmt.Errorf("marking task processing: %w", err)
	}
	return nil
}

func (s *taskStore) MarkCompleted(ctx context.Context, jobID string) error {
	fields := map[string]any{
		"status":       string(datamodel.TaskStateCompleted),
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.redisClient.HSet(ctx, taskKey(jobID), fields).Err(); err != nil {
		return fmt.Errorf("marking task completed: %w", err)
	}
	return nil
}

func (s *taskStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	fields := map[string]any{
		"status":    string(datamodel.TaskStateFailed),
		"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		"error":     errMsg,
	}
	if err := s.redisClient.HSet(ctx, taskKey(jobID), fields).Err(); err != nil {
		return fmt.Errorf("marking task failed: %w", err)
	}
	return nil
}

func (s *taskStore) Get(ctx context.Context, jobID string) (*datamodel.TaskStatus, error) {
	fields, err := s.redisClient.HGetAll(ctx, taskKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting task entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("task %s: %w", jobID, errorsx.ErrNotFound)
	}

	status := &datamodel.TaskStatus{
		Status:      datamodel.TaskState(fields["status"]),
		FileName:    fields["file_name"],
		Error:       fields["error"],
		CreatedAt:   parseTimeField(fields["created_at"]),
		StartedAt:   parseTimeField(fields["started_at"]),
		CompletedAt: parseTimeField(fields["completed_at"]),
		FailedAt:    parseTimeField(fields["failed_at"]),
	}
	return status, nil
}

func parseTimeField(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
