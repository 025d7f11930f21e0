package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/framelight/api/internal/model"
)

// JobStore persists tagging jobs between dispatch and processing.
type JobStore interface {
	SaveJob(ctx context.Context, job *model.TaggingJob) error
	GetJob(ctx context.Context, jobID string) (*model.TaggingJob, error)
}

// RedisJobStore keeps jobs in Redis with a retention window matching the
// asynq task retention.
type RedisJobStore struct {
	redis *redis.Client
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: redisClient}
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job *model.TaggingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, 24*time.Hour).Err()
}

func (s *RedisJobStore) GetJob(ctx context.Context, jobID string) (*model.TaggingJob, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("tagging job not found")
		}
		return nil, err
	}

	var job model.TaggingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("taggingjob:%s", jobID)
}
