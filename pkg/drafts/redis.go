package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/formbot/formbot/pkg/models"
)

const keyPrefix = "formbot:draft:"

// RedisStore stores drafts as JSON values with a TTL refreshed on every save.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redis at redisURL (redis://...). A zero ttl uses
// DefaultTTL.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, workflowID string) (*models.Draft, error) {
	data, err := s.client.Get(ctx, keyPrefix+workflowID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrDraftNotFound
		}

		return nil, fmt.Errorf("fetching draft for workflow %s: %w", workflowID, err)
	}

	var draft models.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("unmarshaling draft for workflow %s: %w", workflowID, err)
	}

	return &draft, nil
}

func (s *RedisStore) Save(ctx context.Context, workflowID string, draft *models.Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshaling draft for workflow %s: %w", workflowID, err)
	}

	if err := s.client.Set(ctx, keyPrefix+workflowID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving draft for workflow %s: %w", workflowID, err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, workflowID string) error {
	if err := s.client.Del(ctx, keyPrefix+workflowID).Err(); err != nil {
		return fmt.Errorf("deleting draft for workflow %s: %w", workflowID, err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
