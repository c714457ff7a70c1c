package applicant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "trustmint/pkg/domain"
	"trustmint/pkg/platform/sentinel"
)

const keyPrefix = "applicant:user:"

// RedisStore keeps applicant references in Redis with a TTL. A zero TTL
// keeps them forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, userID id.UserID) (string, error) {
	ref, err := s.client.Get(ctx, keyPrefix+userID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get applicant reference: %w", err)
	}
	return ref, nil
}

func (s *RedisStore) Put(ctx context.Context, userID id.UserID, applicantRef string) error {
	if err := s.client.Set(ctx, keyPrefix+userID.String(), applicantRef, s.ttl).Err(); err != nil {
		return fmt.Errorf("put applicant reference: %w", err)
	}
	return nil
}
