package project

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a redis-backed implementation of the Store interface.
// Projects are stored as hashes under "<prefix>project:<id>".
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a new redis-backed project store.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "keygate:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// redisKey returns the redis key for a project id.
func (s *RedisStore) redisKey(id string) string {
	return s.keyPrefix + "project:" + id
}

// FindActiveByID returns the active project with the given id.
func (s *RedisStore) FindActiveByID(ctx context.Context, id string) (*Project, error) {
	fields, err := s.client.HGetAll(ctx, s.redisKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("project lookup failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrProjectNotFound
	}

	p := &Project{
		ID:     id,
		Name:   fields["name"],
		Status: Status(fields["status"]),
	}
	if !p.IsActive() {
		return nil, ErrProjectNotFound
	}

	return p, nil
}

// Save writes a project. Used by provisioning tooling and tests; the
// gateway itself never mutates projects.
func (s *RedisStore) Save(ctx context.Context, p *Project) error {
	return s.client.HSet(ctx, s.redisKey(p.ID), map[string]interface{}{
		"name":   p.Name,
		"status": string(p.Status),
	}).Err()
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
