package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/linktags/internal/domain"
)

// DefaultLockTTL bounds how long an abandoned leadership record survives.
const DefaultLockTTL = time.Minute

// Store handles Redis operations for bookmarks, sync services, the command
// history and the auto-sync lock
type Store struct {
	client  *redis.Client
	lockTTL time.Duration
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client:  client,
		lockTTL: DefaultLockTTL,
	}
}

// WithLockTTL overrides the expiry of the auto-sync lock key.
func (s *Store) WithLockTTL(ttl time.Duration) *Store {
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

// SaveService stores a service in Redis
func (s *Store) SaveService(ctx context.Context, service domain.SyncServiceConfig) error {
	data, err := json.Marshal(service)
	if err != nil {
		return fmt.Errorf("failed to marshal service: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ServiceKey(service.ID), data, 0)
	pipe.SAdd(ctx, AllServicesKey(), service.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}

	return nil
}

// GetService retrieves a service from Redis by ID
func (s *Store) GetService(ctx context.Context, id string) (domain.SyncServiceConfig, error) {
	data, err := s.client.Get(ctx, ServiceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SyncServiceConfig{}, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, id)
		}
		return domain.SyncServiceConfig{}, fmt.Errorf("failed to get service: %w", err)
	}

	var service domain.SyncServiceConfig
	if err := json.Unmarshal(data, &service); err != nil {
		return domain.SyncServiceConfig{}, fmt.Errorf("failed to unmarshal service: %w", err)
	}

	return service, nil
}

// GetAllServices retrieves all services from Redis
func (s *Store) GetAllServices(ctx context.Context) ([]domain.SyncServiceConfig, error) {
	// Get all service IDs
	ids, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service IDs: %w", err)
	}

	if len(ids) == 0 {
		return []domain.SyncServiceConfig{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ServiceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	services := make([]domain.SyncServiceConfig, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Listed in the set but the key is gone
			continue
		}
		var service domain.SyncServiceConfig
		if err := json.Unmarshal([]byte(raw), &service); err != nil {
			continue
		}
		services = append(services, service)
	}

	return services, nil
}

// DeleteService removes a service from Redis
func (s *Store) DeleteService(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ServiceKey(id))
	pipe.SRem(ctx, AllServicesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}

	return nil
}

// SaveServicesMany stores multiple services in Redis (bulk operation)
func (s *Store) SaveServicesMany(ctx context.Context, services []domain.SyncServiceConfig) error {
	pipe := s.client.Pipeline()

	for _, service := range services {
		data, err := json.Marshal(service)
		if err != nil {
			return fmt.Errorf("failed to marshal service %s: %w", service.ID, err)
		}

		pipe.Set(ctx, ServiceKey(service.ID), data, 0)
		pipe.SAdd(ctx, AllServicesKey(), service.ID)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save services: %w", err)
	}

	return nil
}
