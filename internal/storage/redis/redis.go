package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"booking_service/internal/models"
	"booking_service/internal/storage"

	"github.com/redis/go-redis/v9"
)

type RedisRepo struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
	}, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func userSessionsKey(userID string) string {
	return fmt.Sprintf("session:user:%s", userID)
}

// * SaveSession stores the identity under id for ttl and indexes it by user.
func (r *RedisRepo) SaveSession(ctx context.Context, id string, identity models.Identity, ttl time.Duration) error {
	const op = "storage.redis.SaveSession"

	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(id), data, ttl)
	pipe.SAdd(ctx, userSessionsKey(identity.UserID), id)
	pipe.Expire(ctx, userSessionsKey(identity.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Session returns the identity stored under id.
func (r *RedisRepo) Session(ctx context.Context, id string) (models.Identity, error) {
	const op = "storage.redis.Session"

	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Identity{}, storage.ErrSessionNotFound
		}

		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	var identity models.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	return identity, nil
}

// * DeleteSession removes a single session. Missing ids are ignored.
func (r *RedisRepo) DeleteSession(ctx context.Context, id string) error {
	const op = "storage.redis.DeleteSession"

	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * DeleteUserSessions drops every session recorded for userID.
func (r *RedisRepo) DeleteUserSessions(ctx context.Context, userID string) error {
	const op = "storage.redis.DeleteUserSessions"

	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	pipe := r.client.Pipeline()

	for _, id := range ids {
		pipe.Del(ctx, sessionKey(id))
	}
	pipe.Del(ctx, userSessionsKey(userID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Close releases the client connections.
func (r *RedisRepo) Close() {
	r.client.Close()
}
