package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/websynth/patchbay"
)

const defaultRedisPrefix = "patchbay:session:"

// Redis stores descriptions as YAML strings in Redis. A set at prefix+"index"
// tracks the saved keys.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

// WithTTL makes saved descriptions expire.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis connects to the Redis server at address.
func NewRedis(address, password string, db int, opts ...RedisOption) *Redis {
	return NewRedisFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

func (r *Redis) indexKey() string {
	return r.prefix + "index"
}

func (r *Redis) Save(ctx context.Context, key string, d patchbay.Description) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := encode(d)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(key), data, r.ttl)
	pipe.SAdd(ctx, r.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, key string) (patchbay.Description, error) {
	if err := checkKey(key); err != nil {
		return patchbay.Description{}, err
	}
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return patchbay.Description{}, ErrNotFound
		}
		return patchbay.Description{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decode(val)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(key))
	pipe.SRem(ctx, r.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns the saved keys. Keys whose description has expired are
// pruned from the index.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	keys := []string{}
	for _, m := range members {
		n, err := r.client.Exists(ctx, r.key(m)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		if n == 0 {
			r.client.SRem(ctx, r.indexKey(), m)
			continue
		}
		keys = append(keys, m)
	}
	slices.Sort(keys)
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
