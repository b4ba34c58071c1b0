// Package redisstore backs internal/transport's request-id->method
// bookkeeping with Redis instead of an in-process map, so leaked ids
// (a peer that never answers) age out on a TTL rather than growing the
// map unboundedly for the lifetime of the process - the eviction
// strategy spec.md §9 recommends for a production implementation
// without mandating it.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lspjitd/lspjitd/internal/transport"
	"github.com/lspjitd/lspjitd/pkg/logger"
)

// Config is the Redis connection configuration, populated from
// config.ServiceConfig via copier.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Store is a transport.IDStore backed by Redis, keying each pending
// request id with an expiring string value holding the method name.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ transport.IDStore = (*Store)(nil)

// New dials Redis, validates the connection with a ping, and returns a
// Store whose entries expire after ttl.
func New(cfg Config, keyPrefix string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Error("failed to connect to redis request-id store", zap.Error(err))
		return nil, err
	}

	logger.Info("connected to redis request-id store", zap.String("host", cfg.Host))
	return &Store{client: client, keyPrefix: keyPrefix, ttl: ttl}, nil
}

// Insert records id->method with the store's configured TTL, using a
// background context since transport.IDStore's interface is
// synchronous and request volume here is far below anything latency
// sensitive.
func (s *Store) Insert(id transport.RequestId, method string) {
	ctx := context.Background()
	if err := s.client.Set(ctx, s.key(id), method, s.ttl).Err(); err != nil {
		logger.Error("failed to record request id in redis", zap.String("id", string(id)), zap.Error(err))
	}
}

// Take looks up and deletes id's method in one round trip via GETDEL,
// matching RequestIDMap's at-most-once semantics.
func (s *Store) Take(id transport.RequestId) (string, bool) {
	ctx := context.Background()
	method, err := s.client.GetDel(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		logger.Error("failed to take request id from redis", zap.String("id", string(id)), zap.Error(err))
		return "", false
	}
	return method, true
}

// Len scans for the store's keys and reports how many are outstanding.
// Used only for diagnostics - the TTL, not Len, is what bounds growth.
func (s *Store) Len() int {
	ctx := context.Background()
	keys, err := s.client.Keys(ctx, s.keyPrefix+"*").Result()
	if err != nil {
		logger.Error("failed to enumerate outstanding request ids in redis", zap.Error(err))
		return 0
	}
	return len(keys)
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(id transport.RequestId) string {
	return s.keyPrefix + string(id)
}
