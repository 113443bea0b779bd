package redis

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// NewClient builds a go-redis client from the configured URL. Every service
// that talks to Redis goes through here so pool settings stay in one place.
func NewClient(cfg *Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis address: %w", err)
	}

	return redis.NewClient(opt), nil
}

// NewAsynqOptions converts the configured URL into Asynq Redis options so the
// task queue shares the same Redis instance as the caches.
func NewAsynqOptions(cfg *Config) (*asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis address: %w", err)
	}

	return &asynq.RedisClientOpt{
		Network:      opt.Network,
		Addr:         opt.Addr,
		Username:     opt.Username,
		Password:     opt.Password,
		DB:           opt.DB,
		DialTimeout:  opt.DialTimeout,
		ReadTimeout:  opt.ReadTimeout,
		WriteTimeout: opt.WriteTimeout,
		PoolSize:     opt.PoolSize,
		TLSConfig:    opt.TLSConfig,
	}, nil
}
