package output

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

// RedisOutput appends records to a Redis stream with XADD
type RedisOutput struct {
	config config.RedisOutputConfig
	client *redis.Client
	stats  stats
	closed atomic.Bool
}

// NewRedisOutput creates a Redis stream output. The connection is
// established lazily on the first command.
func NewRedisOutput(cfg config.RedisOutputConfig) (*RedisOutput, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("no redis host specified")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid redis port: %d", cfg.Port)
	}

	opts := &redis.Options{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &RedisOutput{
		config: cfg,
		client: redis.NewClient(opts),
	}, nil
}

// Append adds fields as a new entry of stream and returns the entry id
func (r *RedisOutput) Append(ctx context.Context, stream string, fields types.FlatRecord) (string, error) {
	if r.closed.Load() {
		return "", ErrClosed
	}
	if len(fields) == 0 {
		return "", ErrEmptyRecord
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: fields.Pairs(),
	}
	if r.config.MaxLen > 0 {
		args.MaxLen = r.config.MaxLen
		args.Approx = true
	}

	startTime := time.Now()
	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		r.stats.failure(err)
		return "", fmt.Errorf("failed to XADD to %s: %w", stream, err)
	}

	r.stats.success(fieldBytes(fields), time.Since(startTime))
	return id, nil
}

// Ping checks the Redis connection
func (r *RedisOutput) Ping(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisOutput) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.client.Close()
}

// Name returns the output name
func (r *RedisOutput) Name() string {
	return "redis"
}

// Metrics returns the current metrics
func (r *RedisOutput) Metrics() *OutputMetrics {
	return r.stats.snapshot()
}
