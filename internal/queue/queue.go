// Package queue provides the client side of the external background task
// queue. The orchestrator only needs the narrow submission contract: hand
// over a named job with a priority and retry policy. The queue's own
// retry/backoff mechanics live in the worker fleet, not here.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pendingKey = "orchestrator:tasks:pending"
	jobKeyFmt  = "orchestrator:tasks:job:%s"
)

// Config is the queue connection configuration.
type Config struct {
	// Redis address.
	Addr string `yaml:"addr" json:"addr"`
	// Password, empty for none.
	Password string `yaml:"password" json:"password"`
	// Database number.
	DB int `yaml:"db" json:"db"`
	// Connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
	// How long submitted jobs are retained for status lookups.
	JobTTL time.Duration `yaml:"job_ttl" json:"job_ttl"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
		JobTTL:   24 * time.Hour,
	}
}

// Options control one submission.
type Options struct {
	// Priority orders dispatch; 1 is most urgent.
	Priority int `json:"priority"`
	// Attempts is the maximum number of delivery attempts.
	Attempts int `json:"attempts"`
	// Backoff is the delay between attempts.
	Backoff time.Duration `json:"backoff"`
	// Timeout bounds one job execution.
	Timeout time.Duration `json:"timeout"`
}

// job is the wire format stored for the worker fleet.
type job struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload"`
	Priority  int            `json:"priority"`
	Attempts  int            `json:"attempts"`
	BackoffMS int64          `json:"backoff_ms"`
	TimeoutMS int64          `json:"timeout_ms"`
	CreatedAt time.Time      `json:"created_at"`
}

// Client submits jobs to the external task queue over redis. Jobs land in
// a sorted set scored by priority then arrival time, so workers pop the
// most urgent oldest job first.
type Client struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient connects to the queue backend.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to task queue: %w", err)
	}

	logger.Info("task queue client initialized", zap.String("addr", config.Addr))

	return &Client{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "task_queue")),
	}, nil
}

// Enqueue submits one job and returns its id.
func (c *Client) Enqueue(ctx context.Context, name string, payload map[string]any, opts Options) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", fmt.Errorf("task queue client is closed")
	}

	if opts.Priority <= 0 {
		opts.Priority = 3
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}

	j := job{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		Priority:  opts.Priority,
		Attempts:  opts.Attempts,
		BackoffMS: opts.Backoff.Milliseconds(),
		TimeoutMS: opts.Timeout.Milliseconds(),
		CreatedAt: time.Now(),
	}

	body, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	// Score: priority in the high digits, arrival time in the low ones.
	score := float64(j.Priority)*1e13 + float64(j.CreatedAt.UnixMilli())

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(jobKeyFmt, j.ID), body, c.config.JobTTL)
	pipe.ZAdd(ctx, pendingKey, redis.Z{Score: score, Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", name, err)
	}

	c.logger.Info("job enqueued",
		zap.String("job_id", j.ID),
		zap.String("job", name),
		zap.Int("priority", j.Priority))
	return j.ID, nil
}

// Depth returns how many jobs are waiting.
func (c *Client) Depth(ctx context.Context) (int64, error) {
	return c.redis.ZCard(ctx, pendingKey).Result()
}

// Ping checks queue connectivity (readiness probe).
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.redis.Close()
}
