package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tradecore/internal/compliance"
	"tradecore/internal/guardian"
	"tradecore/internal/ops"
)

// Publisher mirrors supervisory state into Redis so operator tooling
// can observe the run without touching the trading process.
type Publisher struct {
	client *redis.Client
	prefix string
}

// NewPublisher connects and pings the Redis instance.
func NewPublisher(cfg ops.RedisConfig) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Publisher{client: client, prefix: cfg.KeyPrefix}, nil
}

// PublishMode stores the current supervisory mode.
func (p *Publisher) PublishMode(ctx context.Context, mode guardian.Mode) error {
	return p.client.Set(ctx, p.prefix+":mode", mode.String(), 0).Err()
}

// PublishThrottle stores the throttle level for one account.
func (p *Publisher) PublishThrottle(ctx context.Context, account string, level compliance.Level) error {
	return p.client.HSet(ctx, p.prefix+":throttle", account, level.String()).Err()
}

// PublishNetPosition stores one instrument's net position.
func (p *Publisher) PublishNetPosition(ctx context.Context, instrument string, net int64) error {
	return p.client.HSet(ctx, p.prefix+":net", instrument, net).Err()
}

// Close releases the connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}
