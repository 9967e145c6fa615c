// Package redisbus publishes alerts to Redis for downstream consumers.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rewired-gh/candlesentry/internal/models"
)

// Options configures the publisher.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	// RecentKey holds a capped list of recent alerts per symbol and timeframe.
	RecentKey  string
	RecentSize int
}

// Publisher is a notifier sink that PUBLISHes each alert as JSON and keeps a
// capped recent-alerts list.
type Publisher struct {
	rdb  *goredis.Client
	opts Options
}

// NewPublisher connects lazily; the first Notify surfaces connection errors.
func NewPublisher(opts Options) *Publisher {
	if opts.Channel == "" {
		opts.Channel = "candlesentry:alerts"
	}
	if opts.RecentKey == "" {
		opts.RecentKey = "candlesentry:recent"
	}
	if opts.RecentSize <= 0 {
		opts.RecentSize = 100
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Publisher{rdb: rdb, opts: opts}
}

// Ping checks connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Notify publishes one alert. Publish and list update share a pipeline.
func (p *Publisher) Notify(ctx context.Context, event models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	key := p.recentKey(event)
	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, p.opts.Channel, payload)
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(p.opts.RecentSize-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) recentKey(event models.AlertEvent) string {
	return fmt.Sprintf("%s:%s:%s", p.opts.RecentKey, strings.ToUpper(event.Symbol), event.Timeframe)
}

// Close releases the connection pool.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
