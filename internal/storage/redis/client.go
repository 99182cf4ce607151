package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client — обёртка над go-redis для pub/sub relay между процессами api.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Publish отправляет сообщение в канал; число получателей не важно.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.cli.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe подписывается на канал и ждёт подтверждения подписки.
func (c *Client) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	ps := c.cli.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return ps, nil
}
