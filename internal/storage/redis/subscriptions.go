package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamchat/internal/push"
)

const (
	subsKeyPrefix   = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

func subsKey(userID string) string { return subsKeyPrefix + userID }

// AddSubscription добавляет подписку в список пользователя (не больше maxSubsPerUser, старые вытесняются).
// Повторная подписка с тем же endpoint заменяет прежнюю.
func (c *Client) AddSubscription(ctx context.Context, userID string, sub push.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("redis subscription encode: %w", err)
	}
	if err := c.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	key := subsKey(userID)
	pipe := c.cli.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add subscription: %w", err)
	}
	return nil
}

// Subscriptions возвращает подписки пользователя; битые записи пропускаются.
func (c *Client) Subscriptions(ctx context.Context, userID string) ([]push.PushSubscription, error) {
	list, err := c.cli.LRange(ctx, subsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis subscriptions: %w", err)
	}
	out := make([]push.PushSubscription, 0, len(list))
	for _, item := range list {
		var sub push.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			out = append(out, sub)
		}
	}
	return out, nil
}

// RemoveSubscription удаляет все записи с данным endpoint через LREM по точному значению.
func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	key := subsKey(userID)
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis subscriptions: %w", err)
	}
	for _, item := range list {
		var sub push.PushSubscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == endpoint {
			if err := c.cli.LRem(ctx, key, 0, item).Err(); err != nil {
				return fmt.Errorf("redis remove subscription: %w", err)
			}
		}
	}
	return nil
}
