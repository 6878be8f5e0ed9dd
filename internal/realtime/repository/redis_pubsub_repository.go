package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPubSub definition redis pub/sub, 每個 scope 對應一個 channel: <prefix><scope>
type RedisPubSub struct {
	client *redis.Client
	prefix string
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client, prefix string) *RedisPubSub {
	if prefix == "" {
		prefix = "chat:"
	}
	return &RedisPubSub{
		client: client,
		prefix: prefix,
	}
}

// Channel scope -> redis channel
func (r *RedisPubSub) Channel(scope string) string {
	return r.prefix + scope
}

// Publish 將 event 序列化後，發布到 scope 對應的 channel
func (r *RedisPubSub) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(ev.Scope), data).Err()
}

// Run 以 pattern 訂閱所有 scope, 收到的事件交給 deliver
func (r *RedisPubSub) Run(ctx context.Context, deliver func(domain.Event)) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	// 等待訂閱確認, 失敗代表 redis 不可用
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s*: %w", r.prefix, err)
	}
	logger.Log.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis pubsub channel closed")
			}

			var ev domain.Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				logger.Log.Error("relay unmarshal event", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			deliver(ev)
		case <-ctx.Done():
			logger.Log.Info("redis relay closed", zap.String("pattern", r.prefix+"*"))
			return ctx.Err()
		}
	}
}
