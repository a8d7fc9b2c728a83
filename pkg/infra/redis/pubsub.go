package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher Redis 事件发布客户端
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher 创建 Publisher 实例
func NewPublisher(addr, password string, db int, channel string) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Publisher{
		client:  client,
		channel: channel,
	}, nil
}

// Channel 发布频道
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish 序列化事件并发布到频道
func (p *Publisher) Publish(ctx context.Context, event interface{}) error {
	msgJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe 订阅事件频道（用于调试工具）
func (p *Publisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.channel)
}

// Close 关闭 Redis 连接
func (p *Publisher) Close() error {
	return p.client.Close()
}
