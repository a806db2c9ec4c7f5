package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

const auditStream = "ballot:audit:stream"

// RedisStreamPublisher 基于Redis Stream的审计事件发布器（RocketMQ的轻量替代）
type RedisStreamPublisher struct {
	client *redis.Client
}

// NewRedisStreamPublisher 创建发布器并验证Redis连接
func NewRedisStreamPublisher() (*RedisStreamPublisher, error) {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:        redisAddr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          0,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("Redis连接失败: %v", err)
	}

	return &RedisStreamPublisher{client: client}, nil
}

// PublishBallotEvent 追加事件到审计stream
func (r *RedisStreamPublisher) PublishBallotEvent(ctx context.Context, event BallotAuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化审计事件失败: %v", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: auditStream,
		Values: map[string]interface{}{
			"event_id": event.EventID,
			"payload":  string(body),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("写入审计stream失败: %v", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisStreamPublisher) Close() {
	if err := r.client.Close(); err != nil {
		log.Printf("关闭Redis Stream发布器失败: %v", err)
	}
}
