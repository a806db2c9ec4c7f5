// Package mq publishes ballot audit events for the compliance trail.
// 事件只携带匿名voter hash，绝不携带成员ID。
package mq

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

// BallotAuditEvent 一次成功记票的审计事件
type BallotAuditEvent struct {
	EventID   string    `json:"event_id"`
	SessionID uint      `json:"session_id"`
	VoterHash string    `json:"voter_hash"`
	Proxy     bool      `json:"proxy"`
	CastAt    time.Time `json:"cast_at"`
}

// NewBallotAuditEvent 构造审计事件
func NewBallotAuditEvent(sessionID uint, voterHash string, proxy bool, castAt time.Time) BallotAuditEvent {
	return BallotAuditEvent{
		EventID:   uuid.New().String(),
		SessionID: sessionID,
		VoterHash: voterHash,
		Proxy:     proxy,
		CastAt:    castAt,
	}
}

// Publisher 审计事件发布接口
type Publisher interface {
	PublishBallotEvent(ctx context.Context, event BallotAuditEvent) error
	Close()
}

// NoopPublisher 丢弃事件的空实现（MQ不可用时的降级）
type NoopPublisher struct{}

func (NoopPublisher) PublishBallotEvent(ctx context.Context, event BallotAuditEvent) error {
	return nil
}

func (NoopPublisher) Close() {}

// NewPublisherFromEnv 按环境变量选择发布实现：
// MQ_TYPE=rocketmq 使用RocketMQ，MQ_TYPE=redis 使用Redis Stream，
// 其余情况（含初始化失败）降级为Noop。
func NewPublisherFromEnv() Publisher {
	switch os.Getenv("MQ_TYPE") {
	case "rocketmq":
		p, err := NewRocketMQPublisher()
		if err != nil {
			log.Printf("RocketMQ初始化失败，审计事件将被丢弃: %v", err)
			return NoopPublisher{}
		}
		log.Println("成功初始化RocketMQ审计事件发布器")
		return p
	case "redis":
		p, err := NewRedisStreamPublisher()
		if err != nil {
			log.Printf("Redis Stream初始化失败，审计事件将被丢弃: %v", err)
			return NoopPublisher{}
		}
		log.Println("成功初始化Redis Stream审计事件发布器")
		return p
	default:
		log.Println("未配置MQ_TYPE，审计事件发布使用Noop模式")
		return NoopPublisher{}
	}
}
