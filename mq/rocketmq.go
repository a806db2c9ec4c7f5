package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

const auditTopic = "ballot_audit_events"

// RocketMQPublisher 基于RocketMQ的审计事件发布器
type RocketMQPublisher struct {
	producer rocketmq.Producer
}

// NewRocketMQPublisher 创建并启动RocketMQ生产者
func NewRocketMQPublisher() (*RocketMQPublisher, error) {
	nameServer := os.Getenv("ROCKETMQ_NAMESERVER")
	if nameServer == "" {
		nameServer = "localhost:9876"
	}

	groupName := os.Getenv("ROCKETMQ_GROUP")
	if groupName == "" {
		groupName = "ballot_audit_producer"
	}

	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver([]string{nameServer})),
		producer.WithGroupName(groupName),
		producer.WithRetry(2),
	)
	if err != nil {
		return nil, fmt.Errorf("创建RocketMQ生产者失败: %v", err)
	}

	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("启动RocketMQ生产者失败: %v", err)
	}

	return &RocketMQPublisher{producer: p}, nil
}

// PublishBallotEvent 同步发送审计事件
func (r *RocketMQPublisher) PublishBallotEvent(ctx context.Context, event BallotAuditEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化审计事件失败: %v", err)
	}

	msg := primitive.NewMessage(auditTopic, body)
	msg.WithKeys([]string{event.EventID})

	result, err := r.producer.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("发送审计事件失败: %v", err)
	}

	log.Printf("审计事件已发送: event=%s, msgID=%s", event.EventID, result.MsgID)
	return nil
}

// Close 关闭生产者
func (r *RocketMQPublisher) Close() {
	if err := r.producer.Shutdown(); err != nil {
		log.Printf("关闭RocketMQ生产者失败: %v", err)
	}
}
