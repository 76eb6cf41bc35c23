package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// TaskMessage 匹配任务消息，仅携带任务标识和制品位置
type TaskMessage struct {
	TaskID       string `json:"task_id"`
	ArtifactName string `json:"artifact_name"`
	ArtifactPath string `json:"artifact_path"`
}

// Producer 将匹配任务投递到队列
type Producer struct {
	broker *Broker
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(broker *Broker, logger *logrus.Logger) *Producer {
	return &Producer{
		broker: broker,
		logger: logger,
	}
}

// PublishTask 发布任务消息
func (p *Producer) PublishTask(ctx context.Context, msg *TaskMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.broker.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("task_id", msg.TaskID).Error("Failed to publish task")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"task_id":  msg.TaskID,
		"artifact": msg.ArtifactName,
	}).Info("Task published to queue")

	return nil
}

// GetQueueSize 获取待消费消息数
func (p *Producer) GetQueueSize() (int, error) {
	messageCount, _, err := p.broker.QueueStats()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return messageCount, nil
}
