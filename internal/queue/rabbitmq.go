package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// BrokerConfig RabbitMQ 连接配置
type BrokerConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	VHost     string
	Heartbeat time.Duration
}

// Broker 封装到 RabbitMQ 的单队列连接，内部维护重连信号
type Broker struct {
	config    *BrokerConfig
	queueName string
	prefetch  int
	logger    *logrus.Logger

	conn    *amqp.Connection
	channel *amqp.Channel

	reconnect  chan struct{}
	maxRetries int

	mu            sync.RWMutex
	closed        bool
	connNotify    chan *amqp.Error
	channelNotify chan *amqp.Error
}

// NewBroker 建立连接并声明持久化队列
// prefetch 应与消费端 worker 数量一致，保证并行消费
func NewBroker(config *BrokerConfig, queueName string, prefetch int, logger *logrus.Logger) (*Broker, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	if config.Heartbeat == 0 {
		config.Heartbeat = 10 * time.Second
	}

	b := &Broker{
		config:     config,
		queueName:  queueName,
		prefetch:   prefetch,
		logger:     logger,
		reconnect:  make(chan struct{}, 8),
		maxRetries: 10,
	}

	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return b, nil
}

// connect 建立连接、打开 Channel、设置 QoS 并声明队列
func (b *Broker) connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		b.config.User, b.config.Password, b.config.Host, b.config.Port, b.config.VHost)

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: b.config.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if _, err := ch.QueueDeclare(b.queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	b.conn = conn
	b.channel = ch
	b.connNotify = make(chan *amqp.Error, 1)
	b.channelNotify = make(chan *amqp.Error, 1)
	b.conn.NotifyClose(b.connNotify)
	b.channel.NotifyClose(b.channelNotify)

	b.logger.WithFields(logrus.Fields{
		"host":     b.config.Host,
		"port":     b.config.Port,
		"queue":    b.queueName,
		"prefetch": b.prefetch,
	}).Info("Connected to RabbitMQ")

	return nil
}

// StartConnectionWatcher 监听连接与 Channel 关闭事件，异常关闭时发出重连信号
func (b *Broker) StartConnectionWatcher() {
	go func() {
		for {
			b.mu.RLock()
			if b.closed {
				b.mu.RUnlock()
				b.logger.Info("Connection watcher stopped: broker closed")
				return
			}
			connNotify := b.connNotify
			channelNotify := b.channelNotify
			b.mu.RUnlock()

			select {
			case err, ok := <-connNotify:
				if !ok && b.isClosed() {
					return
				}
				if err != nil {
					b.logger.WithError(err).Error("RabbitMQ connection closed unexpectedly")
				} else {
					b.logger.Warn("RabbitMQ connection closed")
				}
				b.triggerReconnect()

			case err, ok := <-channelNotify:
				if !ok && b.isClosed() {
					return
				}
				if err != nil {
					b.logger.WithError(err).Error("RabbitMQ channel closed unexpectedly")
				} else {
					b.logger.Warn("RabbitMQ channel closed")
				}
				b.triggerReconnect()
			}
		}
	}()
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// triggerReconnect 非阻塞地发出重连信号
func (b *Broker) triggerReconnect() {
	select {
	case b.reconnect <- struct{}{}:
	default:
		b.logger.Debug("Reconnect signal already pending")
	}
}

// Reconnect 关闭旧连接并带退避地重建，直至成功或超出重试上限
func (b *Broker) Reconnect() error {
	b.closeConnections()

	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		b.logger.Infof("Attempting to reconnect to RabbitMQ (attempt %d/%d)", attempt, b.maxRetries)

		if err := b.connect(); err != nil {
			b.logger.WithError(err).Error("Failed to reconnect")
			time.Sleep(time.Duration(attempt) * time.Second)
			continue
		}

		b.logger.Info("Successfully reconnected to RabbitMQ")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", b.maxRetries)
}

// closeConnections 关闭现有连接，不设置 closed 标志
func (b *Broker) closeConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil {
		b.channel.Close()
		b.channel = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Publish 发布持久化 JSON 消息
func (b *Broker) Publish(ctx context.Context, body []byte) error {
	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	return ch.PublishWithContext(
		ctx,
		"",          // exchange
		b.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Consume 以手动确认模式消费队列
func (b *Broker) Consume() (<-chan amqp.Delivery, error) {
	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()

	if ch == nil {
		return nil, fmt.Errorf("channel is nil")
	}

	msgs, err := ch.Consume(
		b.queueName,
		"",    // consumer tag
		false, // 手动确认
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	return msgs, nil
}

// QueueStats 返回队列中的消息数和消费者数
func (b *Broker) QueueStats() (messageCount, consumerCount int, err error) {
	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()

	if ch == nil {
		return 0, 0, fmt.Errorf("channel is nil")
	}

	q, err := ch.QueueInspect(b.queueName)
	if err != nil {
		return 0, 0, err
	}
	return q.Messages, q.Consumers, nil
}

// PurgeQueue 清空队列，服务启动时用于与数据库中的任务状态对齐
func (b *Broker) PurgeQueue() (int, error) {
	b.mu.RLock()
	ch := b.channel
	b.mu.RUnlock()

	if ch == nil {
		return 0, fmt.Errorf("channel is nil")
	}

	count, err := ch.QueuePurge(b.queueName, false)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"queue":  b.queueName,
		"purged": count,
	}).Info("Queue purged")

	return count, nil
}

// ReconnectChan 返回重连信号通道，由消费端监听
func (b *Broker) ReconnectChan() <-chan struct{} {
	return b.reconnect
}

// IsConnected 检查底层连接是否可用
func (b *Broker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && !b.conn.IsClosed()
}

// Close 主动关闭连接，停止监听器
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	ch := b.channel
	b.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			b.logger.WithError(err).Error("Failed to close channel")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			b.logger.WithError(err).Error("Failed to close connection")
		}
	}

	b.logger.Info("RabbitMQ connection closed")
	return nil
}
