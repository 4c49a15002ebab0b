package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"ProcessMCP/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
	// DeadLetterExchange 接收无法解析的批次消息，为空时直接丢弃。
	DeadLetterExchange string
}

// DefaultRabbitMQQueue 是未配置队列名时声明的队列。
const DefaultRabbitMQQueue = "processmcp.tasks"

// RabbitMQQueue 使用 RabbitMQ 投递批次步骤，消息体为 JSON 编码的 Message。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// queueArgs 返回声明队列时附带的参数。
func (cfg RabbitMQConfig) queueArgs() amqp.Table {
	if cfg.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
}

func (cfg RabbitMQConfig) queueName() string {
	if cfg.Queue == "" {
		return DefaultRabbitMQQueue
	}
	return cfg.Queue
}

// NewRabbitMQQueue 连接 broker 并声明任务队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := openTaskChannel(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: cfg.queueName()}, nil
}

func openTaskChannel(conn *amqp.Connection, cfg RabbitMQConfig) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(cfg.queueName(), cfg.Durable, cfg.AutoDelete, false, false, cfg.queueArgs()); err != nil {
		ch.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", cfg.queueName(), err)
	}
	return ch, nil
}

// publishing 将消息包装为持久化投递，批次 ID 作为 CorrelationId 便于在管理台追踪。
func publishing(msg Message) (amqp.Publishing, error) {
	body, err := msg.Encode()
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.TaskID,
		CorrelationId: msg.BatchID,
		Body:          body,
	}, nil
}

// Publish 将消息投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, msg Message) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	pub, err := publishing(msg)
	if err != nil {
		return err
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, pub); err != nil {
		return fmt.Errorf("RabbitMQ 发布任务 %s 失败: %w", msg.TaskID, err)
	}
	return nil
}

// Consume 使用手动确认模式消费队列。处理失败的消息交还 broker 重新投递，
// 无法解析的消息被拒绝并进入死信交换机（若已配置）。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-deliveries:
					if !ok {
						return
					}
					q.dispatch(ctx, delivery, handler)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) dispatch(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	msg, err := DecodeMessage(delivery.Body)
	if err != nil {
		logger.L().Warn("拒绝无法解析的队列消息",
			slog.Any("error", err),
			slog.String("queue", q.queue),
			slog.String("message_id", delivery.MessageId),
		)
		_ = delivery.Reject(false)
		return
	}
	if err := handler(ctx, msg); err != nil {
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
