package coordlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentMesh-Chain/internal/errors"
)

// AMQPLogConfig 描述 RabbitMQ 日志的连接参数。
type AMQPLogConfig struct {
	URL      string
	Exchange string
	Durable  bool
}

// AMQPLog 使用 RabbitMQ topic exchange 将协调消息广播给各角色进程。
//
// AMQP 本身不保存历史，订阅从当前位置开始接收；fromSeq 仅用于过滤
// 早于游标的重复投递。序列号由发布端按主题分配，依赖单写者纪律：
// 每个实体同一时刻只有一个角色有权发布其变更。
type AMQPLog struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu   sync.Mutex
	seqs map[string]uint64
}

// NewAMQPLog 创建 RabbitMQ 日志实例。
func NewAMQPLog(cfg AMQPLogConfig) (*AMQPLog, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "agentmesh.coordlog"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &AMQPLog{conn: conn, ch: ch, exchange: exchange, seqs: make(map[string]uint64)}, nil
}

// Publish 分配主题内序列号并广播消息。
func (l *AMQPLog) Publish(ctx context.Context, topic string, msg Message) (uint64, error) {
	if l == nil || l.ch == nil {
		return 0, xerrors.New(xerrors.CodeInitialization, "RabbitMQ 日志未初始化")
	}
	l.mu.Lock()
	l.seqs[topic]++
	seq := l.seqs[topic]
	l.mu.Unlock()

	msg.SequenceNumber = seq
	data, err := msg.Encode()
	if err != nil {
		return 0, err
	}
	err = l.ch.PublishWithContext(ctx, l.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   msg.ID,
		Body:        data,
	})
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeLogPublishFailure, err, "RabbitMQ 发布协调消息失败")
	}
	return seq, nil
}

// Subscribe 绑定独占队列并消费主题消息。
func (l *AMQPLog) Subscribe(ctx context.Context, topic string, fromSeq uint64) (<-chan Message, error) {
	if l == nil || l.ch == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "RabbitMQ 日志未初始化")
	}
	queue, err := l.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if err := l.ch.QueueBind(queue.Name, topic, l.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
	}
	deliveries, err := l.ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	out := make(chan Message, 256)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				msg, decodeErr := Decode(delivery.Body)
				if decodeErr != nil {
					continue
				}
				if msg.SequenceNumber <= fromSeq {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close 关闭 RabbitMQ 连接。
func (l *AMQPLog) Close() error {
	if l == nil {
		return nil
	}
	if l.ch != nil {
		_ = l.ch.Close()
	}
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}

var _ Log = (*AMQPLog)(nil)
