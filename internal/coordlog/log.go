package coordlog

import "context"

// Log 抽象了按任务主题划分的只追加协调日志。
//
// 约定：同一主题内消息按 sequence_number 非递减顺序投递给每个订阅者；
// 投递语义为至少一次，订阅者重连后可能重复收到同一消息 ID，
// 消费方在产生副作用前必须按消息 ID 去重。
// 不保证跨主题顺序，也不保证恰好一次。
type Log interface {
	// Publish 向主题追加一条消息，返回日志分配的序列号。
	Publish(ctx context.Context, topic string, msg Message) (uint64, error)
	// Subscribe 从指定序列号开始订阅主题，返回有序消息流。
	Subscribe(ctx context.Context, topic string, fromSeq uint64) (<-chan Message, error)
	Close() error
}
