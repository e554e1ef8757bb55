package coordlog

import (
	"context"
	"sync"

	xerrors "AgentMesh-Chain/internal/errors"
)

// MemoryLog 在进程内实现协调日志，保留完整历史以支持回放，
// 主要用于测试和单进程部署。
type MemoryLog struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	closed bool
}

type memoryTopic struct {
	entries []Message
	subs    []*memorySub
}

type memorySub struct {
	ch     chan Message
	cursor uint64
}

// NewMemoryLog 创建内存日志。
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{topics: make(map[string]*memoryTopic)}
}

func (l *MemoryLog) topic(name string) *memoryTopic {
	t, ok := l.topics[name]
	if !ok {
		t = &memoryTopic{}
		l.topics[name] = t
	}
	return t
}

// Publish 追加消息并同步推送给所有订阅者。
func (l *MemoryLog) Publish(_ context.Context, topic string, msg Message) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, xerrors.New(xerrors.CodeLogPublishFailure, "内存日志已关闭")
	}
	t := l.topic(topic)
	seq := uint64(len(t.entries)) + 1
	msg.SequenceNumber = seq
	t.entries = append(t.entries, msg)
	for _, sub := range t.subs {
		select {
		case sub.ch <- msg:
			sub.cursor = seq
		default:
			// 订阅者缓冲已满时丢弃实时推送，靠重新订阅回放补齐。
		}
	}
	return seq, nil
}

// Subscribe 先回放 fromSeq 之后的历史消息，再持续接收新消息。
func (l *MemoryLog) Subscribe(ctx context.Context, topic string, fromSeq uint64) (<-chan Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, xerrors.New(xerrors.CodeLogPublishFailure, "内存日志已关闭")
	}
	t := l.topic(topic)
	pending := make([]Message, 0, len(t.entries))
	for _, msg := range t.entries {
		if msg.SequenceNumber > fromSeq {
			pending = append(pending, msg)
		}
	}
	// 缓冲必须容得下全部回放历史，否则回放会在持锁状态下阻塞。
	sub := &memorySub{ch: make(chan Message, len(pending)+256), cursor: fromSeq}
	for _, msg := range pending {
		sub.ch <- msg
		sub.cursor = msg.SequenceNumber
	}
	t.subs = append(t.subs, sub)

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, existing := range t.subs {
			if existing == sub {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}()
	return sub.ch, nil
}

// History 返回主题的全部历史消息副本，用于审计与测试。
func (l *MemoryLog) History(topic string) []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.topics[topic]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Redeliver 将指定序列号的消息再次推送给所有订阅者，
// 用于在测试中模拟至少一次投递的重复消息。
func (l *MemoryLog) Redeliver(topic string, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.topics[topic]
	if !ok || seq == 0 || seq > uint64(len(t.entries)) {
		return false
	}
	msg := t.entries[seq-1]
	for _, sub := range t.subs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return true
}

// Close 关闭日志并断开所有订阅。
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, t := range l.topics {
		for _, sub := range t.subs {
			close(sub.ch)
		}
		t.subs = nil
	}
	return nil
}

var _ Log = (*MemoryLog)(nil)
