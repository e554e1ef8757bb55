package coordlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentMesh-Chain/internal/errors"
)

// RedisLogConfig 描述 Redis Stream 日志的连接参数。
type RedisLogConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	BlockWait time.Duration
}

// RedisLog 使用 Redis Stream 实现协调日志。
// 序列号通过 INCR 在服务端分配，条目以 "<seq>-0" 作为 Stream ID 写入，
// 因此主题内天然按序列号排序并支持从任意序列号回放。
type RedisLog struct {
	client *redis.Client
	prefix string
	wait   time.Duration
}

// NewRedisLog 创建 Redis 日志实例。
func NewRedisLog(cfg RedisLogConfig) (*RedisLog, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentmesh:coordlog"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisLog{client: client, prefix: prefix, wait: wait}, nil
}

func (l *RedisLog) streamKey(topic string) string {
	return l.prefix + ":" + topic
}

func (l *RedisLog) seqKey(topic string) string {
	return l.prefix + ":" + topic + ":seq"
}

// Publish 分配序列号并追加到主题对应的 Stream。
func (l *RedisLog) Publish(ctx context.Context, topic string, msg Message) (uint64, error) {
	seq, err := l.client.Incr(ctx, l.seqKey(topic)).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeLogPublishFailure, err, "Redis 分配序列号失败")
	}
	msg.SequenceNumber = uint64(seq)
	data, err := msg.Encode()
	if err != nil {
		return 0, err
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.streamKey(topic),
		ID:     fmt.Sprintf("%d-0", seq),
		Values: map[string]any{"data": string(data)},
	}).Err()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeLogPublishFailure, err, "Redis 追加日志失败")
	}
	return uint64(seq), nil
}

// Subscribe 从 fromSeq 之后开始读取主题消息。
func (l *RedisLog) Subscribe(ctx context.Context, topic string, fromSeq uint64) (<-chan Message, error) {
	out := make(chan Message, 256)
	go func() {
		defer close(out)
		cursor := fmt.Sprintf("%d-0", fromSeq)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			streams, err := l.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{l.streamKey(topic), cursor},
				Block:   l.wait,
				Count:   64,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				// 短暂失败后继续轮询，由消费侧按消息 ID 去重。
				time.Sleep(l.wait)
				continue
			}
			for _, stream := range streams {
				for _, entry := range stream.Messages {
					raw, ok := entry.Values["data"].(string)
					if !ok {
						continue
					}
					msg, decodeErr := Decode([]byte(raw))
					if decodeErr != nil {
						continue
					}
					select {
					case out <- msg:
						cursor = entry.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Close 关闭 Redis 连接。
func (l *RedisLog) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

var _ Log = (*RedisLog)(nil)
