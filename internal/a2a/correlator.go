package a2a

import (
	"sync"

	xerrors "AgentMesh-Chain/internal/errors"
)

// CodeMissingPredecessor 表示消息缺少因果链上的前驱。
const CodeMissingPredecessor xerrors.Code = "MISSING_PREDECESSOR"

func init() {
	xerrors.Register(CodeMissingPredecessor, xerrors.Attributes{
		Message:   "thread is missing a required predecessor message",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// ErrMissingPredecessor 表示 released/refunded 消息之前没有 authorized 记录。
var ErrMissingPredecessor = xerrors.New(CodeMissingPredecessor, "")

// Correlator 按线程归集 A2A 消息并校验因果链不变量。
type Correlator struct {
	mu      sync.RWMutex
	threads map[string][]Message
}

// NewCorrelator 创建空的消息关联器。
func NewCorrelator() *Correlator {
	return &Correlator{threads: make(map[string][]Message)}
}

// Append 将消息追加到其线程。released 与 refunded 消息要求线程中
// 已存在 authorized 记录，否则拒绝并返回 MISSING_PREDECESSOR。
func (c *Correlator) Append(msg Message) error {
	if msg.ThreadID == "" {
		return xerrors.New(xerrors.CodeValidation, "A2A 消息缺少 thid")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case TypeReleased, TypeRefunded:
		if !c.hasAuthorizedLocked(msg.ThreadID) {
			return xerrors.New(CodeMissingPredecessor,
				"线程 "+msg.ThreadID+" 中不存在 authorized 消息")
		}
	}
	c.threads[msg.ThreadID] = append(c.threads[msg.ThreadID], msg)
	return nil
}

func (c *Correlator) hasAuthorizedLocked(thid string) bool {
	for _, existing := range c.threads[thid] {
		if existing.Type == TypeAuthorized {
			return true
		}
	}
	return false
}

// Thread 返回线程内消息的副本，按追加顺序排列。
func (c *Correlator) Thread(thid string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.threads[thid]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Message, len(entries))
	copy(out, entries)
	return out
}

// Threads 返回当前已知的全部线程 ID。
func (c *Correlator) Threads() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.threads))
	for thid := range c.threads {
		ids = append(ids, thid)
	}
	return ids
}
