package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentMesh-Chain/internal/errors"
)

// MemoryStore 以内存方式保存支付状态，用于测试与单进程部署。
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]*Payment)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, p *Payment) error {
	if p == nil {
		return xerrors.New(xerrors.CodeValidation, "payment 不能为空")
	}
	if p.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "支付 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return ErrPaymentConflict
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	m.payments[p.ID] = clonePayment(p)
	return nil
}

// Get 返回支付副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

// Update 在状态匹配时覆盖支付记录。终态记录拒绝任何写入。
func (m *MemoryStore) Update(_ context.Context, p *Payment, expectedStatus Status) error {
	if p == nil {
		return xerrors.New(xerrors.CodeValidation, "payment 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	if IsTerminal(stored.Status) {
		return ErrPaymentTransition
	}
	if stored.Status != expectedStatus {
		return ErrPaymentConflict
	}
	p.CreatedAt = stored.CreatedAt
	m.payments[p.ID] = clonePayment(p)
	return nil
}

// ListByStatus 返回处于指定状态的支付，按创建时间升序。
func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Payment, 0)
	for _, p := range m.payments {
		if p.Status == status {
			results = append(results, clonePayment(p))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt < results[j].CreatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
