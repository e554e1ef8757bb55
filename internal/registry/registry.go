package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	xerrors "AgentMesh-Chain/internal/errors"
)

// Request 描述一次能力调用。Description 来自任务本身，
// Input 携带执行方附加的上下文参数。
type Request struct {
	TaskID      string
	Capability  string
	Description string
	Input       map[string]any
}

// Tool 描述执行过程中动态创建的工具。
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Result 汇总一次能力执行的产出。
type Result struct {
	Output   any
	Metadata map[string]any
	Tools    []Tool
}

// Handler 是一项可注册能力的执行入口。
type Handler interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// HandlerFunc 允许以函数形式注册能力。
type HandlerFunc func(ctx context.Context, req Request) (Result, error)

// Execute 实现 Handler 接口。
func (f HandlerFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// CodeCapabilityNotFound 表示请求的能力未注册。
const CodeCapabilityNotFound xerrors.Code = "CAPABILITY_NOT_FOUND"

func init() {
	xerrors.Register(CodeCapabilityNotFound, xerrors.Attributes{
		Message:   "capability not registered",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Registry 维护能力键到处理器的静态映射。
// 所有注册发生在初始化阶段，运行期只做只读解析。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New 创建空注册表。
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册一项能力。重复注册同一能力键会被拒绝。
func (r *Registry) Register(capability string, handler Handler) error {
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return xerrors.New(xerrors.CodeValidation, "能力键不能为空")
	}
	if handler == nil {
		return xerrors.New(xerrors.CodeValidation, "能力处理器不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[capability]; exists {
		return xerrors.New(xerrors.CodeValidation, "能力已注册: "+capability)
	}
	r.handlers[capability] = handler
	return nil
}

// RegisterFunc 以函数形式注册能力。
func (r *Registry) RegisterFunc(capability string, fn HandlerFunc) error {
	return r.Register(capability, fn)
}

// Resolve 按能力键查找处理器。
func (r *Registry) Resolve(capability string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[capability]
	if !ok {
		return nil, xerrors.New(CodeCapabilityNotFound, "未注册的能力: "+capability)
	}
	return handler, nil
}

// Capabilities 返回全部已注册的能力键，按字典序排列。
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var _ Handler = (HandlerFunc)(nil)
