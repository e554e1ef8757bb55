package roles

import (
	"context"
	"log/slog"

	"AgentMesh-Chain/internal/coordlog"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/money"
	"AgentMesh-Chain/internal/observability/alerting"
	"AgentMesh-Chain/internal/payment"
	"AgentMesh-Chain/internal/task"
	"AgentMesh-Chain/pkg/logger"
)

// RoleNegotiator 是协商方的默认角色标识。
const RoleNegotiator = "negotiator"

// NegotiatorConfig 描述协商方的出价参数与账户配置。
type NegotiatorConfig struct {
	RoleID     string
	Payer      string
	Payee      string
	ExecutorID string
	Amount     money.Amount
	Currency   string
}

// Negotiator 响应 task_created：为任务创建托管支付，把任务指派给
// 执行方，然后授权托管持仓。授权失败时任务转入 FAILED，
// 这是显式的补偿动作。
type Negotiator struct {
	cfg    NegotiatorConfig
	escrow *payment.Escrow
	tasks  *task.Machine
	alerts alerting.Dispatcher
}

// NewNegotiator 构造协商方角色。
func NewNegotiator(cfg NegotiatorConfig, escrow *payment.Escrow, tasks *task.Machine, alerts alerting.Dispatcher) *Negotiator {
	if cfg.RoleID == "" {
		cfg.RoleID = RoleNegotiator
	}
	if cfg.Currency == "" {
		cfg.Currency = "HBAR"
	}
	return &Negotiator{cfg: cfg, escrow: escrow, tasks: tasks, alerts: alerts}
}

// RoleID 实现 Role 接口。
func (n *Negotiator) RoleID() string { return n.cfg.RoleID }

// React 实现 Role 接口。
func (n *Negotiator) React(ctx context.Context, msg coordlog.Message) error {
	if msg.Type != coordlog.TypeTaskCreated {
		return nil
	}
	t, err := n.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		return err
	}
	// 重放的 task_created 在任务离开 PENDING 后不再触发新支付。
	if t.Status != task.StatusPending {
		return nil
	}

	p, err := n.escrow.CreateRequest(ctx, n.cfg.RoleID, t.ID, n.cfg.Payer, n.cfg.Payee, n.cfg.Amount, n.cfg.Currency)
	if err != nil {
		return err
	}
	// 先指派再授权：payment_initiated 发布时任务必须已经是 ASSIGNED，
	// 执行方收到该消息即可直接开工，不依赖跨订阅的投递时序。
	assigned, err := n.tasks.Assign(ctx, n.cfg.RoleID, t.ID, n.cfg.ExecutorID, t.Version)
	if err != nil {
		return err
	}
	if _, err := n.escrow.Authorize(ctx, n.cfg.RoleID, p.ID); err != nil {
		n.notify(ctx, err, t.ID, p.ID)
		if _, failErr := n.tasks.Fail(ctx, n.cfg.RoleID, t.ID, "支付授权失败", assigned.Version); failErr != nil {
			logger.L().Error("标记任务失败时出错",
				slog.Any("error", failErr),
				slog.String("task_id", t.ID),
			)
		}
		return err
	}
	return nil
}

func (n *Negotiator) notify(ctx context.Context, err error, taskID, paymentID string) {
	if n.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := n.alerts.Notify(ctx, alerting.FromError(err, n.cfg.RoleID, taskID, paymentID, 0, 0)); notifyErr != nil {
		logger.L().Error("发送告警失败", slog.Any("error", notifyErr))
	}
}

var _ Role = (*Negotiator)(nil)
