package roles

import (
	"context"
	"log/slog"
	"sync"

	"AgentMesh-Chain/internal/coordlog"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/observability/alerting"
	"AgentMesh-Chain/internal/payment"
	"AgentMesh-Chain/internal/task"
	"AgentMesh-Chain/pkg/logger"
)

// RoleVerifier 是校验方的默认角色标识。
const RoleVerifier = "verifier"

// Verdict 是校验方对任务产出的裁定。
type Verdict struct {
	Approved bool
	Notes    string
	Reason   string
}

// Evaluator 评估任务产出，决定托管资金的去向。
type Evaluator interface {
	Evaluate(ctx context.Context, t *task.Task, result *task.Result) (Verdict, error)
}

// EvaluatorFunc 允许以函数形式提供评估逻辑。
type EvaluatorFunc func(ctx context.Context, t *task.Task, result *task.Result) (Verdict, error)

// Evaluate 实现 Evaluator 接口。
func (f EvaluatorFunc) Evaluate(ctx context.Context, t *task.Task, result *task.Result) (Verdict, error) {
	return f(ctx, t, result)
}

// ApproveAll 无条件放行，用于测试与演示环境。
func ApproveAll(notes string) Evaluator {
	return EvaluatorFunc(func(context.Context, *task.Task, *task.Result) (Verdict, error) {
		return Verdict{Approved: true, Notes: notes}, nil
	})
}

// RequireOutput 在任务产出非空时放行，否则拒绝。
func RequireOutput() Evaluator {
	return EvaluatorFunc(func(_ context.Context, _ *task.Task, result *task.Result) (Verdict, error) {
		if result == nil || result.Output == nil || result.Output == "" {
			return Verdict{Approved: false, Reason: "任务没有产出"}, nil
		}
		return Verdict{Approved: true, Notes: "产出非空"}, nil
	})
}

// Verifier 响应 task_completed：评估产出后释放或拒绝托管支付。
// 它同时旁听 payment_initiated 以维护任务到支付的映射。
// 对同一完成信号的重复投递先被去重吸收；即使重放携带新的消息 ID，
// 终态支付上的 release/reject 也是幂等的，账本不会被二次触碰。
type Verifier struct {
	roleID    string
	tasks     *task.Machine
	escrow    *payment.Escrow
	evaluator Evaluator
	alerts    alerting.Dispatcher

	mu       sync.Mutex
	payments map[string]string
}

// NewVerifier 构造校验方角色。
func NewVerifier(tasks *task.Machine, escrow *payment.Escrow, evaluator Evaluator, alerts alerting.Dispatcher) *Verifier {
	return &Verifier{
		roleID:    RoleVerifier,
		tasks:     tasks,
		escrow:    escrow,
		evaluator: evaluator,
		alerts:    alerts,
		payments:  make(map[string]string),
	}
}

// RoleID 实现 Role 接口。
func (v *Verifier) RoleID() string { return v.roleID }

// React 实现 Role 接口。
func (v *Verifier) React(ctx context.Context, msg coordlog.Message) error {
	switch msg.Type {
	case coordlog.TypePaymentInitiated:
		if paymentID, ok := msg.Payload["payment_id"].(string); ok && paymentID != "" {
			v.mu.Lock()
			v.payments[msg.TaskID] = paymentID
			v.mu.Unlock()
		}
		return nil
	case coordlog.TypeTaskCompleted:
		return v.verify(ctx, msg)
	default:
		return nil
	}
}

func (v *Verifier) verify(ctx context.Context, msg coordlog.Message) error {
	v.mu.Lock()
	paymentID, ok := v.payments[msg.TaskID]
	v.mu.Unlock()
	if !ok {
		logger.L().Warn("任务完成但没有关联支付",
			slog.String("task_id", msg.TaskID),
		)
		return nil
	}

	p, err := v.escrow.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	// 终态支付说明本次完成信号已经结算过，不再触碰账本。
	if payment.IsTerminal(p.Status) {
		return nil
	}

	t, err := v.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		return err
	}
	if v.evaluator == nil {
		return xerrors.New(xerrors.CodeInitialization, "校验方未配置评估器")
	}
	verdict, err := v.evaluator.Evaluate(ctx, t, t.Result)
	if err != nil {
		v.notify(ctx, err, t.ID, paymentID)
		return xerrors.Wrap(xerrors.CodePermanentExternal, err, "评估任务产出失败")
	}

	if verdict.Approved {
		if _, err := v.escrow.Release(ctx, v.roleID, paymentID, verdict.Notes); err != nil {
			v.notify(ctx, err, t.ID, paymentID)
			return err
		}
		return nil
	}
	reason := verdict.Reason
	if reason == "" {
		reason = "验证未通过"
	}
	if _, err := v.escrow.Reject(ctx, v.roleID, paymentID, reason); err != nil {
		v.notify(ctx, err, t.ID, paymentID)
		return err
	}
	return nil
}

func (v *Verifier) notify(ctx context.Context, err error, taskID, paymentID string) {
	if v.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := v.alerts.Notify(ctx, alerting.FromError(err, v.roleID, taskID, paymentID, 0, 0)); notifyErr != nil {
		logger.L().Error("发送告警失败", slog.Any("error", notifyErr))
	}
}

var _ Role = (*Verifier)(nil)
