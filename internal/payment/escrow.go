package payment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgentMesh-Chain/internal/a2a"
	"AgentMesh-Chain/internal/coordlog"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/ledger"
	"AgentMesh-Chain/internal/money"
	"AgentMesh-Chain/internal/retry"
	"AgentMesh-Chain/pkg/logger"
)

// Terms 描述协商阶段写入提案的市场参数。
type Terms struct {
	VerifierAddresses []string
	ApprovalsRequired int
	MarketplaceFeeBps int
	VerifierFeeBps    int
}

// Escrow 驱动托管支付状态机。账本调用统一经过重试策略；
// 每次状态变更都会发布协调消息，并在对应线程上追加 A2A 消息。
type Escrow struct {
	store      Store
	ledger     ledger.Client
	log        coordlog.Log
	correlator *a2a.Correlator
	policy     retry.Policy
	terms      Terms
}

// NewEscrow 构造托管支付状态机，依赖全部显式注入。
func NewEscrow(store Store, ledgerClient ledger.Client, log coordlog.Log, correlator *a2a.Correlator, policy retry.Policy, terms Terms) *Escrow {
	if terms.ApprovalsRequired <= 0 {
		terms.ApprovalsRequired = 1
	}
	return &Escrow{
		store:      store,
		ledger:     ledgerClient,
		log:        log,
		correlator: correlator,
		policy:     policy,
		terms:      terms,
	}
}

// CreateRequest 创建 PENDING 状态的支付请求，
// 发布 payment_initiated 协调消息和 payment/proposal A2A 提案。
func (e *Escrow) CreateRequest(ctx context.Context, actor, taskID, payer, payee string, amount money.Amount, currency string) (*Payment, error) {
	if e.store == nil || e.ledger == nil || e.log == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "托管服务未初始化")
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, xerrors.New(CodePaymentValidation, "支付必须关联任务")
	}
	if strings.TrimSpace(payer) == "" || strings.TrimSpace(payee) == "" {
		return nil, xerrors.New(CodePaymentValidation, "付款方与收款方不能为空")
	}
	if !amount.IsPositive() {
		return nil, xerrors.New(CodePaymentValidation, "支付金额必须为正数")
	}
	if currency == "" {
		currency = "HBAR"
	}
	p := &Payment{
		ID:       uuid.NewString(),
		TaskID:   taskID,
		Payer:    payer,
		Payee:    payee,
		Amount:   amount,
		Currency: currency,
		Status:   StatusPending,
	}
	if err := e.store.Create(ctx, p); err != nil {
		return nil, err
	}
	e.publishCoord(ctx, actor, p, coordlog.TypePaymentInitiated, map[string]any{
		"payment_id": p.ID,
		"amount":     p.Amount.String(),
		"currency":   p.Currency,
		"status":     string(StatusPending),
	})
	e.appendThread(a2a.NewProposal(a2a.Proposal{
		PaymentID:         p.ID,
		TaskID:            p.TaskID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		From:              payer,
		To:                payee,
		VerifierAddresses: e.terms.VerifierAddresses,
		ApprovalsRequired: e.terms.ApprovalsRequired,
		MarketplaceFeeBps: e.terms.MarketplaceFeeBps,
		VerifierFeeBps:    e.terms.VerifierFeeBps,
	}))
	logger.Audit().Info("支付请求已创建",
		slog.String("payment_id", p.ID),
		slog.String("task_id", p.TaskID),
		slog.String("amount", p.Amount.String()),
		slog.String("currency", p.Currency),
	)
	return p, nil
}

// Authorize 对 PENDING 支付建立账本持仓并进入 AUTHORIZED。
// 账本瞬时故障重试一次；重试仍失败时支付进入 FAILED（未动用资金）。
func (e *Escrow) Authorize(ctx context.Context, actor, paymentID string) (*Payment, error) {
	p, err := e.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, transitionError(p.Status, StatusAuthorized)
	}

	var auth ledger.Authorization
	holdErr := e.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		auth, err = e.ledger.Hold(ctx, p.Payer, p.Payee, p.Amount, p.Currency)
		return err
	})
	if holdErr != nil {
		p.Status = StatusFailed
		p.CompletedAt = time.Now().Unix()
		if updateErr := e.store.Update(ctx, p, StatusPending); updateErr != nil {
			return nil, updateErr
		}
		e.publishCoord(ctx, actor, p, coordlog.TypePaymentFailed, map[string]any{
			"payment_id": p.ID,
			"status":     string(StatusFailed),
			"error":      holdErr.Error(),
		})
		logger.L().Error("建立托管持仓失败",
			slog.Any("error", holdErr),
			slog.String("payment_id", p.ID),
			slog.String("task_id", p.TaskID),
		)
		return p, xerrors.Wrap(xerrors.CodePermanentExternal, holdErr, "建立托管持仓失败")
	}

	p.Status = StatusAuthorized
	p.AuthorizationHandle = auth.Handle
	if err := e.store.Update(ctx, p, StatusPending); err != nil {
		return nil, err
	}
	e.publishCoord(ctx, actor, p, coordlog.TypePaymentInitiated, map[string]any{
		"payment_id":       p.ID,
		"amount":           p.Amount.String(),
		"currency":         p.Currency,
		"status":           string(StatusAuthorized),
		"authorization_id": auth.Handle,
	})
	e.appendThread(a2a.NewAuthorized(p.ID, p.TaskID, p.Amount, p.Currency, p.Payer, p.Payee, auth.Handle))
	logger.Audit().Info("支付已授权",
		slog.String("payment_id", p.ID),
		slog.String("task_id", p.TaskID),
		slog.String("authorization_id", auth.Handle),
	)
	return p, nil
}

// Release 结清 AUTHORIZED 支付并进入 COMPLETED。
// 对已 COMPLETED 的支付幂等：原样返回既有回执，不再触发转账。
func (e *Escrow) Release(ctx context.Context, actor, paymentID, notes string) (*Payment, error) {
	p, err := e.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusCompleted {
		return p, nil
	}
	if p.Status != StatusAuthorized {
		return nil, transitionError(p.Status, StatusCompleted)
	}

	var receipt ledger.Receipt
	transferErr := e.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = e.ledger.Transfer(ctx, p.authorization())
		return err
	})
	if transferErr != nil {
		e.publishCoord(ctx, actor, p, coordlog.TypePaymentFailed, map[string]any{
			"payment_id": p.ID,
			"status":     string(p.Status),
			"operation":  "release",
			"error":      transferErr.Error(),
		})
		logger.L().Error("释放托管支付失败",
			slog.Any("error", transferErr),
			slog.String("payment_id", p.ID),
			slog.String("task_id", p.TaskID),
		)
		return nil, transferErr
	}

	p.Status = StatusCompleted
	p.SettlementReceipt = &receipt
	p.CompletedAt = time.Now().Unix()
	if notes != "" {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any)
		}
		p.Metadata["verification_notes"] = notes
	}
	if err := e.store.Update(ctx, p, StatusAuthorized); err != nil {
		return nil, err
	}
	e.publishCoord(ctx, actor, p, coordlog.TypePaymentCompleted, map[string]any{
		"payment_id":     p.ID,
		"amount":         p.Amount.String(),
		"currency":       p.Currency,
		"status":         string(StatusCompleted),
		"transaction_id": receipt.TransactionID,
	})
	e.appendThread(a2a.NewReleased(p.ID, p.TaskID, p.Amount, p.Currency, p.Payer, p.Payee, receipt.TransactionID, notes))
	logger.Audit().Info("支付已释放",
		slog.String("payment_id", p.ID),
		slog.String("task_id", p.TaskID),
		slog.String("transaction_id", receipt.TransactionID),
	)
	return p, nil
}

// Reject 拒绝 PENDING 或 AUTHORIZED 支付并进入 REFUNDED，
// 已授权的持仓通过账本 Void 解除。对已 REFUNDED 的支付幂等。
func (e *Escrow) Reject(ctx context.Context, actor, paymentID, reason string) (*Payment, error) {
	p, err := e.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusRefunded {
		return p, nil
	}
	if p.Status != StatusPending && p.Status != StatusAuthorized {
		return nil, transitionError(p.Status, StatusRefunded)
	}

	previous := p.Status
	if p.Status == StatusAuthorized {
		voidErr := e.policy.Do(ctx, func(ctx context.Context) error {
			return e.ledger.Void(ctx, p.authorization())
		})
		if voidErr != nil {
			e.publishCoord(ctx, actor, p, coordlog.TypePaymentFailed, map[string]any{
				"payment_id": p.ID,
				"status":     string(p.Status),
				"operation":  "reject",
				"error":      voidErr.Error(),
			})
			logger.L().Error("解除托管持仓失败",
				slog.Any("error", voidErr),
				slog.String("payment_id", p.ID),
				slog.String("task_id", p.TaskID),
			)
			return nil, voidErr
		}
	}

	p.Status = StatusRefunded
	p.CompletedAt = time.Now().Unix()
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata["rejection_reason"] = reason
	if err := e.store.Update(ctx, p, previous); err != nil {
		return nil, err
	}
	e.publishCoord(ctx, actor, p, coordlog.TypePaymentCompleted, map[string]any{
		"payment_id":       p.ID,
		"amount":           p.Amount.String(),
		"currency":         p.Currency,
		"status":           string(StatusRefunded),
		"rejection_reason": reason,
	})
	// 未经授权的支付没有 payment/authorized 前驱，
	// 因果链约束下 refunded 不可表示，线程到 proposal 为止。
	if previous == StatusAuthorized {
		e.appendThread(a2a.NewRefunded(p.ID, p.TaskID, p.Amount, p.Currency, p.Payer, p.Payee, "", reason))
	}
	logger.Audit().Info("支付已退款",
		slog.String("payment_id", p.ID),
		slog.String("task_id", p.TaskID),
		slog.String("reason", reason),
	)
	return p, nil
}

// Get 返回支付当前状态。
func (e *Escrow) Get(ctx context.Context, paymentID string) (*Payment, error) {
	if e.store == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "支付存储未初始化")
	}
	return e.store.Get(ctx, paymentID)
}

// Thread 返回支付协商线程内的 A2A 消息。
func (e *Escrow) Thread(taskID, paymentID string) []a2a.Message {
	if e.correlator == nil {
		return nil
	}
	return e.correlator.Thread(a2a.ThreadID(taskID, paymentID))
}

func (e *Escrow) load(ctx context.Context, paymentID string) (*Payment, error) {
	if e.store == nil || e.ledger == nil || e.log == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "托管服务未初始化")
	}
	return e.store.Get(ctx, paymentID)
}

// publishCoord 发布协调消息。发布失败只记录日志，不回滚已落库的状态，
// 消费侧依赖重放与去重补齐。
func (e *Escrow) publishCoord(ctx context.Context, actor string, p *Payment, msgType coordlog.Type, payload map[string]any) {
	msg := coordlog.NewMessage(msgType, p.TaskID, actor, payload)
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		_, publishErr := e.log.Publish(ctx, p.TaskID, msg)
		return publishErr
	})
	if err != nil {
		logger.L().Error("发布支付协调消息失败",
			slog.Any("error", err),
			slog.String("payment_id", p.ID),
			slog.String("task_id", p.TaskID),
			slog.String("type", string(msgType)),
		)
	}
}

func (e *Escrow) appendThread(msg a2a.Message) {
	if e.correlator == nil {
		return
	}
	if err := e.correlator.Append(msg); err != nil {
		logger.L().Error("追加 A2A 线程消息失败",
			slog.Any("error", err),
			slog.String("thid", msg.ThreadID),
			slog.String("type", string(msg.Type)),
		)
	}
}

func transitionError(from, to Status) error {
	return xerrors.New(xerrors.CodeInvalidTransition,
		"不允许从 "+string(from)+" 转移到 "+string(to))
}
