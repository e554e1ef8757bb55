package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"AgentMesh-Chain/internal/a2a"
	"AgentMesh-Chain/internal/api"
	"AgentMesh-Chain/internal/config"
	"AgentMesh-Chain/internal/coordlog"
	"AgentMesh-Chain/internal/ledger"
	"AgentMesh-Chain/internal/ledger/evm"
	"AgentMesh-Chain/internal/money"
	"AgentMesh-Chain/internal/observability/alerting"
	"AgentMesh-Chain/internal/payment"
	"AgentMesh-Chain/internal/registry"
	"AgentMesh-Chain/internal/retry"
	"AgentMesh-Chain/internal/roles"
	"AgentMesh-Chain/internal/task"
	"AgentMesh-Chain/pkg/logger"
)

// main 是 AgentMesh 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agentmeshd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTMESH_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentmesh.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.RetryBackoff(),
	}

	taskStore, paymentStore, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = taskStore.Close()
		_ = paymentStore.Close()
	}()

	coordLog, err := buildCoordLog(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := coordLog.Close(); err != nil {
			logger.L().Error("关闭协调日志失败", slog.Any("error", err))
		}
	}()

	ledgerClient, err := buildLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ledgerClient.Close() }()

	correlator := a2a.NewCorrelator()
	tasks := task.NewMachine(taskStore, coordLog, policy)
	escrow := payment.NewEscrow(paymentStore, ledgerClient, coordLog, correlator, policy, payment.Terms{
		VerifierAddresses: cfg.Escrow.VerifierAddresses,
		ApprovalsRequired: cfg.Escrow.ApprovalsRequired,
		MarketplaceFeeBps: cfg.Escrow.MarketplaceFeeBps,
		VerifierFeeBps:    cfg.Escrow.VerifierFeeBps,
	})

	amount, err := money.Parse(cfg.Roles.Negotiator.Amount)
	if err != nil {
		return fmt.Errorf("解析协商出价失败: %w", err)
	}

	capabilities := registry.New()
	if err := capabilities.RegisterFunc(cfg.Roles.Executor.Capability, echoCapability); err != nil {
		return err
	}

	alerts := alerting.NewFanout(&alerting.LogNotifier{})
	negotiator := roles.NewNegotiator(roles.NegotiatorConfig{
		Payer:      cfg.Roles.Negotiator.Payer,
		Payee:      cfg.Roles.Negotiator.Payee,
		ExecutorID: cfg.Roles.Negotiator.ExecutorID,
		Amount:     amount,
		Currency:   cfg.Roles.Negotiator.Currency,
	}, escrow, tasks, alerts)
	executor := roles.NewExecutor(tasks, capabilities, policy, alerts,
		roles.WithCapabilityResolver(func(*task.Task) string { return cfg.Roles.Executor.Capability }))
	verifier := roles.NewVerifier(tasks, escrow, roles.RequireOutput(), alerts)

	reactors := []*roles.Reactor{
		roles.NewReactor(negotiator, coordLog),
		roles.NewReactor(executor, coordLog),
		roles.NewReactor(verifier, coordLog),
	}
	// 订阅必须活到守护进程退出，不能随提交请求的上下文一起取消，
	// 因此这里忽略钩子入参，固定使用 run 的根上下文。
	issuer := roles.NewIssuer(tasks, roles.WithSubmitHook(func(_ context.Context, t *task.Task) {
		for _, reactor := range reactors {
			if err := reactor.Watch(ctx, t.ID, 0); err != nil {
				logger.L().Error("挂载任务主题订阅失败",
					slog.Any("error", err),
					slog.String("task_id", t.ID),
				)
			}
		}
	}))

	sweeper := payment.NewSweeper(escrow, paymentStore, cfg.AuthorizationTTL(), cfg.SweepInterval())
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("过期清理器异常退出", slog.Any("error", err))
		}
	}()

	logger.L().Info("agentmeshd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("coordination_log", cfg.CoordLog.Driver),
		slog.String("ledger", cfg.Ledger.Driver),
	)

	server := api.NewServer(cfg.Server.Address, issuer, tasks, escrow, correlator)
	return server.Start(ctx)
}

func buildStores(cfg *config.Config) (task.Store, payment.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return task.NewMemoryStore(), payment.NewMemoryStore(), nil
	case "mysql":
		taskStore, err := task.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		paymentStore, err := payment.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			_ = taskStore.Close()
			return nil, nil, err
		}
		return taskStore, paymentStore, nil
	default:
		return nil, nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Storage.Driver)
	}
}

func buildCoordLog(cfg *config.Config) (coordlog.Log, error) {
	switch cfg.CoordLog.Driver {
	case "memory":
		return coordlog.NewMemoryLog(), nil
	case "redis":
		return coordlog.NewRedisLog(coordlog.RedisLogConfig{
			Address:   cfg.CoordLog.Redis.Address,
			Password:  cfg.CoordLog.Redis.Password,
			DB:        cfg.CoordLog.Redis.DB,
			KeyPrefix: cfg.CoordLog.Redis.KeyPrefix,
		})
	case "rabbitmq":
		return coordlog.NewAMQPLog(coordlog.AMQPLogConfig{
			URL:      cfg.CoordLog.AMQP.URL,
			Exchange: cfg.CoordLog.AMQP.Exchange,
			Durable:  cfg.CoordLog.AMQP.Durable,
		})
	default:
		return nil, fmt.Errorf("不支持的协调日志驱动: %s", cfg.CoordLog.Driver)
	}
}

func buildLedger(ctx context.Context, cfg *config.Config) (ledger.Client, error) {
	switch cfg.Ledger.Driver {
	case "memory":
		return ledger.NewMemoryClient(), nil
	case "evm":
		return evm.NewClient(ctx, evm.Config{
			RPCURL:     cfg.Ledger.EVM.RPCURL,
			PrivateKey: cfg.Ledger.EVM.PrivateKey,
			GasLimit:   cfg.Ledger.EVM.GasLimit,
		})
	default:
		return nil, fmt.Errorf("不支持的账本驱动: %s", cfg.Ledger.Driver)
	}
}

// echoCapability 是内建的兜底能力：原样回显任务描述。
// 真实部署通过 registry 注册业务处理器替换它。
func echoCapability(_ context.Context, req registry.Request) (registry.Result, error) {
	return registry.Result{
		Output:   "已处理: " + req.Description,
		Metadata: map[string]any{"capability": req.Capability},
	}, nil
}
