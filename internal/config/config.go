package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述 AgentMesh 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	CoordLog CoordLogConfig `yaml:"coordination_log"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Retry    RetryConfig    `yaml:"retry"`
	Escrow   EscrowConfig   `yaml:"escrow"`
	Roles    RolesConfig    `yaml:"roles"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志文件及轮转参数。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StorageConfig 描述任务与支付实体的持久化后端。
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CoordLogConfig 描述协调日志的后端。
type CoordLogConfig struct {
	Driver string         `yaml:"driver"`
	Redis  RedisLogConfig `yaml:"redis"`
	AMQP   AMQPLogConfig  `yaml:"rabbitmq"`
}

// RedisLogConfig 描述 Redis Stream 后端的连接参数。
type RedisLogConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AMQPLogConfig 描述 RabbitMQ 后端的连接参数。
type AMQPLogConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Durable  bool   `yaml:"durable"`
}

// LedgerConfig 描述托管账本客户端。
type LedgerConfig struct {
	Driver string    `yaml:"driver"`
	EVM    EVMConfig `yaml:"evm"`
}

// EVMConfig 包含访问 EVM 兼容链所需的参数。
type EVMConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	PrivateKey string `yaml:"private_key"`
	GasLimit   uint64 `yaml:"gas_limit"`
}

// RetryConfig 是账本与日志调用的统一重试策略。
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}

// EscrowConfig 控制托管行为与协商提案条款。
type EscrowConfig struct {
	AuthorizationTTL  string   `yaml:"authorization_ttl"`
	SweepInterval     string   `yaml:"sweep_interval"`
	VerifierAddresses []string `yaml:"verifier_addresses"`
	ApprovalsRequired int      `yaml:"approvals_required"`
	MarketplaceFeeBps int      `yaml:"marketplace_fee_bps"`
	VerifierFeeBps    int      `yaml:"verifier_fee_bps"`
}

// RolesConfig 描述各角色进程的账户与出价参数。
type RolesConfig struct {
	Negotiator NegotiatorConfig `yaml:"negotiator"`
	Executor   ExecutorConfig   `yaml:"executor"`
}

// NegotiatorConfig 是协商方的出价配置。
type NegotiatorConfig struct {
	Payer      string `yaml:"payer"`
	Payee      string `yaml:"payee"`
	ExecutorID string `yaml:"executor_id"`
	Amount     string `yaml:"amount"`
	Currency   string `yaml:"currency"`
}

// ExecutorConfig 是执行方配置。
type ExecutorConfig struct {
	Capability string `yaml:"capability"`
}

// Load 解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.CoordLog.Driver == "" {
		c.CoordLog.Driver = "memory"
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 2
	}
	if c.Escrow.ApprovalsRequired <= 0 {
		c.Escrow.ApprovalsRequired = 1
	}
	if c.Roles.Negotiator.Currency == "" {
		c.Roles.Negotiator.Currency = "HBAR"
	}
	if c.Roles.Negotiator.Amount == "" {
		c.Roles.Negotiator.Amount = "10"
	}
	if c.Roles.Executor.Capability == "" {
		c.Roles.Executor.Capability = "general"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.DSN == "" {
			return errors.New("mysql 存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}

	switch c.CoordLog.Driver {
	case "memory":
	case "redis":
		if c.CoordLog.Redis.Address == "" {
			return errors.New("redis 日志需要配置 address")
		}
	case "rabbitmq":
		if c.CoordLog.AMQP.URL == "" {
			return errors.New("rabbitmq 日志需要配置 url")
		}
	default:
		return fmt.Errorf("不支持的协调日志驱动: %s", c.CoordLog.Driver)
	}

	switch c.Ledger.Driver {
	case "memory":
	case "evm":
		if c.Ledger.EVM.RPCURL == "" {
			return errors.New("evm 账本需要配置 rpc_url")
		}
	default:
		return fmt.Errorf("不支持的账本驱动: %s", c.Ledger.Driver)
	}
	return nil
}

// RetryBackoff 返回重试间隔，解析失败或未配置时使用默认值。
func (c *Config) RetryBackoff() time.Duration {
	return parseDuration(c.Retry.Backoff, 100*time.Millisecond)
}

// AuthorizationTTL 返回托管授权的有效期。
func (c *Config) AuthorizationTTL() time.Duration {
	return parseDuration(c.Escrow.AuthorizationTTL, 24*time.Hour)
}

// SweepInterval 返回过期扫描周期。
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.Escrow.SweepInterval, time.Minute)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
