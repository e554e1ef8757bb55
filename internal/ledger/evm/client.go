package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"

	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/ledger"
	"AgentMesh-Chain/internal/money"
)

// weiPerTinybar 将 8 位小数的定点金额换算为 18 位小数的 wei。
var weiPerTinybar = big.NewInt(10_000_000_000)

// Config 描述如何构造 EVM 托管账本客户端。
type Config struct {
	RPCURL     string
	PrivateKey string
	GasLimit   uint64
}

// Client 基于 EVM 兼容链实现 ledger.Client。
// 托管账户即操作者账户：Hold 校验余额并在本地登记持仓，
// Transfer 将持仓金额作为链上交易转给收款方，Void 解除登记。
type Client struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	key       *ecdsa.PrivateKey
	operator  common.Address
	gasLimit  uint64

	mu       sync.Mutex
	chainID  *big.Int
	holds    map[string]holdRecord
	reserved *big.Int
}

type holdRecord struct {
	payee  common.Address
	amount *big.Int
}

// NewClient 连接节点并返回可用的托管客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 EVM RPC 地址")
	}
	keyText := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if keyText == "" {
		return nil, errors.New("未配置托管账户私钥")
	}
	key, err := crypto.HexToECDSA(keyText)
	if err != nil {
		return nil, fmt.Errorf("解析托管账户私钥失败: %w", err)
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 EVM 节点失败: %w", err)
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 21_000
	}
	return &Client{
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
		key:       key,
		operator:  crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:  gasLimit,
		holds:     make(map[string]holdRecord),
		reserved:  new(big.Int),
	}, nil
}

func (c *Client) ensureChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientExternal, err, "获取链 ID 失败")
	}
	c.mu.Lock()
	c.chainID = chainID
	c.mu.Unlock()
	return chainID, nil
}

func tinybarToWei(amount money.Amount) *big.Int {
	wei := big.NewInt(amount.Tinybar())
	return wei.Mul(wei, weiPerTinybar)
}

// Hold 校验托管账户余额足以覆盖已有持仓加上新持仓，并登记预留。
func (c *Client) Hold(ctx context.Context, payer, payee string, amount money.Amount, currency string) (ledger.Authorization, error) {
	if !amount.IsPositive() {
		return ledger.Authorization{}, xerrors.New(xerrors.CodeValidation, "托管金额必须为正数")
	}
	if !common.IsHexAddress(payee) {
		return ledger.Authorization{}, xerrors.New(xerrors.CodeValidation, "收款地址非法: "+payee)
	}
	wei := tinybarToWei(amount)
	balance, err := c.eth.BalanceAt(ctx, c.operator, nil)
	if err != nil {
		return ledger.Authorization{}, xerrors.Wrap(xerrors.CodeTransientExternal, err, "查询托管账户余额失败")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	needed := new(big.Int).Add(c.reserved, wei)
	if balance.Cmp(needed) < 0 {
		return ledger.Authorization{}, xerrors.New(xerrors.CodePermanentExternal, "托管账户余额不足")
	}
	handle := "hold-" + uuid.NewString()
	c.holds[handle] = holdRecord{payee: common.HexToAddress(payee), amount: wei}
	c.reserved = needed
	return ledger.Authorization{
		Handle:   handle,
		Payer:    payer,
		Payee:    payee,
		Amount:   amount,
		Currency: currency,
	}, nil
}

// Transfer 将持仓金额作为链上交易发送给收款方。
func (c *Client) Transfer(ctx context.Context, auth ledger.Authorization) (ledger.Receipt, error) {
	c.mu.Lock()
	record, ok := c.holds[auth.Handle]
	c.mu.Unlock()
	if !ok {
		return ledger.Receipt{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("持仓 %s 不存在", auth.Handle))
	}
	chainID, err := c.ensureChainID(ctx)
	if err != nil {
		return ledger.Receipt{}, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return ledger.Receipt{}, xerrors.Wrap(xerrors.CodeTransientExternal, err, "获取 nonce 失败")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.Receipt{}, xerrors.Wrap(xerrors.CodeTransientExternal, err, "获取 gas price 失败")
	}
	tx := coretypes.NewTransaction(nonce, record.payee, record.amount, c.gasLimit, gasPrice, nil)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return ledger.Receipt{}, xerrors.Wrap(xerrors.CodePermanentExternal, err, "签名交易失败")
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return ledger.Receipt{}, xerrors.Wrap(xerrors.CodeTransientExternal, err, "广播交易失败")
	}
	c.mu.Lock()
	delete(c.holds, auth.Handle)
	c.reserved = new(big.Int).Sub(c.reserved, record.amount)
	c.mu.Unlock()
	return ledger.Receipt{
		TransactionID: signed.Hash().Hex(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Void 解除持仓登记，不产生链上交易。
func (c *Client) Void(_ context.Context, auth ledger.Authorization) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.holds[auth.Handle]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("持仓 %s 不存在", auth.Handle))
	}
	delete(c.holds, auth.Handle)
	c.reserved = new(big.Int).Sub(c.reserved, record.amount)
	return nil
}

// Close 释放节点连接。
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.eth != nil {
		c.eth.Close()
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	return nil
}

var _ ledger.Client = (*Client)(nil)
