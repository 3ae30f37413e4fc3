package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/settlement"
	"ASpec-Commerce/pkg/logger"
)

const erc20ABI = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	nativeDecimals        = 18
	defaultTokenDecimals  = 6
	nativeTransferGas     = 21000
	defaultReceiptTimeout = 2 * time.Minute
)

// Backend 是转账所需的最小链访问能力，ethclient.Client 与模拟后端都满足。
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config 描述 EVM 结算策略。
type Config struct {
	Name           string
	RPCURL         string
	PrivateKey     string
	TokenAddress   string
	TokenSymbol    string
	TokenDecimals  int
	ExplorerURL    string
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Client 以 EVM 交易完成结算：配置了代币地址时调用 ERC-20 transfer，否则转原生币。
type Client struct {
	name      string
	backend   Backend
	rpc       *gethrpc.Client
	key       *ecdsa.PrivateKey
	from      common.Address
	token     *common.Address
	symbol    string
	decimals  int32
	explorer  string
	timeout   time.Duration
	poll      time.Duration
	token20   abi.ABI
	afterSend func()

	mu      sync.Mutex
	chainID *big.Int
}

// Option 定制 Client。
type Option func(*Client)

// WithAfterSend 在每笔交易广播后回调，模拟链用来出块。
func WithAfterSend(fn func()) Option {
	return func(c *Client) { c.afterSend = fn }
}

// NewClient 连接 RPC 节点并创建结算客户端。
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 EVM RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	c, err := NewWithBackend(cfg, ethclient.NewClient(rpcClient), opts...)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	c.rpc = rpcClient
	return c, nil
}

// NewWithBackend 使用现成的链后端创建结算客户端，测试时传入模拟后端。
func NewWithBackend(cfg Config, backend Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("链后端不能为空")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if keyHex == "" {
		return nil, errors.New("EVM 结算需要配置私钥")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}

	c := &Client{
		name:     cfg.Name,
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		symbol:   cfg.TokenSymbol,
		decimals: nativeDecimals,
		explorer: strings.TrimRight(cfg.ExplorerURL, "/"),
		timeout:  cfg.ReceiptTimeout,
		poll:     cfg.PollInterval,
		token20:  parsed,
	}
	if addr := strings.TrimSpace(cfg.TokenAddress); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("代币地址无效: %s", addr)
		}
		token := common.HexToAddress(addr)
		c.token = &token
		c.decimals = defaultTokenDecimals
		if cfg.TokenDecimals > 0 {
			c.decimals = int32(cfg.TokenDecimals)
		}
		if c.symbol == "" {
			c.symbol = "USDC"
		}
	}
	if c.symbol == "" {
		c.symbol = "ETH"
	}
	if c.timeout <= 0 {
		c.timeout = defaultReceiptTimeout
	}
	if c.poll <= 0 {
		c.poll = 500 * time.Millisecond
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Address 返回结算钱包地址。
func (c *Client) Address() common.Address { return c.from }

// Close 释放 RPC 连接。
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// Transfer 签名并广播转账交易，等待回执后返回结果。任何错误都转为失败结果。
func (c *Client) Transfer(ctx context.Context, destination string, amount decimal.Decimal) settlement.TransactionResult {
	log := logger.Named("settlement.evm").With("chain", c.name, "destination", destination, "amount", amount.String())

	if !common.IsHexAddress(destination) {
		return settlement.Failed("invalid destination address: " + destination)
	}
	if !amount.IsPositive() {
		return settlement.Failed("amount must be positive")
	}
	to := common.HexToAddress(destination)
	units := amount.Shift(c.decimals).BigInt()

	tx, err := c.buildTx(ctx, to, units)
	if err != nil {
		log.Warn("构建交易失败", "error", err)
		return settlement.Failed(err.Error())
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		log.Warn("广播交易失败", "error", err)
		return settlement.Failed(fmt.Sprintf("send transaction: %v", err))
	}
	if c.afterSend != nil {
		c.afterSend()
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	receipt, err := c.waitForReceipt(waitCtx, tx.Hash())
	if err != nil {
		log.Warn("等待交易回执失败", "tx", tx.Hash().Hex(), "error", err)
		return settlement.TransactionResult{Reference: tx.Hash().Hex(), ExplorerLink: c.link(tx.Hash()), Error: err.Error()}
	}

	result := settlement.TransactionResult{
		Reference:    tx.Hash().Hex(),
		ExplorerLink: c.link(tx.Hash()),
		GasUsed:      fmt.Sprintf("%d", receipt.GasUsed),
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		result.Error = "transaction reverted"
		return result
	}
	result.Success = true
	log.Info("链上转账完成", "tx", result.Reference, "gas", result.GasUsed)
	return result
}

func (c *Client) buildTx(ctx context.Context, to common.Address, units *big.Int) (*coretypes.Transaction, error) {
	chainID, err := c.chain(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询小费失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("查询最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	}

	var (
		target = to
		value  = new(big.Int)
		data   []byte
		gas    = uint64(nativeTransferGas)
	)
	if c.token != nil {
		data, err = c.token20.Pack("transfer", to, units)
		if err != nil {
			return nil, fmt.Errorf("编码 transfer 调用失败: %w", err)
		}
		target = *c.token
		gas, err = c.backend.EstimateGas(ctx, gethcore.CallMsg{From: c.from, To: &target, Data: data})
		if err != nil {
			return nil, fmt.Errorf("估算 gas 失败: %w", err)
		}
	} else {
		value = units
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	return coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
}

func (c *Client) chain(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = id
	return id, nil
}

func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if c.afterSend != nil {
				c.afterSend()
			}
		}
	}
}

// Balance 返回原生币与代币余额。
func (c *Client) Balance(ctx context.Context) (settlement.Balance, error) {
	native, err := c.backend.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return settlement.Balance{}, fmt.Errorf("查询余额失败: %w", err)
	}
	bal := settlement.Balance{
		Address:  c.from.Hex(),
		Native:   decimal.NewFromBigInt(native, -nativeDecimals),
		Currency: c.symbol,
		Mode:     settlement.ModeEVM,
	}
	if c.token == nil {
		bal.Token = bal.Native
		return bal, nil
	}
	data, err := c.token20.Pack("balanceOf", c.from)
	if err != nil {
		return bal, err
	}
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: c.token, Data: data}, nil)
	if err != nil {
		return bal, fmt.Errorf("查询代币余额失败: %w", err)
	}
	values, err := c.token20.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return bal, fmt.Errorf("解析代币余额失败: %v", err)
	}
	if units, ok := values[0].(*big.Int); ok {
		bal.Token = decimal.NewFromBigInt(units, -c.decimals)
	}
	return bal, nil
}

func (c *Client) link(hash common.Hash) string {
	if c.explorer == "" {
		return ""
	}
	return c.explorer + "/tx/" + hash.Hex()
}

var (
	_ settlement.Oracle          = (*Client)(nil)
	_ settlement.BalanceReporter = (*Client)(nil)
)
