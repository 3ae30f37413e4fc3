package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"ASpec-Commerce/internal/config"
	"ASpec-Commerce/internal/settlement"
	"ASpec-Commerce/internal/settlement/ethereum"
)

// Strategy 是构造完成的结算策略，附带释放资源的方法。
type Strategy struct {
	Mode   string
	Chain  string
	Oracle settlement.Oracle
	close  func()
}

// Close 释放底层连接。
func (s *Strategy) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// Balance 在策略支持时返回钱包余额。
func (s *Strategy) Balance(ctx context.Context) (settlement.Balance, error) {
	if reporter, ok := s.Oracle.(settlement.BalanceReporter); ok {
		return reporter.Balance(ctx)
	}
	return settlement.Balance{Mode: s.Mode}, nil
}

// dialer 便于测试替换 EVM 客户端的创建过程。
type dialer func(ctx context.Context, cfg ethereum.Config) (*ethereum.Client, error)

func dialEVM(ctx context.Context, cfg ethereum.Config) (*ethereum.Client, error) {
	return ethereum.NewClient(ctx, cfg)
}

// Build 按 settlement.mode 构造结算策略。
func Build(ctx context.Context, cfg config.SettlementConfig) (*Strategy, error) {
	return build(ctx, cfg, dialEVM)
}

func build(ctx context.Context, cfg config.SettlementConfig, dial dialer) (*Strategy, error) {
	switch cfg.Mode {
	case settlement.ModeMock, "":
		opts := []settlement.MockOption{
			settlement.WithBalance(cfg.MockBalance),
			settlement.WithDelay(time.Duration(cfg.MockDelayMs) * time.Millisecond),
			settlement.WithExplorer(cfg.ExplorerURL),
		}
		return &Strategy{Mode: settlement.ModeMock, Oracle: settlement.NewMock(opts...)}, nil
	case settlement.ModeEVM:
	default:
		return nil, fmt.Errorf("不支持的结算模式: %s", cfg.Mode)
	}

	defs, err := LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	name, def, err := pick(defs, cfg.Chain)
	if err != nil {
		return nil, err
	}
	if def.Type != "evm" {
		return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
	}
	key := os.Getenv(cfg.PrivateKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("evm 结算模式需要在环境变量 %s 中提供私钥", cfg.PrivateKeyEnv)
	}
	explorer := def.ExplorerURL
	if cfg.ExplorerURL != "" {
		explorer = cfg.ExplorerURL
	}

	client, err := dial(ctx, ethereum.Config{
		Name:          name,
		RPCURL:        def.RPCURL,
		PrivateKey:    key,
		TokenAddress:  def.TokenAddress,
		TokenSymbol:   def.TokenSymbol,
		TokenDecimals: def.TokenDecimals,
		ExplorerURL:   explorer,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
	}
	return &Strategy{Mode: settlement.ModeEVM, Chain: name, Oracle: client, close: client.Close}, nil
}

func pick(defs ChainDefinitions, requested string) (string, ChainDefinition, error) {
	if len(defs.Chains) == 0 {
		return "", ChainDefinition{}, errors.New("未配置任何链")
	}
	name := requested
	if name == "" {
		name = defs.Default
	}
	if name == "" {
		names := make([]string, 0, len(defs.Chains))
		for n := range defs.Chains {
			names = append(names, n)
		}
		sort.Strings(names)
		name = names[0]
	}
	def, ok := defs.Chains[name]
	if !ok {
		return "", ChainDefinition{}, fmt.Errorf("链 %s 未在配置中找到", name)
	}
	return name, def, nil
}
