package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/config"
	"ASpec-Commerce/internal/settlement"
	"ASpec-Commerce/internal/settlement/ethereum"
)

const chainsYAML = `
default: arc
chains:
  arc:
    rpc_url: https://rpc.example
    explorer_url: https://explorer.example
    token_address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
    token_decimals: 6
  other:
    type: solana
    rpc_url: https://solana.example
`

func TestParseChainDefinitionsDefaultsType(t *testing.T) {
	defs, err := ParseChainDefinitions([]byte(chainsYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if defs.Chains["arc"].Type != "evm" {
		t.Fatalf("expected evm default type, got %q", defs.Chains["arc"].Type)
	}
	name, def, err := pick(defs, "")
	if err != nil || name != "arc" || def.TokenDecimals != 6 {
		t.Fatalf("unexpected pick result %s %+v %v", name, def, err)
	}
	if _, _, err := pick(defs, "missing"); err == nil {
		t.Fatal("expected missing chain to fail")
	}
}

func TestBuildMockStrategy(t *testing.T) {
	strategy, err := Build(context.Background(), config.SettlementConfig{Mode: "mock", MockBalance: decimal.NewFromInt(42)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer strategy.Close()

	bal, err := strategy.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Mode != settlement.ModeMock || !bal.Token.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("unexpected balance %+v", bal)
	}
}

func TestBuildEVMRequiresPrivateKey(t *testing.T) {
	path := t.TempDir() + "/chains.yaml"
	writeFile(t, path, chainsYAML)

	called := false
	dial := func(context.Context, ethereum.Config) (*ethereum.Client, error) {
		called = true
		return nil, errors.New("unreachable")
	}
	_, err := build(context.Background(), config.SettlementConfig{
		Mode:          "evm",
		ChainConfig:   path,
		PrivateKeyEnv: "ASPEC_TEST_MISSING_KEY",
	}, dial)
	if err == nil {
		t.Fatal("expected missing private key to fail")
	}
	if called {
		t.Fatal("dialer must not run without a key")
	}
}

func TestBuildEVMPassesChainDefinition(t *testing.T) {
	path := t.TempDir() + "/chains.yaml"
	writeFile(t, path, chainsYAML)
	t.Setenv("ASPEC_TEST_KEY", "deadbeef")

	var got ethereum.Config
	dial := func(_ context.Context, cfg ethereum.Config) (*ethereum.Client, error) {
		got = cfg
		return nil, errors.New("stop here")
	}
	_, err := build(context.Background(), config.SettlementConfig{
		Mode:          "evm",
		ChainConfig:   path,
		PrivateKeyEnv: "ASPEC_TEST_KEY",
	}, dial)
	if err == nil {
		t.Fatal("expected dial error to propagate")
	}
	if got.RPCURL != "https://rpc.example" || got.TokenDecimals != 6 || got.PrivateKey != "deadbeef" {
		t.Fatalf("unexpected dial config %+v", got)
	}

	if _, err := build(context.Background(), config.SettlementConfig{
		Mode: "evm", ChainConfig: path, Chain: "other", PrivateKeyEnv: "ASPEC_TEST_KEY",
	}, dial); err == nil {
		t.Fatal("expected unsupported chain type to fail")
	}
}
