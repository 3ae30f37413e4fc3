package provider

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 configs/chains.yaml。
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述一条可用于结算的 EVM 链。
type ChainDefinition struct {
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	ExplorerURL   string `yaml:"explorer_url"`
	TokenAddress  string `yaml:"token_address"`
	TokenSymbol   string `yaml:"token_symbol"`
	TokenDecimals int    `yaml:"token_decimals"`
	Description   string `yaml:"description"`
}

// LoadChainDefinitions 解析链配置文件，路径为空时返回空集合。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions 解析 YAML 内容。
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		def.Type = strings.ToLower(strings.TrimSpace(def.Type))
		if def.Type == "" {
			def.Type = "evm"
		}
		defs.Chains[name] = def
	}
	return defs, nil
}
