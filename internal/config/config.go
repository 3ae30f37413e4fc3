package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/pkg/logger"
)

// Config 是 aspecd 启动时加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Log        logger.Config    `json:"log"`
	Oracle     OracleConfig     `json:"oracle"`
	Settlement SettlementConfig `json:"settlement"`
	Paywall    PaywallConfig    `json:"paywall"`
	Agents     AgentsConfig     `json:"agents"`
	Catalog    CatalogConfig    `json:"catalog"`
	Events     EventsConfig     `json:"events"`
	TaskQueue  TaskQueueConfig  `json:"task_queue"`
	Alerting   AlertingConfig   `json:"alerting"`
}

// ServerConfig 控制 HTTP 服务。
type ServerConfig struct {
	Address         string `json:"address"`
	ShutdownSeconds int    `json:"shutdown_seconds"`
}

// OracleConfig 选择决策提供方。provider 取值 static、openai、gemini。
type OracleConfig struct {
	Provider       string  `json:"provider"`
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	RatePerSecond  float64 `json:"rate_per_second"`
	Burst          int     `json:"burst"`
}

// ResolveAPIKey 优先使用显式配置的密钥，否则读取环境变量。
func (o OracleConfig) ResolveAPIKey() string {
	if o.APIKey != "" {
		return o.APIKey
	}
	if o.APIKeyEnv != "" {
		return os.Getenv(o.APIKeyEnv)
	}
	return ""
}

// SettlementConfig 显式选择结算策略：mock 或 evm。
type SettlementConfig struct {
	Mode          string          `json:"mode"`
	ChainConfig   string          `json:"chain_config"`
	Chain         string          `json:"chain"`
	PrivateKeyEnv string          `json:"private_key_env"`
	MockBalance   decimal.Decimal `json:"mock_balance"`
	MockDelayMs   int             `json:"mock_delay_ms"`
	ExplorerURL   string          `json:"explorer_url"`
}

// PaywallConfig 控制付费资源协议。
type PaywallConfig struct {
	PricingFile   string          `json:"pricing_file"`
	AutoPayLimit  decimal.Decimal `json:"auto_pay_limit"`
	ReceiptPolicy string          `json:"receipt_policy"`
}

// GuardrailConfig 是单个 Agent 的额度。
type GuardrailConfig struct {
	DailyLimit        decimal.Decimal `json:"daily_limit"`
	MaxPerTransaction decimal.Decimal `json:"max_per_transaction"`
}

// AgentsConfig 汇总两类 Agent 的参数。
type AgentsConfig struct {
	Procurement   GuardrailConfig `json:"procurement"`
	Marketing     GuardrailConfig `json:"marketing"`
	EventCapacity int             `json:"event_capacity"`
}

// CatalogConfig 指向种子数据文件，空值使用内置数据。
type CatalogConfig struct {
	SeedFile string `json:"seed_file"`
}

// EventsConfig 控制审计事件的导出通道。
type EventsConfig struct {
	Audit      bool           `json:"audit"`
	BufferSize int            `json:"buffer_size"`
	Redis      RedisConfig    `json:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
	MySQL      MySQLConfig    `json:"mysql"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Queue    string `json:"queue"`
}

// MySQLConfig 描述事件归档库。
type MySQLConfig struct {
	Enabled         bool   `json:"enabled"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// TaskQueueConfig 控制异步任务队列。driver 取值 memory、redis、rabbitmq。
type TaskQueueConfig struct {
	Driver     string         `json:"driver"`
	Workers    int            `json:"workers"`
	Buffer     int            `json:"buffer"`
	MaxRetries int            `json:"max_retries"`
	Redis      RedisConfig    `json:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
}

// AlertingConfig 配置告警出口，webhook 为空时只写日志。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// Load 解析 JSON 配置文件并补全默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownSeconds <= 0 {
		c.Server.ShutdownSeconds = 5
	}

	c.Oracle.Provider = strings.ToLower(strings.TrimSpace(c.Oracle.Provider))
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "static"
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = 60
	}
	if c.Oracle.Burst <= 0 {
		c.Oracle.Burst = 1
	}

	c.Settlement.Mode = strings.ToLower(strings.TrimSpace(c.Settlement.Mode))
	if c.Settlement.Mode == "" {
		c.Settlement.Mode = "mock"
	}
	if c.Settlement.MockBalance.IsZero() {
		c.Settlement.MockBalance = decimal.NewFromInt(10000)
	}
	if c.Settlement.PrivateKeyEnv == "" {
		c.Settlement.PrivateKeyEnv = "ASPEC_PRIVATE_KEY"
	}
	c.Settlement.ChainConfig = resolve(baseDir, c.Settlement.ChainConfig)

	if c.Paywall.AutoPayLimit.IsZero() {
		c.Paywall.AutoPayLimit = decimal.NewFromInt(10)
	}
	if c.Paywall.ReceiptPolicy == "" {
		c.Paywall.ReceiptPolicy = "pay_per_access"
	}
	c.Paywall.PricingFile = resolve(baseDir, c.Paywall.PricingFile)

	if c.Agents.Procurement.DailyLimit.IsZero() {
		c.Agents.Procurement.DailyLimit = decimal.NewFromInt(2000)
	}
	if c.Agents.Procurement.MaxPerTransaction.IsZero() {
		c.Agents.Procurement.MaxPerTransaction = decimal.NewFromInt(500)
	}
	if c.Agents.Marketing.DailyLimit.IsZero() {
		c.Agents.Marketing.DailyLimit = decimal.NewFromInt(500)
	}
	if c.Agents.Marketing.MaxPerTransaction.IsZero() {
		c.Agents.Marketing.MaxPerTransaction = decimal.NewFromInt(100)
	}
	if c.Agents.EventCapacity <= 0 {
		c.Agents.EventCapacity = 1000
	}
	c.Catalog.SeedFile = resolve(baseDir, c.Catalog.SeedFile)

	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}
	if c.Events.Redis.Key == "" {
		c.Events.Redis.Key = "aspec:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "aspec.events"
	}

	c.TaskQueue.Driver = strings.ToLower(strings.TrimSpace(c.TaskQueue.Driver))
	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 2
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 64
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}
	if c.TaskQueue.Redis.Key == "" {
		c.TaskQueue.Redis.Key = "aspec:jobs"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "aspec.jobs"
	}
}

// Validate 检查枚举取值，尽早暴露拼写错误。
func (c *Config) Validate() error {
	switch c.Oracle.Provider {
	case "static", "openai", "gemini":
	default:
		return fmt.Errorf("不支持的决策提供方: %s", c.Oracle.Provider)
	}
	switch c.Settlement.Mode {
	case "mock", "evm":
	default:
		return fmt.Errorf("不支持的结算模式: %s", c.Settlement.Mode)
	}
	switch c.Paywall.ReceiptPolicy {
	case "pay_per_access", "reuse_valid_receipt":
	default:
		return fmt.Errorf("不支持的收据策略: %s", c.Paywall.ReceiptPolicy)
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("不支持的任务队列: %s", c.TaskQueue.Driver)
	}
	if c.Paywall.AutoPayLimit.IsNegative() {
		return errors.New("auto_pay_limit 不能为负数")
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
