package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/decision"
	"ASpec-Commerce/internal/paywall"
	"ASpec-Commerce/internal/settlement"
)

// Type 是事件类型，取值因 Agent 而异。
type Type string

// 采购 Agent 的事件类型。
const (
	TypeAnalysis  Type = "analysis"
	TypeDecision  Type = "decision"
	TypeExecution Type = "execution"
)

// 营销 Agent 的事件类型。
const (
	TypeDiscovery  Type = "discovery"
	TypeEvaluation Type = "evaluation"
	TypePayment    Type = "payment"
	TypeCampaign   Type = "campaign"
)

// TypeError 两类 Agent 共用。
const TypeError Type = "error"

// Payload 是稀疏的事件内容，只填充与当前步骤相关的字段。
type Payload struct {
	Subject     string                        `json:"subject,omitempty"`
	Platform    string                        `json:"platform,omitempty"`
	Product     string                        `json:"product,omitempty"`
	Price       *decimal.Decimal              `json:"price,omitempty"`
	Amount      *decimal.Decimal              `json:"amount,omitempty"`
	Decision    *decision.Decision            `json:"decision,omitempty"`
	Transaction *settlement.TransactionResult `json:"transaction,omitempty"`
	Resource    *paywall.Response             `json:"resource,omitempty"`
	Thought     string                        `json:"thought,omitempty"`
	Error       string                        `json:"error,omitempty"`
}

// Event 是不可变的审计记录。
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Agent     decision.Kind `json:"agent"`
	Type      Type          `json:"type"`
	Payload   Payload       `json:"payload"`
}

// New 生成带唯一 ID 与当前时间戳的事件。
func New(agent decision.Kind, typ Type, payload Payload) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Type:      typ,
		Payload:   payload,
	}
}

// Observer 接收每条新事件。
type Observer func(Event)
