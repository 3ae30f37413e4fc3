package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/paywall"
)

const (
	insertEventSQL   = `INSERT INTO agent_events (id, agent, event_type, occurred_at, subject, thought, error_message, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	insertReceiptSQL = `INSERT INTO paywall_receipts (resource_id, reference, amount_due, paid_at) VALUES (?, ?, ?, ?)`
)

// Archive 是只追加的审计归档。
type Archive struct {
	db *sql.DB
}

// Open 连接 MySQL 并执行迁移。
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &Archive{db: db}
	if err := a.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewArchive 基于已有连接创建归档，不执行迁移。
func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// AppendEvent 写入一条审计事件。
func (a *Archive) AppendEvent(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("序列化事件内容失败: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, insertEventSQL,
		evt.ID,
		string(evt.Agent),
		string(evt.Type),
		evt.Timestamp.UTC(),
		evt.Payload.Subject,
		evt.Payload.Thought,
		evt.Payload.Error,
		string(payload),
	); err != nil {
		return fmt.Errorf("写入事件 %s 失败: %w", evt.ID, err)
	}
	return nil
}

// AppendReceipt 写入一张付费收据。
func (a *Archive) AppendReceipt(ctx context.Context, resourceID string, receipt paywall.PaymentReceipt) error {
	paidAt := receipt.Timestamp
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	if _, err := a.db.ExecContext(ctx, insertReceiptSQL,
		resourceID,
		receipt.Reference,
		receipt.AmountDue.String(),
		paidAt.UTC(),
	); err != nil {
		return fmt.Errorf("写入收据失败: %w", err)
	}
	return nil
}

// Close 关闭连接。
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
