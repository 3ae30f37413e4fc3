package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。Source 为 Agent 类型或 "task"。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Source     string            `json:"source"`
	Subject    string            `json:"subject,omitempty"`
	TaskID     string            `json:"taskId,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	MaxRetries int               `json:"maxRetries,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// FromError 依据错误码的注册属性生成告警事件。
func FromError(source string, err error) Event {
	code := xerrors.CodeOf(err)
	return Event{
		Code:       code,
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		Source:     source,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 把事件投递到全部已注册的通知器，同一渠道只保留最后一个。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道，按名称排序。
func (d *FanoutDispatcher) Channels() []Channel {
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 将事件广播至所有注册渠道，单个渠道失败不影响其余渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写一条告警日志，严重级别为 critical 时使用 Error。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	log := n.Logger
	if log == nil {
		log = logger.Audit()
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("source", event.Source),
		slog.String("message", event.Message),
	}
	if event.Subject != "" {
		attrs = append(attrs, slog.String("subject", event.Subject))
	}
	if event.TaskID != "" {
		attrs = append(attrs, slog.String("task_id", event.TaskID),
			slog.Int("attempts", event.Attempts), slog.Int("max_retries", event.MaxRetries))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+k, v))
	}
	if event.Severity == xerrors.SeverityCritical {
		log.Error("alert", attrs...)
	} else {
		log.Warn("alert", attrs...)
	}
	return nil
}

// WebhookNotifier 以 JSON 形式 POST 告警事件。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送告警，非 2xx 响应视为失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未配置地址，跳过发送", slog.String("code", string(event.Code)))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("告警接收方返回状态码 %d", resp.StatusCode)
	}
	return nil
}
