package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	webhookCapacity = 50
	webhookListSize = 20
)

// Webhook 是收到的一条结算回调。
type Webhook struct {
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// WebhookInbox 按到达顺序保存最近的回调，超出容量时丢弃最旧的一条。
type WebhookInbox struct {
	mu       sync.Mutex
	items    []Webhook
	capacity int
	now      func() time.Time
}

// NewWebhookInbox 创建回调收件箱。
func NewWebhookInbox(capacity int) *WebhookInbox {
	if capacity <= 0 {
		capacity = webhookCapacity
	}
	return &WebhookInbox{capacity: capacity, now: time.Now}
}

// Add 记录一条回调。
func (b *WebhookInbox) Add(payload json.RawMessage) Webhook {
	b.mu.Lock()
	defer b.mu.Unlock()
	item := Webhook{Payload: payload, ReceivedAt: b.now().UTC()}
	b.items = append(b.items, item)
	if over := len(b.items) - b.capacity; over > 0 {
		b.items = append(b.items[:0:0], b.items[over:]...)
	}
	return item
}

// Recent 返回最近 n 条回调，旧的在前。
func (b *WebhookInbox) Recent(n int) []Webhook {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.items) {
		n = len(b.items)
	}
	out := make([]Webhook, n)
	copy(out, b.items[len(b.items)-n:])
	return out
}

// Len 返回当前保存的回调数量。
func (b *WebhookInbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

type webhookListResponse struct {
	Webhooks []Webhook `json:"webhooks"`
	Count    int       `json:"count"`
}

func (s *Server) handleWebhookPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "读取请求体失败")
		return
	}
	if !json.Valid(body) {
		badRequest(w, "Invalid webhook payload")
		return
	}
	item := s.webhooks.Add(json.RawMessage(body))
	s.log.Info("收到结算回调", slog.Time("received_at", item.ReceivedAt), slog.Int("bytes", len(body)))
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Webhook processed"})
}

func (s *Server) handleWebhookList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, webhookListResponse{
		Webhooks: s.webhooks.Recent(webhookListSize),
		Count:    s.webhooks.Len(),
	})
}
