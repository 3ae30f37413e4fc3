package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/guardrail"
)

func procurementContext() decision.Context {
	supplier := catalog.Default().Suppliers[0]
	return decision.Context{
		Kind:     decision.KindProcurement,
		Supplier: &supplier,
		Guardrail: guardrail.Snapshot{
			DailyLimit:        decimal.NewFromInt(2000),
			MaxPerTransaction: decimal.NewFromInt(500),
		},
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestDecideSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": "```json\n{\"action\":\"EXECUTE\",\"reasoning\":\"22% below target\",\"confidence\":85,\"parameters\":{\"amount\":250,\"urgency\":\"high\"}}\n```",
				},
			}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	d, err := client.Decide(context.Background(), procurementContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	amount, ok := d.Amount(decision.ParamAmount)
	if d.Action != decision.ActionExecute || d.Confidence != 85 || !ok || !amount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", captured.Body["messages"])
	}
	user := messages[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "GlobalTextiles Co") || !strings.Contains(user, "Daily Spent: $0 / $2000") {
		t.Fatalf("user prompt missing subject or budget: %s", user)
	}
}

func TestDecideHTTPErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Decide(context.Background(), procurementContext())
	if xerrors.CodeOf(err) != xerrors.CodeOracleUnavailable {
		t.Fatalf("expected ORACLE_UNAVAILABLE, got %v", err)
	}
}

func TestDecideMalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "I think you should buy."}}},
		})
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	_, err := client.Decide(context.Background(), procurementContext())
	if xerrors.CodeOf(err) != xerrors.CodeOracleMalformed {
		t.Fatalf("expected ORACLE_MALFORMED, got %v", err)
	}
}
