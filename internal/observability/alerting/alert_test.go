package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "ASpec-Commerce/internal/errors"
)

type failingNotifier struct{ calls int }

func (f *failingNotifier) Channel() Channel { return "broken" }

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("offline")
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	var buf bytes.Buffer
	logN := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	broken := &failingNotifier{}
	d := NewFanout(logN, broken, nil)

	err := d.Notify(context.Background(), FromError("procurement", xerrors.New(xerrors.CodeUnexpectedFault, "pipeline panicked")))
	if err == nil || !strings.Contains(err.Error(), "channel broken") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
	if broken.calls != 1 {
		t.Fatalf("expected broken notifier to be called once, got %d", broken.calls)
	}
	if !strings.Contains(buf.String(), `"code":"UNEXPECTED_FAULT"`) || !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
	if got := d.Channels(); len(got) != 2 || got[0] != "broken" || got[1] != ChannelLog {
		t.Fatalf("unexpected channels %v", got)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	event := Event{Code: xerrors.CodeSettlementFailure, Message: "rpc down", Source: "task", TaskID: "job-1", Attempts: 3, MaxRetries: 3}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Code != xerrors.CodeSettlementFailure || got.TaskID != "job-1" || got.Attempts != 3 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifierRejectsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); err == nil {
		t.Fatal("expected non-2xx status to fail")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured webhook should be skipped, got %v", err)
	}
}
