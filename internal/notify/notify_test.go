package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []recovery.StatusChanged
}

func (r *recordingNotifier) SendStatusChange(_ context.Context, e recovery.StatusChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
	return nil
}

func change(from, to recovery.Status) recovery.StatusChanged {
	return recovery.StatusChanged{
		ProducerID:   1,
		ProducerName: "LO",
		Old:          from,
		New:          to,
		At:           time.Date(2025, 11, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestListener_NotifiesFailureAndRecovery(t *testing.T) {
	n := &recordingNotifier{}
	l := NewListener(n, zap.NewNop())

	l.OnStatusChanged(change(recovery.NotStarted, recovery.Started))
	l.OnStatusChanged(change(recovery.Started, recovery.Completed))
	if len(n.sent) != 0 {
		t.Fatalf("initial recovery should be quiet, sent %d", len(n.sent))
	}

	l.OnStatusChanged(change(recovery.Completed, recovery.Error))
	l.OnStatusChanged(change(recovery.Error, recovery.Started))
	l.OnStatusChanged(change(recovery.Started, recovery.Error))
	l.OnStatusChanged(change(recovery.Error, recovery.Started))
	l.OnStatusChanged(change(recovery.Started, recovery.Completed))

	if len(n.sent) != 2 {
		t.Fatalf("expected a failure and a recovery notification, got %d", len(n.sent))
	}
	if n.sent[0].New != recovery.Error || n.sent[1].New != recovery.Completed {
		t.Errorf("unexpected notifications: %+v", n.sent)
	}
}

func TestListener_FatalAlwaysNotified(t *testing.T) {
	n := &recordingNotifier{}
	l := NewListener(n, zap.NewNop())

	l.OnStatusChanged(change(recovery.Completed, recovery.Error))
	l.OnStatusChanged(change(recovery.Error, recovery.FatalError))

	if len(n.sent) != 2 || n.sent[1].New != recovery.FatalError {
		t.Errorf("expected the fatal error to be notified, got %+v", n.sent)
	}
}

func TestClient_SendStatusChange(t *testing.T) {
	var (
		gotTitle, gotPriority, gotAuth, gotBody, gotPath string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := &Config{Enabled: true, Server: server.URL + "/", Topic: "oddsfeed", Priority: "default", Tags: "satellite", Token: "tk"}
	client := NewClient(cfg, zap.NewNop())

	requestID := int64(42)
	e := change(recovery.Error, recovery.FatalError)
	e.RequestID = &requestID

	if err := client.SendStatusChange(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/oddsfeed" {
		t.Errorf("expected path /oddsfeed, got %s", gotPath)
	}
	if gotTitle != "Producer LO cannot recover" {
		t.Errorf("unexpected title %q", gotTitle)
	}
	if gotPriority != "urgent" {
		t.Errorf("expected urgent priority, got %q", gotPriority)
	}
	if gotAuth != "Bearer tk" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if !strings.Contains(gotBody, "Request: 42") || !strings.Contains(gotBody, "error -> fatal_error") {
		t.Errorf("unexpected body %q", gotBody)
	}
}

func TestClient_SendStatusChangeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	cfg := &Config{Enabled: true, Server: server.URL, Topic: "oddsfeed", Priority: "default"}
	client := NewClient(cfg, zap.NewNop())

	if err := client.SendStatusChange(context.Background(), change(recovery.Completed, recovery.Error)); err == nil {
		t.Error("expected an error for a rejected notification")
	}
}

func TestNew_DisabledIsNoop(t *testing.T) {
	n := New(&Config{Enabled: false}, zap.NewNop())
	if _, ok := n.(*NoopNotifier); !ok {
		t.Errorf("expected NoopNotifier, got %T", n)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (&Config{Enabled: true, Priority: "default"}).Validate(); err == nil {
		t.Error("expected error without topic")
	}
	if err := (&Config{Enabled: true, Topic: "t", Priority: "loud"}).Validate(); err == nil {
		t.Error("expected error for invalid priority")
	}
	if err := (&Config{Enabled: true, Topic: "t", Priority: "high"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
