package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/timecapsule/internal/server/models"
)

func TestWebhookSend_Success(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("want POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("want application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode error: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL)
	err := d.Send(context.Background(),
		models.Recipient{Kind: models.RecipientUser, Target: "u42"},
		Content{Kind: models.ContentText, Data: []byte("hello")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RecipientKind != models.RecipientUser || got.RecipientTarget != "u42" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if string(got.Content) != "hello" {
		t.Fatalf("unexpected content: %q", got.Content)
	}
}

func TestWebhookSend_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL)
	err := d.Send(context.Background(), models.Recipient{Kind: models.RecipientSelf, Target: "a1"},
		Content{Kind: models.ContentText, Data: []byte("x")})
	if err == nil || IsTerminal(err) {
		t.Fatalf("want retryable error, got %v", err)
	}
}

func TestWebhookSend_TooManyRequestsIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL)
	err := d.Send(context.Background(), models.Recipient{Kind: models.RecipientSelf, Target: "a1"},
		Content{Kind: models.ContentText, Data: []byte("x")})
	if err == nil || IsTerminal(err) {
		t.Fatalf("want retryable error, got %v", err)
	}
}

func TestWebhookSend_ClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL)
	err := d.Send(context.Background(), models.Recipient{Kind: models.RecipientGroup, Target: "g1"},
		Content{Kind: models.ContentText, Data: []byte("x")})
	if !IsTerminal(err) {
		t.Fatalf("want terminal error, got %v", err)
	}
}

func TestWebhookSend_ConnectionRefusedIsRetryable(t *testing.T) {
	d := NewWebhookDispatcher("http://127.0.0.1:1")
	err := d.Send(context.Background(), models.Recipient{Kind: models.RecipientSelf, Target: "a1"},
		Content{Kind: models.ContentText, Data: []byte("x")})
	if err == nil || IsTerminal(err) {
		t.Fatalf("want retryable error, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	if Terminal(nil) != nil || Retryable(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if !IsTerminal(Terminal(context.Canceled)) {
		t.Fatalf("Terminal not detected")
	}
	if IsTerminal(Retryable(context.Canceled)) {
		t.Fatalf("Retryable misclassified as terminal")
	}
	if IsTerminal(context.DeadlineExceeded) {
		t.Fatalf("unclassified errors must not be terminal")
	}
}
