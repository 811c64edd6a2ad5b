package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type capturedRequest struct {
	method      string
	contentType string
	body        webhookPayload
}

func TestWebhookPostsValue1(t *testing.T) {
	got := make(chan capturedRequest, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c capturedRequest
		c.method = r.Method
		c.contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&c.body)
		got <- c
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	w, err := NewWebhook(ts.URL+"/trigger/motion/with/key/secret", time.Second)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := w.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	req := <-got
	if req.method != http.MethodPost {
		t.Errorf("method: got %q, want POST", req.method)
	}
	if req.contentType != "application/json" {
		t.Errorf("content type: got %q", req.contentType)
	}
	if req.body.Value1 != "hello" {
		t.Errorf("value1: got %q, want %q", req.body.Value1, "hello")
	}
}

func TestWebhookNon2xxIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	w, _ := NewWebhook(ts.URL, time.Second)
	err := w.Send(context.Background(), "x")
	if !errors.Is(err, ErrSend) {
		t.Fatalf("expected ErrSend, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestWebhookRespectsContext(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	w, _ := NewWebhook(ts.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := w.Send(ctx, "x")
	if !errors.Is(err, ErrSend) {
		t.Fatalf("expected ErrSend, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestWebhookErrorHidesURL(t *testing.T) {
	w, err := NewWebhook("http://127.0.0.1:1/trigger/key/supersecret", time.Second)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	err = w.Send(context.Background(), "x")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if strings.Contains(err.Error(), "supersecret") {
		t.Errorf("error leaks url: %v", err)
	}
}

func TestNewWebhookRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/x", "http://", "://bad"} {
		if _, err := NewWebhook(raw, time.Second); err == nil {
			t.Errorf("NewWebhook(%q): expected error", raw)
		}
	}
}

func TestMultiSendsToAll(t *testing.T) {
	a, b := &FakeSink{}, &FakeSink{}
	m := NewMulti(a, nil, b)
	if m.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", m.Len())
	}

	if err := m.Send(context.Background(), "ping"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for i, s := range []*FakeSink{a, b} {
		if got := s.Messages(); len(got) != 1 || got[0] != "ping" {
			t.Errorf("sink %d: got %v", i, got)
		}
	}
}

func TestMultiContinuesAfterFailure(t *testing.T) {
	failing := &FakeSink{SendError: errors.New("down")}
	ok := &FakeSink{}
	m := NewMulti(failing, ok)

	err := m.Send(context.Background(), "ping")
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(ok.Messages()) != 1 {
		t.Error("second sink should still receive the message")
	}
}

func TestMultiEmpty(t *testing.T) {
	if err := NewMulti().Send(context.Background(), "x"); err != nil {
		t.Errorf("empty Multi: %v", err)
	}
}
