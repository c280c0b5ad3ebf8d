package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNotifyPostsPayload(t *testing.T) {
	got := make(chan notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notify" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var n notification
		if err := json.Unmarshal(body, &n); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- n
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTimeout(2*time.Second))
	c.Notify(context.Background(), "u1", "GameEnded", "g1", map[string]string{"winner": "red"})

	select {
	case n := <-got:
		if n.UserID != "u1" || n.Kind != "GameEnded" || n.Payload["winner"] != "red" {
			t.Fatalf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the notification")
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3), WithTimeout(2*time.Second))
	if err := c.doJSON(context.Background(), "/notify", notification{UserID: "u1"}); err != nil {
		t.Fatalf("doJSON after retries: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("hits = %d, want 3", n)
	}
}

func TestEmptyBaseURLDisablesClient(t *testing.T) {
	c := NewClient("  ")
	if c != nil {
		t.Fatal("blank base URL must return nil client")
	}
	// nil receiver is a safe no-op
	c.Notify(context.Background(), "u1", "GameEnded", "g1", nil)
}
