package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsPerTenant(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := uint(1)
		if r.URL.Query().Get("org") == "2" {
			org = 2
		}
		hub.Serve(w, r, org)
	}))
	defer srv.Close()

	dial := func(org string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?org=" + org
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		return conn
	}
	a, b := dial("1"), dial("2")
	defer b.Close()
	waitFor(t, func() bool { return hub.Connections(1) == 1 && hub.Connections(2) == 1 })

	hub.Publish(1, map[string]string{"type": "stamp_request.created"})

	_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := a.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"type":"stamp_request.created"}` {
		t.Fatalf("message = %s", msg)
	}

	_ = b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Fatal("other tenant received the event")
	}

	a.Close()
	waitFor(t, func() bool { return hub.Connections(1) == 0 })
	hub.Publish(1, "nobody listening")
}

func TestPublishUnmarshalable(t *testing.T) {
	// 不能序列化的事件直接丢弃
	NewHub().Publish(1, func() {})
}
