package wsagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newEchoWSServer(t *testing.T, onConnect func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if onConnect != nil {
			onConnect(conn)
		}
	}))
	return srv
}

func TestDialSessionHandshakeAndReadLoop(t *testing.T) {
	srv := newEchoWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(connectMessage))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`))
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	cfg := Config{BaseURL: srv.URL, ConnectTimeout: 2 * time.Second, IdleTimeout: time.Second}
	sess, err := dialSession(context.Background(), cfg, Credential{WSToken: "tok"})
	if err != nil {
		t.Fatalf("dialSession: %v", err)
	}
	defer sess.close()

	select {
	case msg := <-sess.incoming:
		if jsonType(msg) != "hello" {
			t.Errorf("first incoming message type = %q, want hello", jsonType(msg))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the post-handshake message")
	}
}

func TestDialSessionRejectsNonConnectedFirstMessage(t *testing.T) {
	srv := newEchoWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"not_connected"}`))
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	cfg := Config{BaseURL: srv.URL, ConnectTimeout: 2 * time.Second}
	if _, err := dialSession(context.Background(), cfg, Credential{}); err == nil {
		t.Fatal("expected an error when the handshake message is not 'connected'")
	}
}

func TestClientSessionSendAndClose(t *testing.T) {
	received := make(chan string, 1)
	srv := newEchoWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(connectMessage))
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	})
	defer srv.Close()

	cfg := Config{BaseURL: srv.URL, ConnectTimeout: 2 * time.Second}
	sess, err := dialSession(context.Background(), cfg, Credential{})
	if err != nil {
		t.Fatalf("dialSession: %v", err)
	}

	if err := sess.send(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-received:
		if !strings.Contains(got, `"type":"ping"`) {
			t.Errorf("server received = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive the sent message")
	}

	sess.close()
	sess.close() // must be idempotent
}

func TestJSONType(t *testing.T) {
	if got := jsonType([]byte(`{"type":"foo"}`)); got != "foo" {
		t.Errorf("jsonType = %q, want foo", got)
	}
	if got := jsonType([]byte(`not json`)); got != "" {
		t.Errorf("jsonType(invalid) = %q, want empty", got)
	}
}
