package wsagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/llmgatewaycore/gateway/internal/convert"
)

func TestBuildEnvelopeIncludesModelAndMessages(t *testing.T) {
	req := convert.Request{
		System: "be helpful",
		Messages: []convert.Message{
			{Role: convert.RoleUser, Content: []convert.Content{{Kind: convert.BlockText, Text: "hi"}}},
		},
	}
	env := buildEnvelope("gpt-5", req)

	if env["type"] != "http_request" {
		t.Errorf("type = %v", env["type"])
	}
	if env["model"] != "gpt-5" {
		t.Errorf("model = %v", env["model"])
	}
	if env["system"] != "be helpful" {
		t.Errorf("system = %v", env["system"])
	}
	if env["id"] == "" || env["id"] == nil {
		t.Error("expected a non-empty generated request id")
	}
	payload, ok := env["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", env["payload"])
	}
	messages, ok := payload["messages"].([]map[string]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("payload messages = %v", payload["messages"])
	}
}

func TestCanonicalRequestToEnvelopePreservesBlockFields(t *testing.T) {
	req := convert.Request{
		Messages: []convert.Message{
			{Role: convert.RoleAssistant, Content: []convert.Content{
				{Kind: convert.BlockToolUse, ToolName: "bash", ToolUseID: "t1", InputJSON: `{"command":"ls"}`},
			}},
		},
	}
	out := canonicalRequestToEnvelope(req)
	messages := out["messages"].([]map[string]any)
	blocks := messages[0]["content"].([]map[string]any)
	if blocks[0]["tool_name"] != "bash" || blocks[0]["tool_use_id"] != "t1" {
		t.Errorf("block = %+v", blocks[0])
	}
}

// dialToFakeUpstream connects a *clientSession to a test WebSocket server
// that immediately sends the "connected" handshake, mirroring what
// handleFSOperation needs to exercise sess.send over a live connection.
func dialToFakeUpstream(t *testing.T, onServerConn func(conn *websocket.Conn)) (*clientSession, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(connectMessage))
		if onServerConn != nil {
			onServerConn(conn)
		}
	}))
	cfg := Config{BaseURL: srv.URL, ConnectTimeout: 2 * time.Second}
	sess, err := dialSession(context.Background(), cfg, Credential{})
	if err != nil {
		srv.Close()
		t.Fatalf("dialSession: %v", err)
	}
	return sess, srv.Close
}

func TestHandleFSOperationEditAcksWithoutExecuting(t *testing.T) {
	serverReceived := make(chan []byte, 1)
	sess, closeSrv := dialToFakeUpstream(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			serverReceived <- data
		}
	})
	defer closeSrv()
	defer sess.close()

	a := &Adapter{cfg: Config{}, tools: newToolExecutor(Config{})}
	a.handleFSOperation(context.Background(), sess, []byte(`{"type":"fs_operation","id":"op1","op":"edit"}`))

	select {
	case data := <-serverReceived:
		resp := string(data)
		if !strings.Contains(resp, `"success":true`) || !strings.Contains(resp, `"id":"op1"`) {
			t.Errorf("fs_operation_response = %s", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fs_operation_response")
	}
}

func TestHandleFSOperationExecutesNonEditOps(t *testing.T) {
	serverReceived := make(chan []byte, 1)
	sess, closeSrv := dialToFakeUpstream(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			serverReceived <- data
		}
	})
	defer closeSrv()
	defer sess.close()

	dir := t.TempDir()
	a := &Adapter{cfg: Config{WorkingDir: dir}, tools: newToolExecutor(Config{WorkingDir: dir})}
	a.handleFSOperation(context.Background(), sess, []byte(`{"type":"fs_operation","id":"op2","op":"write","args":{"path":"a.txt","content":"hi"}}`))

	select {
	case data := <-serverReceived:
		if !strings.Contains(string(data), `"success":true`) {
			t.Errorf("fs_operation_response = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fs_operation_response")
	}
}

func TestAdapterIdentifier(t *testing.T) {
	a := NewAdapter(DefaultConfig())
	if a.Identifier() != "coding_agent" {
		t.Errorf("Identifier() = %q, want coding_agent", a.Identifier())
	}
}

func TestGenerateContentStreamFailsWhenSessionRefreshFails(t *testing.T) {
	a := NewAdapter(Config{CredentialFile: "/nonexistent/path/cred.json"})
	_, err := a.GenerateContentStream(context.Background(), "m", convert.Request{}, nil)
	if err == nil {
		t.Fatal("expected an error when session refresh cannot read the credential file")
	}
}
