package wsagent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	connectMessage = `{"type":"connected"}`
)

// clientSession owns one request-scoped WebSocket connection: dial, the
// "connected" handshake, a reader goroutine feeding a bounded channel, and
// the idle timeout that terminates a stalled stream (§4.10, §5).
type clientSession struct {
	conn       *websocket.Conn
	incoming   chan json.RawMessage
	readErr    chan error
	closed     chan struct{}
	idleTimeout time.Duration
}

// dialSession opens the WebSocket, waits for the "connected" handshake, and
// starts the reader goroutine.
func dialSession(ctx context.Context, cfg Config, cred Credential) (*clientSession, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		TLSClientConfig:  &tls.Config{},
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(proxyURL)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, wsURL(cfg, cred), nil)
	if err != nil {
		return nil, fmt.Errorf("wsagent: dial failed: %w", err)
	}

	s := &clientSession{
		conn:        conn,
		incoming:    make(chan json.RawMessage, 32),
		readErr:     make(chan error, 1),
		closed:      make(chan struct{}),
		idleTimeout: cfg.IdleTimeout,
	}

	if err := s.waitConnected(cfg.ConnectTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

func (s *clientSession) waitConnected(timeout time.Duration) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("wsagent: waiting for connected message: %w", err)
	}
	if typ := jsonType(data); typ != "connected" {
		return fmt.Errorf("wsagent: expected connected message, got %q", typ)
	}
	_ = s.conn.SetReadDeadline(time.Time{})
	return nil
}

func (s *clientSession) readLoop() {
	defer close(s.incoming)
	for {
		if s.idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr <- err
			return
		}
		select {
		case s.incoming <- data:
		case <-s.closed:
			return
		}
	}
}

func (s *clientSession) send(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *clientSession) close() {
	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	_ = s.conn.Close()
}

func jsonType(data []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &envelope)
	return envelope.Type
}
