// Package wsagent implements the WS Coding-Agent Adapter (C10): session
// refresh, a per-request WebSocket connection, translation of the upstream
// event stream into the canonical Anthropic streaming grammar, and the
// filesystem/subprocess tool-execution loop that backs it.
package wsagent

import (
	"encoding/json"
	"time"
)

// Credential is the on-disk shape of a coding-agent credential file: a
// session cookie/JWT plus the short-lived WS token derived from it.
type Credential struct {
	ClientJWT      string    `json:"client_jwt"`
	SessionID      string    `json:"session_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	WSToken        string    `json:"ws_token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
}

// Config configures one adapter instance (§4.10, §5).
type Config struct {
	BaseURL             string
	SessionListEndpoint string
	CredentialFile      string
	ProxyURL            string

	ConnectTimeout time.Duration
	IdleTimeout    time.Duration

	WorkingDir      string
	AllowRunCommand bool
	EmitToolUse     bool

	RipgrepMaxFileBytes  int64
	RipgrepMaxResults    int
	RipgrepMaxFilesTouch int
}

// DefaultConfig applies the spec's stated timeouts and ripgrep caps.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       30 * time.Second,
		IdleTimeout:          120 * time.Second,
		RipgrepMaxFileBytes:  2 << 20,
		RipgrepMaxResults:    500,
		RipgrepMaxFilesTouch: 2000,
	}
}

// upstreamMessage is one JSON object received over the WebSocket. The
// upstream multiplexes many loosely-typed event shapes; only the fields a
// given Type cares about will be populated in Raw.
type upstreamMessage struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ClientTool is a tool the requesting client advertised, used for name
// re-mapping and property-overlap matching (§4.10 Tool-name mapping).
type ClientTool struct {
	Name        string
	InputSchema map[string]any
}
