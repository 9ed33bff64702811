// Package convert implements the Dialect Converter (C8): request, unary
// response, and streaming-chunk translation across the four client-facing
// dialects (openai, openaiResponses, claude, gemini) plus the warp wire
// dialect (aliased to openai), via a canonical tagged-variant message
// representation (§9 Dynamic shapes -> tagged variants).
package convert

import "github.com/llmgatewaycore/gateway/internal/dialect"

// Role is the canonical message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind discriminates the canonical Content tagged union.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockImage      BlockKind = "image"
	BlockDocument   BlockKind = "document"
	BlockThinking   BlockKind = "thinking"
)

// Content is one block of canonical message content. Only the fields
// relevant to Kind are populated.
type Content struct {
	Kind BlockKind

	// Text / Thinking
	Text string

	// ToolUse
	ToolUseID string
	ToolName  string
	InputJSON string // raw JSON object text

	// ToolResult
	ToolResultForID string
	ToolResultOK    bool

	// Image / Document
	MediaType string
	Data      string // base64, mutually exclusive with URL
	URL       string
}

// Message is one canonical chat turn.
type Message struct {
	Role    Role
	Content []Content
}

// ToolDef is a canonical tool declaration.
type ToolDef struct {
	Name        string
	Description string
	InputSchema string // raw JSON schema text
}

// Request is the canonical lift of a dialect-specific request body.
type Request struct {
	Model         string
	Stream        bool
	System        string
	Messages      []Message
	Tools         []ToolDef
	MaxTokens     int64
	Temperature   *float64
	TopP          *float64
	StopSequences []string
}

// StopReason is the canonical terminal reason, matching Claude's grammar.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Usage is canonical token accounting.
type Usage struct {
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
}

// Response is the canonical lift of a dialect-specific unary response.
type Response struct {
	Model      string
	Content    []Content
	StopReason StopReason
	Usage      Usage
}

// Dialect re-exports dialect.Family so callers of this package don't need a
// second import for the common case.
type Dialect = dialect.Family

const (
	OpenAI          = dialect.OpenAI
	OpenAIResponses = dialect.OpenAIResponses
	Claude          = dialect.Claude
	Gemini          = dialect.Gemini
	Warp            = dialect.Warp
)

// wireDialect aliases Warp to OpenAI for wire-shape purposes, per §4.7/§4.9.
func wireDialect(d Dialect) Dialect {
	if d == Warp {
		return OpenAI
	}
	return d
}
