// Package dialect implements the per-protocol-family Strategy extractors and
// injectors (C7): model/stream detection, prompt/response text extraction
// for logging, and system-prompt management.
package dialect

import (
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Family identifies one of the five wire dialects.
type Family string

const (
	OpenAI          Family = "openai"
	OpenAIResponses Family = "openaiResponses"
	Claude          Family = "claude"
	Gemini          Family = "gemini"
	Warp            Family = "warp"
)

// ModelStreamInfo is the result of extracting routing fingerprint fields.
type ModelStreamInfo struct {
	Model    string
	IsStream bool
}

// Strategy is the per-dialect extractor/injector contract.
type Strategy interface {
	ExtractModelAndStreamInfo(requestBody []byte) ModelStreamInfo
	ExtractPromptText(requestBody []byte) string
	ExtractResponseText(responseBody []byte) string
	ApplySystemPromptFromFile(systemPromptPath string, requestBody []byte) []byte
	ManageSystemPrompt(systemPromptPath string, requestBody []byte) error
}

// ForProvider dispatches to a Strategy via the protocol prefix of the
// provider string (everything left of the first hyphen), aliasing the Warp
// provider to openai per §4.7.
func ForProvider(provider string) Strategy {
	prefix := provider
	if idx := strings.Index(provider, "-"); idx >= 0 {
		prefix = provider[:idx]
	}
	switch strings.ToLower(prefix) {
	case "warp":
		return openaiStrategy{}
	case "claude", "anthropic":
		return claudeStrategy{}
	case "gemini":
		return geminiStrategy{}
	case "openairesponses":
		return openaiResponsesStrategy{}
	default:
		return openaiStrategy{}
	}
}

// ForFamily returns the strategy for an explicit Family value.
func ForFamily(f Family) Strategy {
	switch f {
	case Claude:
		return claudeStrategy{}
	case Gemini:
		return geminiStrategy{}
	case OpenAIResponses:
		return openaiResponsesStrategy{}
	case Warp:
		return openaiStrategy{}
	default:
		return openaiStrategy{}
	}
}

// StripBrandPrefix removes a leading "[Brand] " marker from a client-visible
// model name, returning the clean model name and the brand if present.
func StripBrandPrefix(model string) (clean string, brand string) {
	if strings.HasPrefix(model, "[") {
		if idx := strings.Index(model, "] "); idx > 0 {
			return model[idx+2:], model[1:idx]
		}
	}
	return model, ""
}

// BrandPrefix formats a client-visible model name with its provider brand tag.
func BrandPrefix(brand, model string) string {
	if brand == "" {
		return model
	}
	return "[" + brand + "] " + model
}

func writeSystemPromptFile(path, content string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func readSystemPromptFile(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// --- OpenAI Chat ---

type openaiStrategy struct{}

func (openaiStrategy) ExtractModelAndStreamInfo(body []byte) ModelStreamInfo {
	root := gjson.ParseBytes(body)
	return ModelStreamInfo{Model: root.Get("model").String(), IsStream: root.Get("stream").Bool()}
}

func (openaiStrategy) ExtractPromptText(body []byte) string {
	var parts []string
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		parts = append(parts, flattenOpenAIContent(msg))
		return true
	})
	return strings.Join(parts, "\n")
}

func (openaiStrategy) ExtractResponseText(body []byte) string {
	var parts []string
	gjson.GetBytes(body, "choices").ForEach(func(_, choice gjson.Result) bool {
		if text := choice.Get("message.content"); text.Exists() {
			parts = append(parts, text.String())
		} else if delta := choice.Get("delta.content"); delta.Exists() {
			parts = append(parts, delta.String())
		}
		return true
	})
	return strings.Join(parts, "")
}

func (openaiStrategy) ApplySystemPromptFromFile(path string, body []byte) []byte {
	content, ok := readSystemPromptFile(path)
	if !ok || content == "" {
		return body
	}
	messages := gjson.GetBytes(body, "messages")
	if messages.Exists() && len(messages.Array()) > 0 && messages.Array()[0].Get("role").String() == "system" {
		out, _ := sjson.SetBytes(body, "messages.0.content", content)
		return out
	}
	out, _ := sjson.SetRawBytes(body, "messages.-1", []byte(`{}`))
	out, _ = sjson.SetBytes(out, "messages.0", map[string]any{"role": "system", "content": content})
	// insert at front: rebuild by prepending
	var rebuilt []byte
	rebuilt, _ = sjson.DeleteBytes(body, "messages")
	rebuilt, _ = sjson.SetRawBytes(rebuilt, "messages", []byte("[]"))
	sysMsg := map[string]any{"role": "system", "content": content}
	rebuilt, _ = sjson.SetBytes(rebuilt, "messages.-1", sysMsg)
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		rebuilt, _ = sjson.SetRawBytes(rebuilt, "messages.-1", []byte(msg.Raw))
		return true
	})
	return rebuilt
}

func (openaiStrategy) ManageSystemPrompt(path string, body []byte) error {
	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() {
		return nil
	}
	arr := messages.Array()
	if len(arr) == 0 || arr[0].Get("role").String() != "system" {
		return nil
	}
	return writeSystemPromptFile(path, arr[0].Get("content").String())
}

func flattenOpenAIContent(msg gjson.Result) string {
	role := msg.Get("role").String()
	content := msg.Get("content")
	if content.Type == gjson.String {
		return role + ": " + content.String()
	}
	var pieces []string
	content.ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text"); text.Exists() {
			pieces = append(pieces, text.String())
		}
		return true
	})
	return role + ": " + strings.Join(pieces, " ")
}

// --- OpenAI Responses ---

type openaiResponsesStrategy struct{ openaiStrategy }

func (openaiResponsesStrategy) ExtractModelAndStreamInfo(body []byte) ModelStreamInfo {
	root := gjson.ParseBytes(body)
	return ModelStreamInfo{Model: root.Get("model").String(), IsStream: root.Get("stream").Bool()}
}

func (openaiResponsesStrategy) ExtractPromptText(body []byte) string {
	var parts []string
	input := gjson.GetBytes(body, "input")
	if input.IsArray() {
		input.ForEach(func(_, item gjson.Result) bool {
			parts = append(parts, flattenOpenAIContent(item))
			return true
		})
	} else if input.Exists() {
		parts = append(parts, input.String())
	}
	return strings.Join(parts, "\n")
}

func (openaiResponsesStrategy) ExtractResponseText(body []byte) string {
	var parts []string
	gjson.GetBytes(body, "output").ForEach(func(_, item gjson.Result) bool {
		item.Get("content").ForEach(func(_, c gjson.Result) bool {
			if t := c.Get("text"); t.Exists() {
				parts = append(parts, t.String())
			}
			return true
		})
		return true
	})
	return strings.Join(parts, "")
}

// --- Claude (system field) ---

type claudeStrategy struct{}

func (claudeStrategy) ExtractModelAndStreamInfo(body []byte) ModelStreamInfo {
	root := gjson.ParseBytes(body)
	return ModelStreamInfo{Model: root.Get("model").String(), IsStream: root.Get("stream").Bool()}
}

func (claudeStrategy) ExtractPromptText(body []byte) string {
	var parts []string
	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		parts = append(parts, "system: "+sys.String())
	}
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		parts = append(parts, flattenClaudeContent(msg))
		return true
	})
	return strings.Join(parts, "\n")
}

func (claudeStrategy) ExtractResponseText(body []byte) string {
	var parts []string
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "")
}

func (claudeStrategy) ApplySystemPromptFromFile(path string, body []byte) []byte {
	content, ok := readSystemPromptFile(path)
	if !ok || content == "" {
		return body
	}
	out, _ := sjson.SetBytes(body, "system", content)
	return out
}

func (claudeStrategy) ManageSystemPrompt(path string, body []byte) error {
	sys := gjson.GetBytes(body, "system")
	if !sys.Exists() {
		return nil
	}
	return writeSystemPromptFile(path, sys.String())
}

func flattenClaudeContent(msg gjson.Result) string {
	role := msg.Get("role").String()
	content := msg.Get("content")
	if content.Type == gjson.String {
		return role + ": " + content.String()
	}
	var pieces []string
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			pieces = append(pieces, block.Get("text").String())
		case "tool_use":
			pieces = append(pieces, "[tool_use:"+block.Get("name").String()+"]")
		case "tool_result":
			pieces = append(pieces, "[tool_result]")
		}
		return true
	})
	return role + ": " + strings.Join(pieces, " ")
}

// --- Gemini ---

type geminiStrategy struct{}

func (geminiStrategy) ExtractModelAndStreamInfo(body []byte) ModelStreamInfo {
	root := gjson.ParseBytes(body)
	model := root.Get("model").String()
	// Gemini's model + stream flag are typically carried by the URL path
	// rather than the body; callers pass the path-derived values in when known.
	return ModelStreamInfo{Model: model, IsStream: root.Get("stream").Bool()}
}

func (geminiStrategy) ExtractPromptText(body []byte) string {
	var parts []string
	if sys := gjson.GetBytes(body, "systemInstruction"); sys.Exists() {
		parts = append(parts, "system: "+flattenGeminiParts(sys))
	}
	gjson.GetBytes(body, "contents").ForEach(func(_, content gjson.Result) bool {
		parts = append(parts, content.Get("role").String()+": "+flattenGeminiParts(content))
		return true
	})
	return strings.Join(parts, "\n")
}

func (geminiStrategy) ExtractResponseText(body []byte) string {
	var parts []string
	gjson.GetBytes(body, "candidates").ForEach(func(_, cand gjson.Result) bool {
		parts = append(parts, flattenGeminiParts(cand.Get("content")))
		return true
	})
	return strings.Join(parts, "")
}

func (geminiStrategy) ApplySystemPromptFromFile(path string, body []byte) []byte {
	content, ok := readSystemPromptFile(path)
	if !ok || content == "" {
		return body
	}
	out, _ := sjson.SetBytes(body, "systemInstruction.parts.0.text", content)
	return out
}

func (geminiStrategy) ManageSystemPrompt(path string, body []byte) error {
	sys := gjson.GetBytes(body, "systemInstruction")
	if !sys.Exists() {
		return nil
	}
	return writeSystemPromptFile(path, flattenGeminiParts(sys))
}

func flattenGeminiParts(node gjson.Result) string {
	var pieces []string
	node.Get("parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			pieces = append(pieces, text.String())
		}
		return true
	})
	return strings.Join(pieces, " ")
}

// PromptLogEntry frames an inbound prompt or outbound response for the
// append-only log files defined in §6.
func PromptLogEntry(direction string, body string, at time.Time) string {
	return at.UTC().Format(time.RFC3339) + " [" + direction + "]:\n" + body + "\n---\n"
}
