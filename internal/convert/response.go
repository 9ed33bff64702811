package convert

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertResponse rewrites a unary (non-streaming) response body from one
// dialect to another. No-op when from == to.
func ConvertResponse(from, to Dialect, rawJSON []byte) []byte {
	from, to = wireDialect(from), wireDialect(to)
	if from == to {
		return rawJSON
	}
	resp := liftResponse(from, rawJSON)
	return lowerResponse(to, resp)
}

func liftResponse(from Dialect, raw []byte) Response {
	switch from {
	case Claude:
		return liftClaudeResponse(raw)
	case Gemini:
		return liftGeminiResponse(raw)
	default:
		return liftOpenAIResponse(raw)
	}
}

func lowerResponse(to Dialect, resp Response) []byte {
	switch to {
	case Claude:
		return lowerClaudeResponse(resp)
	case Gemini:
		return lowerGeminiResponse(resp)
	default:
		return lowerOpenAIResponse(resp)
	}
}

// --- OpenAI ---

func liftOpenAIResponse(raw []byte) Response {
	root := gjson.ParseBytes(raw)
	resp := Response{Model: root.Get("model").String()}
	resp.Usage = Usage{
		InputTokens:  root.Get("usage.prompt_tokens").Int(),
		OutputTokens: root.Get("usage.completion_tokens").Int(),
	}
	choice := root.Get("choices.0")
	msg := choice.Get("message")
	if content := msg.Get("content"); content.Exists() && content.String() != "" {
		resp.Content = append(resp.Content, Content{Kind: BlockText, Text: content.String()})
	}
	msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		resp.Content = append(resp.Content, Content{
			Kind: BlockToolUse, ToolUseID: tc.Get("id").String(),
			ToolName: tc.Get("function.name").String(), InputJSON: tc.Get("function.arguments").String(),
		})
		return true
	})
	resp.StopReason = openAIFinishToStop(choice.Get("finish_reason").String())
	return resp
}

func openAIFinishToStop(reason string) StopReason {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	case "stop":
		return StopStopSequence
	default:
		return StopEndTurn
	}
}

func stopToOpenAIFinish(reason StopReason) string {
	switch reason {
	case StopToolUse:
		return "tool_calls"
	case StopMaxTokens:
		return "length"
	case StopStopSequence:
		return "stop"
	default:
		return "stop"
	}
}

func lowerOpenAIResponse(resp Response) []byte {
	out := `{"object":"chat.completion","choices":[]}`
	out, _ = sjson.Set(out, "model", resp.Model)
	out, _ = sjson.Set(out, "usage.prompt_tokens", resp.Usage.InputTokens)
	out, _ = sjson.Set(out, "usage.completion_tokens", resp.Usage.OutputTokens)
	out, _ = sjson.Set(out, "usage.total_tokens", resp.Usage.InputTokens+resp.Usage.OutputTokens)

	var text string
	var toolCalls []map[string]any
	for _, c := range resp.Content {
		switch c.Kind {
		case BlockText, BlockThinking:
			text = appendText(text, c.Text)
		case BlockToolUse:
			id := c.ToolUseID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			toolCalls = append(toolCalls, map[string]any{
				"id": id, "type": "function",
				"function": map[string]any{"name": c.ToolName, "arguments": c.InputJSON},
			})
		}
	}
	message := map[string]any{"role": "assistant"}
	if text != "" {
		message["content"] = text
	} else {
		message["content"] = nil
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	choice := map[string]any{"index": 0, "message": message, "finish_reason": stopToOpenAIFinish(resp.StopReason)}
	out, _ = sjson.Set(out, "choices.-1", choice)
	out, _ = sjson.Set(out, "id", "chatcmpl-"+uuid.NewString())
	return []byte(out)
}

// --- Claude ---

func liftClaudeResponse(raw []byte) Response {
	root := gjson.ParseBytes(raw)
	resp := Response{Model: root.Get("model").String()}
	resp.Usage = Usage{
		InputTokens:       root.Get("usage.input_tokens").Int(),
		OutputTokens:      root.Get("usage.output_tokens").Int(),
		CachedInputTokens: root.Get("usage.cache_read_input_tokens").Int(),
	}
	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		resp.Content = append(resp.Content, liftClaudeBlock(block))
		return true
	})
	resp.StopReason = claudeStopReason(root.Get("stop_reason").String())
	return resp
}

func claudeStopReason(s string) StopReason {
	switch s {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopStopSequence
	default:
		return StopEndTurn
	}
}

func stopToClaudeReason(r StopReason) string {
	switch r {
	case StopToolUse:
		return "tool_use"
	case StopMaxTokens:
		return "max_tokens"
	case StopStopSequence:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func lowerClaudeResponse(resp Response) []byte {
	out := `{"type":"message","role":"assistant","content":[]}`
	out, _ = sjson.Set(out, "model", resp.Model)
	out, _ = sjson.Set(out, "id", "msg_"+uuid.NewString())
	out, _ = sjson.Set(out, "usage.input_tokens", resp.Usage.InputTokens)
	out, _ = sjson.Set(out, "usage.output_tokens", resp.Usage.OutputTokens)
	if resp.Usage.CachedInputTokens > 0 {
		out, _ = sjson.Set(out, "usage.cache_read_input_tokens", resp.Usage.CachedInputTokens)
	}
	for _, c := range resp.Content {
		switch c.Kind {
		case BlockText:
			out, _ = sjson.Set(out, "content.-1", map[string]any{"type": "text", "text": c.Text})
		case BlockThinking:
			out, _ = sjson.Set(out, "content.-1", map[string]any{"type": "thinking", "thinking": c.Text})
		case BlockToolUse:
			out, _ = sjson.Set(out, "content.-1", map[string]any{"type": "tool_use", "id": c.ToolUseID, "name": c.ToolName})
			idx := lastIndex(out, "content")
			out, _ = sjson.SetRaw(out, "content."+idx+".input", orEmptyObject(c.InputJSON))
		}
	}
	out, _ = sjson.Set(out, "stop_reason", stopToClaudeReason(resp.StopReason))
	return []byte(out)
}

// --- Gemini ---

func liftGeminiResponse(raw []byte) Response {
	root := gjson.ParseBytes(raw)
	resp := Response{Model: root.Get("modelVersion").String()}
	resp.Usage = Usage{
		InputTokens:  root.Get("usageMetadata.promptTokenCount").Int(),
		OutputTokens: root.Get("usageMetadata.candidatesTokenCount").Int(),
	}
	cand := root.Get("candidates.0")
	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		resp.Content = append(resp.Content, liftGeminiPart(part))
		return true
	})
	resp.StopReason = geminiFinishToStop(cand.Get("finishReason").String(), resp.Content)
	return resp
}

func geminiFinishToStop(reason string, content []Content) StopReason {
	for _, c := range content {
		if c.Kind == BlockToolUse {
			return StopToolUse
		}
	}
	switch reason {
	case "MAX_TOKENS":
		return StopMaxTokens
	case "STOP":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

func stopToGeminiFinish(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}

func lowerGeminiResponse(resp Response) []byte {
	out := `{"candidates":[]}`
	out, _ = sjson.Set(out, "modelVersion", resp.Model)
	out, _ = sjson.Set(out, "usageMetadata.promptTokenCount", resp.Usage.InputTokens)
	out, _ = sjson.Set(out, "usageMetadata.candidatesTokenCount", resp.Usage.OutputTokens)
	out, _ = sjson.Set(out, "usageMetadata.totalTokenCount", resp.Usage.InputTokens+resp.Usage.OutputTokens)

	var parts []map[string]any
	for _, c := range resp.Content {
		switch c.Kind {
		case BlockText, BlockThinking:
			parts = append(parts, map[string]any{"text": c.Text})
		case BlockToolUse:
			var args any
			args = gjson.Parse(orEmptyObject(c.InputJSON)).Value()
			parts = append(parts, map[string]any{"functionCall": map[string]any{"name": c.ToolName, "args": args}})
		}
	}
	cand := map[string]any{
		"content":      map[string]any{"role": "model", "parts": parts},
		"finishReason": stopToGeminiFinish(resp.StopReason),
		"index":        0,
	}
	out, _ = sjson.Set(out, "candidates.-1", cand)
	return []byte(out)
}
