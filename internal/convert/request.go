package convert

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ConvertRequest rewrites a request body from one dialect to another. It is
// a no-op (returns rawJSON unchanged) when from == to.
func ConvertRequest(from, to Dialect, model string, rawJSON []byte, stream bool) []byte {
	from, to = wireDialect(from), wireDialect(to)
	if from == to {
		return rawJSON
	}
	req := liftRequest(from, rawJSON)
	req.Model = model
	req.Stream = stream
	return lowerRequest(to, req)
}

// LiftRequest parses a dialect-specific request body into the canonical
// representation, for callers (the WS coding-agent adapter) that consume
// Request directly rather than another wire dialect's bytes.
func LiftRequest(from Dialect, rawJSON []byte) Request {
	return liftRequest(wireDialect(from), rawJSON)
}

func liftRequest(from Dialect, raw []byte) Request {
	switch from {
	case Claude:
		return liftClaudeRequest(raw)
	case Gemini:
		return liftGeminiRequest(raw)
	default:
		return liftOpenAIRequest(raw)
	}
}

func lowerRequest(to Dialect, req Request) []byte {
	switch to {
	case Claude:
		return lowerClaudeRequest(req)
	case Gemini:
		return lowerGeminiRequest(req)
	default:
		return lowerOpenAIRequest(req)
	}
}

// --- OpenAI lift/lower ---

func liftOpenAIRequest(raw []byte) Request {
	root := gjson.ParseBytes(raw)
	req := Request{Model: root.Get("model").String(), Stream: root.Get("stream").Bool()}
	if mt := root.Get("max_tokens"); mt.Exists() {
		req.MaxTokens = mt.Int()
	}
	if t := root.Get("temperature"); t.Exists() {
		v := t.Float()
		req.Temperature = &v
	}
	if tp := root.Get("top_p"); tp.Exists() {
		v := tp.Float()
		req.TopP = &v
	}
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := Role(msg.Get("role").String())
		if role == RoleSystem {
			req.System = appendText(req.System, msg.Get("content").String())
			return true
		}
		if role == RoleTool {
			req.Messages = append(req.Messages, Message{
				Role: RoleTool,
				Content: []Content{{
					Kind:            BlockToolResult,
					ToolResultForID: msg.Get("tool_call_id").String(),
					Text:            msg.Get("content").String(),
					ToolResultOK:    true,
				}},
			})
			return true
		}
		m := Message{Role: role}
		if content := msg.Get("content"); content.Exists() && content.Type != gjson.Null {
			if content.Type == gjson.String {
				m.Content = append(m.Content, Content{Kind: BlockText, Text: content.String()})
			} else {
				content.ForEach(func(_, block gjson.Result) bool {
					m.Content = append(m.Content, liftOpenAIBlock(block))
					return true
				})
			}
		}
		msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			m.Content = append(m.Content, Content{
				Kind:      BlockToolUse,
				ToolUseID: tc.Get("id").String(),
				ToolName:  tc.Get("function.name").String(),
				InputJSON: tc.Get("function.arguments").String(),
			})
			return true
		})
		req.Messages = append(req.Messages, m)
		return true
	})
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		req.Tools = append(req.Tools, ToolDef{
			Name:        tool.Get("function.name").String(),
			Description: tool.Get("function.description").String(),
			InputSchema: tool.Get("function.parameters").Raw,
		})
		return true
	})
	return req
}

func liftOpenAIBlock(block gjson.Result) Content {
	switch block.Get("type").String() {
	case "image_url":
		return Content{Kind: BlockImage, URL: block.Get("image_url.url").String()}
	default:
		return Content{Kind: BlockText, Text: block.Get("text").String()}
	}
}

func lowerOpenAIRequest(req Request) []byte {
	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", req.Model)
	out, _ = sjson.Set(out, "stream", req.Stream)
	if req.MaxTokens > 0 {
		out, _ = sjson.Set(out, "max_tokens", req.MaxTokens)
	}
	if req.Temperature != nil {
		out, _ = sjson.Set(out, "temperature", *req.Temperature)
	}
	if req.TopP != nil {
		out, _ = sjson.Set(out, "top_p", *req.TopP)
	}
	if len(req.StopSequences) > 0 {
		out, _ = sjson.Set(out, "stop", req.StopSequences)
	}
	if req.System != "" {
		sysMsg := map[string]any{"role": "system", "content": req.System}
		out, _ = sjson.Set(out, "messages.-1", sysMsg)
	}
	for _, m := range req.Messages {
		lowerOpenAIMessageInto(&out, m)
	}
	if len(req.Tools) > 0 {
		for _, tool := range req.Tools {
			toolObj := map[string]any{"type": "function", "function": map[string]any{
				"name": tool.Name, "description": tool.Description,
			}}
			out, _ = sjson.Set(out, "tools.-1", toolObj)
			idx := lastIndex(out, "tools")
			if tool.InputSchema != "" {
				out, _ = sjson.SetRaw(out, "tools."+idx+".function.parameters", tool.InputSchema)
			}
		}
	}
	return []byte(out)
}

func lowerOpenAIMessageInto(out *string, m Message) {
	if m.Role == RoleTool {
		for _, c := range m.Content {
			if c.Kind != BlockToolResult {
				continue
			}
			msgObj := map[string]any{"role": "tool", "tool_call_id": c.ToolResultForID, "content": c.Text}
			*out, _ = sjson.Set(*out, "messages.-1", msgObj)
		}
		return
	}
	var textParts []string
	var toolCalls []map[string]any
	toolResults := 0
	for _, c := range m.Content {
		switch c.Kind {
		case BlockText, BlockThinking:
			textParts = append(textParts, c.Text)
		case BlockToolUse:
			id := c.ToolUseID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			toolCalls = append(toolCalls, map[string]any{
				"id": id, "type": "function",
				"function": map[string]any{"name": c.ToolName, "arguments": c.InputJSON},
			})
		case BlockToolResult:
			msgObj := map[string]any{"role": "tool", "tool_call_id": c.ToolResultForID, "content": c.Text}
			*out, _ = sjson.Set(*out, "messages.-1", msgObj)
			toolResults++
		}
	}
	if toolResults > 0 && len(textParts) == 0 && len(toolCalls) == 0 {
		return
	}
	msgObj := map[string]any{"role": string(m.Role)}
	if len(textParts) > 0 {
		msgObj["content"] = joinText(textParts)
	} else {
		msgObj["content"] = nil
	}
	if len(toolCalls) > 0 {
		msgObj["tool_calls"] = toolCalls
	}
	*out, _ = sjson.Set(*out, "messages.-1", msgObj)
}

// --- Claude lift/lower ---

func liftClaudeRequest(raw []byte) Request {
	root := gjson.ParseBytes(raw)
	req := Request{Model: root.Get("model").String(), Stream: root.Get("stream").Bool()}
	if mt := root.Get("max_tokens"); mt.Exists() {
		req.MaxTokens = mt.Int()
	}
	if t := root.Get("temperature"); t.Exists() {
		v := t.Float()
		req.Temperature = &v
	}
	if sys := root.Get("system"); sys.Exists() {
		req.System = sys.String()
	}
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		m := Message{Role: Role(msg.Get("role").String())}
		content := msg.Get("content")
		if content.Type == gjson.String {
			m.Content = append(m.Content, Content{Kind: BlockText, Text: content.String()})
		} else {
			content.ForEach(func(_, block gjson.Result) bool {
				m.Content = append(m.Content, liftClaudeBlock(block))
				return true
			})
		}
		req.Messages = append(req.Messages, m)
		return true
	})
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		req.Tools = append(req.Tools, ToolDef{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			InputSchema: tool.Get("input_schema").Raw,
		})
		return true
	})
	return req
}

func liftClaudeBlock(block gjson.Result) Content {
	switch block.Get("type").String() {
	case "tool_use":
		return Content{Kind: BlockToolUse, ToolUseID: block.Get("id").String(), ToolName: block.Get("name").String(), InputJSON: block.Get("input").Raw}
	case "tool_result":
		return Content{Kind: BlockToolResult, ToolResultForID: block.Get("tool_use_id").String(), Text: flattenClaudeResultContent(block.Get("content")), ToolResultOK: !block.Get("is_error").Bool()}
	case "image":
		return Content{Kind: BlockImage, MediaType: block.Get("source.media_type").String(), Data: block.Get("source.data").String()}
	default:
		return Content{Kind: BlockText, Text: block.Get("text").String()}
	}
}

func flattenClaudeResultContent(node gjson.Result) string {
	if node.Type == gjson.String {
		return node.String()
	}
	var parts []string
	node.ForEach(func(_, block gjson.Result) bool {
		parts = append(parts, block.Get("text").String())
		return true
	})
	return joinText(parts)
}

func lowerClaudeRequest(req Request) []byte {
	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", req.Model)
	out, _ = sjson.Set(out, "stream", req.Stream)
	if req.MaxTokens > 0 {
		out, _ = sjson.Set(out, "max_tokens", req.MaxTokens)
	} else {
		out, _ = sjson.Set(out, "max_tokens", int64(4096))
	}
	if req.Temperature != nil {
		out, _ = sjson.Set(out, "temperature", *req.Temperature)
	}
	if req.System != "" {
		out, _ = sjson.Set(out, "system", req.System)
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		role := m.Role
		blocks := make([]map[string]any, 0, len(m.Content))
		for _, c := range m.Content {
			switch c.Kind {
			case BlockText, BlockThinking:
				blocks = append(blocks, map[string]any{"type": "text", "text": c.Text})
			case BlockToolUse:
				var input any
				input = gjson.Parse(orEmptyObject(c.InputJSON)).Value()
				blocks = append(blocks, map[string]any{"type": "tool_use", "id": c.ToolUseID, "name": c.ToolName, "input": input})
			case BlockToolResult:
				role = RoleUser
				blocks = append(blocks, map[string]any{"type": "tool_result", "tool_use_id": c.ToolResultForID, "content": c.Text, "is_error": !c.ToolResultOK})
			case BlockImage:
				blocks = append(blocks, map[string]any{"type": "image", "source": map[string]any{"type": "base64", "media_type": c.MediaType, "data": c.Data}})
			}
		}
		out, _ = sjson.Set(out, "messages.-1", map[string]any{"role": string(role), "content": blocks})
	}
	if len(req.Tools) > 0 {
		for _, tool := range req.Tools {
			toolObj := map[string]any{"name": tool.Name, "description": tool.Description}
			out, _ = sjson.Set(out, "tools.-1", toolObj)
			idx := lastIndex(out, "tools")
			if tool.InputSchema != "" {
				out, _ = sjson.SetRaw(out, "tools."+idx+".input_schema", tool.InputSchema)
			}
		}
	}
	return []byte(out)
}

// --- Gemini lift/lower ---

func liftGeminiRequest(raw []byte) Request {
	root := gjson.ParseBytes(raw)
	req := Request{Model: root.Get("model").String(), Stream: root.Get("stream").Bool()}
	if sys := root.Get("systemInstruction"); sys.Exists() {
		req.System = flattenGeminiPartsText(sys)
	}
	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := RoleUser
		if content.Get("role").String() == "model" {
			role = RoleAssistant
		}
		m := Message{Role: role}
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			m.Content = append(m.Content, liftGeminiPart(part))
			return true
		})
		req.Messages = append(req.Messages, m)
		return true
	})
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		tool.Get("functionDeclarations").ForEach(func(_, fn gjson.Result) bool {
			req.Tools = append(req.Tools, ToolDef{Name: fn.Get("name").String(), Description: fn.Get("description").String(), InputSchema: fn.Get("parameters").Raw})
			return true
		})
		return true
	})
	if gc := root.Get("generationConfig"); gc.Exists() {
		if mt := gc.Get("maxOutputTokens"); mt.Exists() {
			req.MaxTokens = mt.Int()
		}
		if t := gc.Get("temperature"); t.Exists() {
			v := t.Float()
			req.Temperature = &v
		}
	}
	return req
}

func liftGeminiPart(part gjson.Result) Content {
	if fc := part.Get("functionCall"); fc.Exists() {
		return Content{Kind: BlockToolUse, ToolName: fc.Get("name").String(), InputJSON: fc.Get("args").Raw}
	}
	if fr := part.Get("functionResponse"); fr.Exists() {
		return Content{Kind: BlockToolResult, ToolResultForID: fr.Get("name").String(), Text: fr.Get("response").Raw, ToolResultOK: true}
	}
	if data := part.Get("inlineData"); data.Exists() {
		return Content{Kind: BlockImage, MediaType: data.Get("mimeType").String(), Data: data.Get("data").String()}
	}
	return Content{Kind: BlockText, Text: part.Get("text").String()}
}

func flattenGeminiPartsText(node gjson.Result) string {
	var parts []string
	node.Get("parts").ForEach(func(_, part gjson.Result) bool {
		parts = append(parts, part.Get("text").String())
		return true
	})
	return joinText(parts)
}

func lowerGeminiRequest(req Request) []byte {
	out := `{"contents":[]}`
	if req.System != "" {
		out, _ = sjson.Set(out, "systemInstruction.parts.0.text", req.System)
	}
	gcSet := false
	if req.MaxTokens > 0 {
		out, _ = sjson.Set(out, "generationConfig.maxOutputTokens", req.MaxTokens)
		gcSet = true
	}
	if req.Temperature != nil {
		out, _ = sjson.Set(out, "generationConfig.temperature", *req.Temperature)
		gcSet = true
	}
	_ = gcSet
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		var parts []map[string]any
		for _, c := range m.Content {
			switch c.Kind {
			case BlockText, BlockThinking:
				parts = append(parts, map[string]any{"text": c.Text})
			case BlockToolUse:
				var args any
				args = gjson.Parse(orEmptyObject(c.InputJSON)).Value()
				parts = append(parts, map[string]any{"functionCall": map[string]any{"name": c.ToolName, "args": args}})
			case BlockToolResult:
				var resp any
				resp = gjson.Parse(orEmptyObject(c.Text)).Value()
				parts = append(parts, map[string]any{"functionResponse": map[string]any{"name": c.ToolResultForID, "response": resp}})
			case BlockImage:
				parts = append(parts, map[string]any{"inlineData": map[string]any{"mimeType": c.MediaType, "data": c.Data}})
			}
		}
		out, _ = sjson.Set(out, "contents.-1", map[string]any{"role": role, "parts": parts})
	}
	if len(req.Tools) > 0 {
		var decls []map[string]any
		for _, tool := range req.Tools {
			decls = append(decls, map[string]any{"name": tool.Name, "description": tool.Description})
		}
		out, _ = sjson.Set(out, "tools.0.functionDeclarations", decls)
	}
	return []byte(out)
}

// --- helpers ---

func appendText(existing, add string) string {
	if existing == "" {
		return add
	}
	if add == "" {
		return existing
	}
	return existing + "\n" + add
}

func joinText(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

func orEmptyObject(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// lastIndex returns the string index of the last element of a JSON array at path.
func lastIndex(json, path string) string {
	arr := gjson.Get(json, path)
	n := len(arr.Array())
	if n == 0 {
		return "0"
	}
	return itoa(n - 1)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
