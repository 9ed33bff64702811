package wsagent

import (
	"strings"
	"sync"

	"github.com/llmgatewaycore/gateway/internal/convert"
	"github.com/tidwall/gjson"
)

// pendingTool tracks one in-flight tool_use content block while its input
// JSON streams in across multiple tool-input-delta messages.
type pendingTool struct {
	index      int
	id         string
	name       string
	argsBuf    strings.Builder
	sawDelta   bool
	editFile   string
	editNewBuf strings.Builder
}

// translatorState is the per-connection event-translation state machine
// described in §4.10.
type translatorState struct {
	mu sync.Mutex

	preferHighLevel bool

	textOpen      bool
	thinkingOpen  bool
	lastTextDelta string

	nextIndex int

	pendingTools map[string]*pendingTool // keyed by upstream tool id / bash_id-like key

	finishReason string
	usage        convert.Usage

	clientTools []ClientTool
}

func newTranslatorState(clientTools []ClientTool) *translatorState {
	return &translatorState{
		pendingTools: map[string]*pendingTool{},
		nextIndex:    1,
		clientTools:  clientTools,
	}
}

func (s *translatorState) allocIndex() int {
	idx := s.nextIndex
	s.nextIndex++
	return idx
}

// translate consumes one upstream JSON message and returns zero or more
// canonical outbound events (§4.10 mapping table).
func (s *translatorState) translate(raw []byte) []convert.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := gjson.ParseBytes(raw)
	typ := root.Get("type").String()
	isHighLevel := strings.HasPrefix(typ, "coding_agent.")

	switch canonicalEventName(typ) {
	case "reasoning.started":
		return s.onHighLevelGate(isHighLevel, func() []convert.StreamEvent { return s.startThinking() })
	case "reasoning.chunk":
		return s.onHighLevelGate(isHighLevel, func() []convert.StreamEvent {
			return s.deltaThinking(root.Get("delta").String())
		})
	case "reasoning.completed":
		return s.onHighLevelGate(isHighLevel, func() []convert.StreamEvent { return s.stopThinking() })
	case "text":
		return s.onHighLevelGate(isHighLevel, func() []convert.StreamEvent {
			delta := firstNonEmptyResult(root, "delta", "text")
			return s.deltaText(delta)
		})
	case "tool-input-start":
		return s.startTool(root)
	case "tool-input-delta":
		return s.deltaTool(root)
	case "tool-input-end":
		return s.endTool(root)
	case "edit.started":
		return s.startEdit(root)
	case "edit.chunk":
		return s.chunkEdit(root)
	case "edit.completed":
		return s.completeEdit(root)
	case "todo_write.started":
		return s.todoWrite(root)
	case "tokens_used":
		s.usage.InputTokens += root.Get("input_tokens").Int()
		s.usage.OutputTokens += root.Get("output_tokens").Int()
		return nil
	case "done":
		s.finishReason = root.Get("finish").String()
		return s.finish()
	default:
		return nil
	}
}

// onHighLevelGate implements the dedup rule: once a high-level event of a
// semantic has been seen, low-level events of the same semantic are
// discarded to avoid emitting duplicate canonical events.
func (s *translatorState) onHighLevelGate(isHighLevel bool, emit func() []convert.StreamEvent) []convert.StreamEvent {
	if isHighLevel {
		s.preferHighLevel = true
		return emit()
	}
	if s.preferHighLevel {
		return nil
	}
	return emit()
}

// canonicalEventName maps the many upstream spellings onto one semantic key.
func canonicalEventName(typ string) string {
	t := strings.TrimPrefix(typ, "coding_agent.")
	switch t {
	case "reasoning.started", "reasoning-start":
		return "reasoning.started"
	case "reasoning.chunk", "reasoning-delta":
		return "reasoning.chunk"
	case "reasoning.completed", "reasoning-end":
		return "reasoning.completed"
	case "output_text_delta", "text-delta", "response.chunk":
		return "text"
	case "tool-input-start":
		return "tool-input-start"
	case "tool-input-delta":
		return "tool-input-delta"
	case "tool-input-end":
		return "tool-input-end"
	case "Edit.edit.started", "edit_file.started":
		return "edit.started"
	case "edit_file.chunk":
		return "edit.chunk"
	case "edit_file.completed":
		return "edit.completed"
	case "todo_write.started":
		return "todo_write.started"
	case "tokens_used", "response_done.usage":
		return "tokens_used"
	case "response_done", "end", "complete":
		return "done"
	case "fs_operation":
		return "fs_operation"
	default:
		return t
	}
}

func firstNonEmptyResult(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (s *translatorState) startThinking() []convert.StreamEvent {
	if s.thinkingOpen {
		return nil
	}
	s.thinkingOpen = true
	return []convert.StreamEvent{{Kind: convert.EventContentBlockStart, Index: 0, BlockKind: convert.BlockThinking}}
}

func (s *translatorState) deltaThinking(text string) []convert.StreamEvent {
	if text == "" {
		return nil
	}
	var out []convert.StreamEvent
	if !s.thinkingOpen {
		out = append(out, s.startThinking()...)
	}
	out = append(out, convert.StreamEvent{Kind: convert.EventContentBlockDelta, Index: 0, DeltaKind: convert.DeltaThinking, DeltaText: text})
	return out
}

func (s *translatorState) stopThinking() []convert.StreamEvent {
	if !s.thinkingOpen {
		return nil
	}
	s.thinkingOpen = false
	return []convert.StreamEvent{{Kind: convert.EventContentBlockStop, Index: 0}}
}

func (s *translatorState) deltaText(text string) []convert.StreamEvent {
	if text == "" {
		return nil
	}
	// Dedup identical consecutive deltas that arrive from both event
	// families when only one has been gated open.
	if text == s.lastTextDelta {
		s.lastTextDelta = ""
		return nil
	}
	s.lastTextDelta = text

	var out []convert.StreamEvent
	if !s.textOpen {
		s.textOpen = true
		out = append(out, convert.StreamEvent{Kind: convert.EventContentBlockStart, Index: 0, BlockKind: convert.BlockText})
	}
	out = append(out, convert.StreamEvent{Kind: convert.EventContentBlockDelta, Index: 0, DeltaKind: convert.DeltaText, DeltaText: text})
	return out
}

func (s *translatorState) closeTextIfOpen() []convert.StreamEvent {
	if !s.textOpen {
		return nil
	}
	s.textOpen = false
	return []convert.StreamEvent{{Kind: convert.EventContentBlockStop, Index: 0}}
}

func (s *translatorState) startTool(root gjson.Result) []convert.StreamEvent {
	out := s.closeTextIfOpen()
	id := root.Get("id").String()
	upstreamName := root.Get("name").String()
	idx := s.allocIndex()
	mappedName := MapToolName(upstreamName, s.clientTools)
	s.pendingTools[id] = &pendingTool{index: idx, id: id, name: mappedName}
	out = append(out, convert.StreamEvent{
		Kind: convert.EventContentBlockStart, Index: idx, BlockKind: convert.BlockToolUse,
		ToolUseID: id, ToolName: mappedName,
	})
	return out
}

func (s *translatorState) deltaTool(root gjson.Result) []convert.StreamEvent {
	id := root.Get("id").String()
	pt, ok := s.pendingTools[id]
	if !ok {
		return nil
	}
	partial := root.Get("partial_json").String()
	pt.sawDelta = true
	pt.argsBuf.WriteString(partial)
	return []convert.StreamEvent{{Kind: convert.EventContentBlockDelta, Index: pt.index, DeltaKind: convert.DeltaInputJSON, DeltaText: partial}}
}

func (s *translatorState) endTool(root gjson.Result) []convert.StreamEvent {
	id := root.Get("id").String()
	pt, ok := s.pendingTools[id]
	if !ok {
		return nil
	}
	var out []convert.StreamEvent
	if !pt.sawDelta {
		accumulated := root.Get("input").Raw
		if accumulated == "" {
			accumulated = pt.argsBuf.String()
		}
		out = append(out, convert.StreamEvent{Kind: convert.EventContentBlockDelta, Index: pt.index, DeltaKind: convert.DeltaInputJSON, DeltaText: accumulated})
	}
	out = append(out, convert.StreamEvent{Kind: convert.EventContentBlockStop, Index: pt.index})
	return out
}

func (s *translatorState) startEdit(root gjson.Result) []convert.StreamEvent {
	out := s.closeTextIfOpen()
	id := root.Get("id").String()
	idx := s.allocIndex()
	pt := &pendingTool{index: idx, id: id, name: "Edit", editFile: root.Get("file_path").String()}
	s.pendingTools[id] = pt
	out = append(out, convert.StreamEvent{Kind: convert.EventContentBlockStart, Index: idx, BlockKind: convert.BlockToolUse, ToolUseID: id, ToolName: "Edit"})
	return out
}

func (s *translatorState) chunkEdit(root gjson.Result) []convert.StreamEvent {
	id := root.Get("id").String()
	pt, ok := s.pendingTools[id]
	if !ok {
		return nil
	}
	pt.editNewBuf.WriteString(root.Get("text").String())
	return nil
}

func (s *translatorState) completeEdit(root gjson.Result) []convert.StreamEvent {
	id := root.Get("id").String()
	pt, ok := s.pendingTools[id]
	if !ok {
		return nil
	}
	input := `{"file_path":"` + jsonEscape(pt.editFile) + `","old_string":"` + jsonEscape(root.Get("old_string").String()) + `","new_string":"` + jsonEscape(pt.editNewBuf.String()) + `"}`
	return []convert.StreamEvent{
		{Kind: convert.EventContentBlockDelta, Index: pt.index, DeltaKind: convert.DeltaInputJSON, DeltaText: input},
		{Kind: convert.EventContentBlockStop, Index: pt.index},
	}
}

func (s *translatorState) todoWrite(root gjson.Result) []convert.StreamEvent {
	out := s.closeTextIfOpen()
	idx := s.allocIndex()
	todos := root.Get("todos").Raw
	if todos == "" {
		todos = "[]"
	}
	id := "todo_" + itoaSimple(idx)
	out = append(out,
		convert.StreamEvent{Kind: convert.EventContentBlockStart, Index: idx, BlockKind: convert.BlockToolUse, ToolUseID: id, ToolName: "TodoWrite"},
		convert.StreamEvent{Kind: convert.EventContentBlockDelta, Index: idx, DeltaKind: convert.DeltaInputJSON, DeltaText: `{"todos":` + todos + `}`},
		convert.StreamEvent{Kind: convert.EventContentBlockStop, Index: idx},
	)
	return out
}

func (s *translatorState) finish() []convert.StreamEvent {
	var out []convert.StreamEvent
	out = append(out, s.closeTextIfOpen()...)
	out = append(out, s.stopThinking()...)

	stopReason := convert.StopEndTurn
	if len(s.pendingTools) > 0 {
		stopReason = convert.StopToolUse
	} else {
		switch s.finishReason {
		case "tool-calls":
			stopReason = convert.StopToolUse
		case "stop":
			stopReason = convert.StopEndTurn
		}
	}
	out = append(out, convert.StreamEvent{Kind: convert.EventMessageDelta, StopReason: stopReason, Usage: s.usage})
	out = append(out, convert.StreamEvent{Kind: convert.EventMessageStop})
	return out
}

func jsonEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return r.Replace(s)
}

func itoaSimple(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
