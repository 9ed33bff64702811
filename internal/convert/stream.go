package convert

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EventKind is the canonical streaming-chunk event, matching Claude's SSE
// event grammar (the canonical superset per §9 Design Notes).
type EventKind string

const (
	EventMessageStart      EventKind = "message_start"
	EventContentBlockStart EventKind = "content_block_start"
	EventContentBlockDelta EventKind = "content_block_delta"
	EventContentBlockStop  EventKind = "content_block_stop"
	EventMessageDelta      EventKind = "message_delta"
	EventMessageStop       EventKind = "message_stop"
	EventPing              EventKind = "ping"
)

// DeltaKind discriminates a content_block_delta payload.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text_delta"
	DeltaInputJSON DeltaKind = "input_json_delta"
	DeltaThinking  DeltaKind = "thinking_delta"
)

// StreamEvent is the canonical lift of one source-dialect streaming chunk.
// Only the fields relevant to Kind are populated.
type StreamEvent struct {
	Kind EventKind

	Model string // message_start
	Index int    // block index, for content_block_* events

	BlockKind BlockKind // content_block_start
	ToolUseID string
	ToolName  string

	DeltaKind DeltaKind
	DeltaText string // text_delta / thinking_delta / input_json_delta (raw JSON fragment)

	StopReason StopReason // message_delta / message_stop
	Usage      Usage      // message_delta
}

// StreamTranslator is stateful per connection: it tracks open content
// blocks and running tool-call indices so a multi-chunk upstream sequence
// lowers into a well-formed target-dialect sequence.
type StreamTranslator struct {
	From, To Dialect
	MessageID string
	Model    string

	openBlocks map[int]BlockKind
	openaiIdx  map[int]int // canonical block index -> openai tool_calls array index
	started    bool
	usage      Usage
	stopReason StopReason
}

// NewStreamTranslator constructs a translator for one streamed exchange.
func NewStreamTranslator(from, to Dialect, model string) *StreamTranslator {
	return &StreamTranslator{
		From: wireDialect(from), To: wireDialect(to), Model: model,
		MessageID:  "msg_" + uuid.NewString(),
		openBlocks: map[int]BlockKind{},
		openaiIdx:  map[int]int{},
	}
}

// LiftChunk parses one raw source-dialect SSE data payload (already stripped
// of the leading "event:"/"data:" framing tokens) into zero or more
// canonical events. eventName is the Claude SSE event name when known
// (empty for dialects that only send bare JSON objects).
func (t *StreamTranslator) LiftChunk(eventName string, data []byte) []StreamEvent {
	switch t.From {
	case Claude:
		return liftClaudeChunk(eventName, data)
	case Gemini:
		return liftGeminiChunk(data)
	default:
		return liftOpenAIChunk(data)
	}
}

// LowerEvent renders one canonical event as target-dialect SSE frame(s)
// ("event: x\ndata: {...}\n\n" for claude; "data: {...}\n\n" for the rest).
func (t *StreamTranslator) LowerEvent(ev StreamEvent) []byte {
	switch t.To {
	case Claude:
		return t.lowerClaudeEvent(ev)
	case Gemini:
		return t.lowerGeminiEvent(ev)
	default:
		return t.lowerOpenAIEvent(ev)
	}
}

// TerminalFrame returns the dialect-specific terminal marker emitted after
// the last real event (OpenAI's literal "[DONE]"; empty for the others,
// which terminate the stream by closing the connection after message_stop).
func (t *StreamTranslator) TerminalFrame() []byte {
	if t.To == Claude || t.To == Gemini {
		return nil
	}
	return []byte("data: [DONE]\n\n")
}

func sseFrame(event string, data []byte) []byte {
	if event == "" {
		return append(append([]byte("data: "), data...), []byte("\n\n")...)
	}
	out := "event: " + event + "\n"
	return append([]byte(out), append([]byte("data: "), append(data, []byte("\n\n")...)...)...)
}

// --- Claude lift/lower ---

func liftClaudeChunk(eventName string, data []byte) []StreamEvent {
	root := gjson.ParseBytes(data)
	switch eventName {
	case "message_start":
		return []StreamEvent{{Kind: EventMessageStart, Model: root.Get("message.model").String()}}
	case "content_block_start":
		block := root.Get("content_block")
		ev := StreamEvent{Kind: EventContentBlockStart, Index: int(root.Get("index").Int()), BlockKind: BlockKind(block.Get("type").String())}
		if ev.BlockKind == BlockToolUse {
			ev.ToolUseID = block.Get("id").String()
			ev.ToolName = block.Get("name").String()
		}
		return []StreamEvent{ev}
	case "content_block_delta":
		delta := root.Get("delta")
		ev := StreamEvent{Kind: EventContentBlockDelta, Index: int(root.Get("index").Int())}
		switch delta.Get("type").String() {
		case "input_json_delta":
			ev.DeltaKind, ev.DeltaText = DeltaInputJSON, delta.Get("partial_json").String()
		case "thinking_delta":
			ev.DeltaKind, ev.DeltaText = DeltaThinking, delta.Get("thinking").String()
		default:
			ev.DeltaKind, ev.DeltaText = DeltaText, delta.Get("text").String()
		}
		return []StreamEvent{ev}
	case "content_block_stop":
		return []StreamEvent{{Kind: EventContentBlockStop, Index: int(root.Get("index").Int())}}
	case "message_delta":
		return []StreamEvent{{
			Kind: EventMessageDelta, StopReason: claudeStopReason(root.Get("delta.stop_reason").String()),
			Usage: Usage{OutputTokens: root.Get("usage.output_tokens").Int()},
		}}
	case "message_stop":
		return []StreamEvent{{Kind: EventMessageStop}}
	default:
		return nil
	}
}

func (t *StreamTranslator) lowerClaudeEvent(ev StreamEvent) []byte {
	switch ev.Kind {
	case EventMessageStart:
		t.started = true
		data, _ := sjson.Set(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[]}}`, "message.model", t.Model)
		data, _ = sjson.Set(data, "message.id", t.MessageID)
		return sseFrame("message_start", []byte(data))
	case EventContentBlockStart:
		block := map[string]any{"type": string(ev.BlockKind)}
		if ev.BlockKind == BlockToolUse {
			block["id"], block["name"], block["input"] = ev.ToolUseID, ev.ToolName, map[string]any{}
		} else if ev.BlockKind == BlockText {
			block["text"] = ""
		} else if ev.BlockKind == BlockThinking {
			block["thinking"] = ""
		}
		data, _ := sjson.Set(`{"type":"content_block_start"}`, "index", ev.Index)
		data, _ = sjson.Set(data, "content_block", block)
		return sseFrame("content_block_start", []byte(data))
	case EventContentBlockDelta:
		var delta map[string]any
		switch ev.DeltaKind {
		case DeltaInputJSON:
			delta = map[string]any{"type": "input_json_delta", "partial_json": ev.DeltaText}
		case DeltaThinking:
			delta = map[string]any{"type": "thinking_delta", "thinking": ev.DeltaText}
		default:
			delta = map[string]any{"type": "text_delta", "text": ev.DeltaText}
		}
		data, _ := sjson.Set(`{"type":"content_block_delta"}`, "index", ev.Index)
		data, _ = sjson.Set(data, "delta", delta)
		return sseFrame("content_block_delta", []byte(data))
	case EventContentBlockStop:
		data, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", ev.Index)
		return sseFrame("content_block_stop", []byte(data))
	case EventMessageDelta:
		data, _ := sjson.Set(`{"type":"message_delta","delta":{}}`, "delta.stop_reason", stopToClaudeReason(ev.StopReason))
		data, _ = sjson.Set(data, "usage.output_tokens", ev.Usage.OutputTokens)
		return sseFrame("message_delta", []byte(data))
	case EventMessageStop:
		return sseFrame("message_stop", []byte(`{"type":"message_stop"}`))
	default:
		return nil
	}
}

// --- OpenAI lift/lower ---

func liftOpenAIChunk(data []byte) []StreamEvent {
	root := gjson.ParseBytes(data)
	choice := root.Get("choices.0")
	delta := choice.Get("delta")
	var events []StreamEvent

	if role := delta.Get("role"); role.Exists() {
		events = append(events, StreamEvent{Kind: EventMessageStart, Model: root.Get("model").String()})
	}
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		events = append(events, StreamEvent{Kind: EventContentBlockDelta, Index: 0, DeltaKind: DeltaText, DeltaText: content.String()})
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		idx := int(tc.Get("index").Int())
		blockIdx := idx + 1
		if tc.Get("id").Exists() {
			events = append(events, StreamEvent{
				Kind: EventContentBlockStart, Index: blockIdx, BlockKind: BlockToolUse,
				ToolUseID: tc.Get("id").String(), ToolName: tc.Get("function.name").String(),
			})
		}
		if args := tc.Get("function.arguments"); args.Exists() {
			events = append(events, StreamEvent{Kind: EventContentBlockDelta, Index: blockIdx, DeltaKind: DeltaInputJSON, DeltaText: args.String()})
		}
		return true
	})
	if reason := choice.Get("finish_reason"); reason.Exists() && reason.String() != "" {
		events = append(events, StreamEvent{Kind: EventMessageDelta, StopReason: openAIFinishToStop(reason.String()), Usage: Usage{
			InputTokens: root.Get("usage.prompt_tokens").Int(), OutputTokens: root.Get("usage.completion_tokens").Int(),
		}})
		events = append(events, StreamEvent{Kind: EventMessageStop})
	}
	return events
}

func (t *StreamTranslator) lowerOpenAIEvent(ev StreamEvent) []byte {
	switch ev.Kind {
	case EventMessageStart:
		t.started = true
		data, _ := sjson.Set(`{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`, "model", t.Model)
		data, _ = sjson.Set(data, "id", t.MessageID)
		return sseFrame("", []byte(data))
	case EventContentBlockStart:
		if ev.BlockKind != BlockToolUse {
			return nil
		}
		t.openaiIdx[ev.Index] = len(t.openaiIdx)
		tc := map[string]any{"index": t.openaiIdx[ev.Index], "id": ev.ToolUseID, "type": "function", "function": map[string]any{"name": ev.ToolName, "arguments": ""}}
		out := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[]}}]}`
		out, _ = sjson.Set(out, "model", t.Model)
		out, _ = sjson.Set(out, "choices.0.delta.tool_calls.-1", tc)
		return sseFrame("", []byte(out))
	case EventContentBlockDelta:
		out := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
		out, _ = sjson.Set(out, "model", t.Model)
		switch ev.DeltaKind {
		case DeltaInputJSON:
			idx, ok := t.openaiIdx[ev.Index]
			if !ok {
				idx = 0
			}
			tc := map[string]any{"index": idx, "function": map[string]any{"arguments": ev.DeltaText}}
			out, _ = sjson.Set(out, "choices.0.delta.tool_calls.-1", tc)
		case DeltaThinking:
			out, _ = sjson.Set(out, "choices.0.delta.content", "")
			out, _ = sjson.Set(out, "choices.0.delta.reasoning_content", ev.DeltaText)
		default:
			out, _ = sjson.Set(out, "choices.0.delta.content", ev.DeltaText)
		}
		return sseFrame("", []byte(out))
	case EventContentBlockStop:
		return nil
	case EventMessageDelta:
		t.stopReason = ev.StopReason
		t.usage = ev.Usage
		return nil
	case EventMessageStop:
		out := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
		out, _ = sjson.Set(out, "model", t.Model)
		out, _ = sjson.Set(out, "choices.0.finish_reason", stopToOpenAIFinish(t.stopReason))
		out, _ = sjson.Set(out, "usage.prompt_tokens", t.usage.InputTokens)
		out, _ = sjson.Set(out, "usage.completion_tokens", t.usage.OutputTokens)
		return sseFrame("", []byte(out))
	default:
		return nil
	}
}

// --- Gemini lift/lower ---

func liftGeminiChunk(data []byte) []StreamEvent {
	root := gjson.ParseBytes(data)
	cand := root.Get("candidates.0")
	var events []StreamEvent
	if !cand.Exists() {
		return nil
	}
	cand.Get("content.parts").ForEach(func(i int, part gjson.Result) bool {
		if fc := part.Get("functionCall"); fc.Exists() {
			events = append(events,
				StreamEvent{Kind: EventContentBlockStart, Index: i + 1, BlockKind: BlockToolUse, ToolName: fc.Get("name").String()},
				StreamEvent{Kind: EventContentBlockDelta, Index: i + 1, DeltaKind: DeltaInputJSON, DeltaText: fc.Get("args").Raw},
				StreamEvent{Kind: EventContentBlockStop, Index: i + 1},
			)
			return true
		}
		if text := part.Get("text"); text.Exists() {
			events = append(events, StreamEvent{Kind: EventContentBlockDelta, Index: 0, DeltaKind: DeltaText, DeltaText: text.String()})
		}
		return true
	})
	if reason := cand.Get("finishReason"); reason.Exists() && reason.String() != "" {
		events = append(events, StreamEvent{Kind: EventMessageDelta, StopReason: geminiFinishToStop(reason.String(), nil), Usage: Usage{
			InputTokens: root.Get("usageMetadata.promptTokenCount").Int(), OutputTokens: root.Get("usageMetadata.candidatesTokenCount").Int(),
		}})
		events = append(events, StreamEvent{Kind: EventMessageStop})
	}
	return events
}

func (t *StreamTranslator) lowerGeminiEvent(ev StreamEvent) []byte {
	switch ev.Kind {
	case EventMessageStart:
		t.started = true
		return nil
	case EventContentBlockStart:
		return nil
	case EventContentBlockDelta:
		var part map[string]any
		switch ev.DeltaKind {
		case DeltaInputJSON:
			var args any = gjson.Parse(orEmptyObject(ev.DeltaText)).Value()
			part = map[string]any{"functionCall": map[string]any{"args": args}}
		default:
			part = map[string]any{"text": ev.DeltaText}
		}
		out := `{"candidates":[{"index":0,"content":{"role":"model","parts":[]}}]}`
		out, _ = sjson.Set(out, "modelVersion", t.Model)
		out, _ = sjson.Set(out, "candidates.0.content.parts.-1", part)
		return sseFrame("", []byte(out))
	case EventContentBlockStop:
		return nil
	case EventMessageDelta:
		t.stopReason = ev.StopReason
		t.usage = ev.Usage
		return nil
	case EventMessageStop:
		out := `{"candidates":[{"index":0,"content":{"role":"model","parts":[]}}]}`
		out, _ = sjson.Set(out, "modelVersion", t.Model)
		out, _ = sjson.Set(out, "candidates.0.finishReason", stopToGeminiFinish(t.stopReason))
		out, _ = sjson.Set(out, "usageMetadata.promptTokenCount", t.usage.InputTokens)
		out, _ = sjson.Set(out, "usageMetadata.candidatesTokenCount", t.usage.OutputTokens)
		return sseFrame("", []byte(out))
	default:
		return nil
	}
}

// ParseSSELine splits a raw SSE wire line into its event name (if the
// preceding "event:" line supplied one) and data payload, reporting done for
// the OpenAI terminal "[DONE]" marker.
func ParseSSELine(eventName string, line []byte) (name string, data []byte, done bool) {
	trimmed := strings.TrimPrefix(string(line), "data:")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "[DONE]" {
		return eventName, nil, true
	}
	return eventName, []byte(trimmed), false
}
