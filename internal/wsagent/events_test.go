package wsagent

import (
	"testing"

	"github.com/llmgatewaycore/gateway/internal/convert"
)

func TestTranslateTextDeltaOpensAndEmitsBlock(t *testing.T) {
	s := newTranslatorState(nil)
	events := s.translate([]byte(`{"type":"output_text_delta","delta":"hello"}`))
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (start + delta)", len(events))
	}
	if events[0].Kind != convert.EventContentBlockStart || events[0].BlockKind != convert.BlockText {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Kind != convert.EventContentBlockDelta || events[1].DeltaText != "hello" {
		t.Errorf("events[1] = %+v", events[1])
	}
}

func TestTranslateHighLevelEventGatesOutLowLevelDuplicate(t *testing.T) {
	s := newTranslatorState(nil)
	// A high-level coding_agent.* reasoning event arrives first.
	if out := s.translate([]byte(`{"type":"coding_agent.reasoning.started"}`)); len(out) != 1 {
		t.Fatalf("high level reasoning.started events = %+v", out)
	}
	// A subsequent low-level reasoning-start event must be discarded.
	if out := s.translate([]byte(`{"type":"reasoning-start"}`)); out != nil {
		t.Errorf("low-level duplicate after high-level gate should be discarded, got %+v", out)
	}
}

func TestTranslateToolLifecycle(t *testing.T) {
	s := newTranslatorState([]ClientTool{{Name: "bash"}})

	start := s.translate([]byte(`{"type":"tool-input-start","id":"t1","name":"run_command"}`))
	if len(start) != 1 || start[0].ToolName != "bash" {
		t.Fatalf("startTool events = %+v, want mapped name bash", start)
	}
	idx := start[0].Index

	delta := s.translate([]byte(`{"type":"tool-input-delta","id":"t1","partial_json":"{\"command\":\"ls\"}"}`))
	if len(delta) != 1 || delta[0].DeltaText != `{"command":"ls"}` || delta[0].Index != idx {
		t.Fatalf("deltaTool events = %+v", delta)
	}

	end := s.translate([]byte(`{"type":"tool-input-end","id":"t1"}`))
	if len(end) != 1 || end[0].Kind != convert.EventContentBlockStop || end[0].Index != idx {
		t.Fatalf("endTool events = %+v", end)
	}
}

func TestTranslateToolEndWithoutDeltaUsesAccumulatedInput(t *testing.T) {
	s := newTranslatorState(nil)
	s.translate([]byte(`{"type":"tool-input-start","id":"t1","name":"read"}`))
	end := s.translate([]byte(`{"type":"tool-input-end","id":"t1","input":{"path":"a.txt"}}`))
	if len(end) != 2 {
		t.Fatalf("endTool without prior delta should emit a synthesized delta + stop, got %+v", end)
	}
	if end[0].Kind != convert.EventContentBlockDelta || end[0].DeltaText != `{"path":"a.txt"}` {
		t.Errorf("synthesized delta = %+v", end[0])
	}
}

func TestTranslateEditLifecycle(t *testing.T) {
	s := newTranslatorState(nil)
	s.translate([]byte(`{"type":"edit_file.started","id":"e1","file_path":"main.go"}`))
	s.translate([]byte(`{"type":"edit_file.chunk","id":"e1","text":"new content"}`))
	events := s.translate([]byte(`{"type":"edit_file.completed","id":"e1","old_string":"old"}`))
	if len(events) != 2 {
		t.Fatalf("completeEdit events = %+v", events)
	}
	if events[0].DeltaText == "" {
		t.Error("expected a non-empty synthesized edit input delta")
	}
}

func TestTranslateFinishWithPendingToolsForcesToolUseStopReason(t *testing.T) {
	s := newTranslatorState(nil)
	s.translate([]byte(`{"type":"tool-input-start","id":"t1","name":"read"}`))
	events := s.translate([]byte(`{"type":"response_done","finish":"stop"}`))
	var delta *convert.StreamEvent
	for i := range events {
		if events[i].Kind == convert.EventMessageDelta {
			delta = &events[i]
		}
	}
	if delta == nil {
		t.Fatal("expected a message_delta event")
	}
	if delta.StopReason != convert.StopToolUse {
		t.Errorf("StopReason = %v, want tool_use since a tool block is still open", delta.StopReason)
	}
}

func TestTranslateFinishClosesOpenTextBlock(t *testing.T) {
	s := newTranslatorState(nil)
	s.translate([]byte(`{"type":"output_text_delta","delta":"hi"}`))
	events := s.translate([]byte(`{"type":"end","finish":"stop"}`))
	if events[0].Kind != convert.EventContentBlockStop {
		t.Errorf("first finish event = %+v, want content_block_stop for the open text block", events[0])
	}
}

func TestTranslateTokensUsedAccumulates(t *testing.T) {
	s := newTranslatorState(nil)
	if out := s.translate([]byte(`{"type":"tokens_used","input_tokens":10,"output_tokens":5}`)); out != nil {
		t.Errorf("tokens_used should not itself emit an event, got %+v", out)
	}
	if s.usage.InputTokens != 10 || s.usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", s.usage)
	}
}

func TestTranslateTodoWrite(t *testing.T) {
	s := newTranslatorState(nil)
	events := s.translate([]byte(`{"type":"todo_write.started","todos":[{"text":"a"}]}`))
	if len(events) != 3 {
		t.Fatalf("todoWrite events = %+v", events)
	}
	if events[0].ToolName != "TodoWrite" {
		t.Errorf("ToolName = %q, want TodoWrite", events[0].ToolName)
	}
}
