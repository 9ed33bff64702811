package wsagent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/llmgatewaycore/gateway/internal/convert"
	"github.com/tidwall/gjson"
)

// EventChunk is one canonical outbound event, or a terminal error, yielded
// by GenerateContentStream.
type EventChunk struct {
	Event convert.StreamEvent
	Err   error
}

// Adapter implements the C10 request lifecycle over a fresh, single-use
// WebSocket per request.
type Adapter struct {
	cfg   Config
	tools *toolExecutor
}

// NewAdapter constructs the WS coding-agent adapter.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, tools: newToolExecutor(cfg)}
}

func (a *Adapter) Identifier() string { return "coding_agent" }

// GenerateContentStream implements the full request lifecycle (§4.10):
// session refresh, socket open, envelope send, receive loop with event
// translation and fs_operation servicing, and guaranteed message_stop.
func (a *Adapter) GenerateContentStream(ctx context.Context, model string, req convert.Request, clientTools []ClientTool) (<-chan EventChunk, error) {
	out := make(chan EventChunk, 16)

	// Step 1: queue message_start first, ahead of the session refresh and
	// socket open, so it is the first event on the channel. The channel is
	// returned only after the envelope is sent; on a setup error it is not
	// returned at all and the caller receives no message_start.
	out <- EventChunk{Event: convert.StreamEvent{Kind: convert.EventMessageStart, Model: model}}

	cred, err := RefreshSession(ctx, a.cfg)
	if err != nil {
		close(out)
		return nil, fmt.Errorf("wsagent: session refresh: %w", err)
	}

	sess, err := dialSession(ctx, a.cfg, cred)
	if err != nil {
		close(out)
		return nil, err
	}

	envelope := buildEnvelope(model, req)
	if err := sess.send(envelope); err != nil {
		sess.close()
		close(out)
		return nil, fmt.Errorf("wsagent: send request envelope: %w", err)
	}

	go a.runLoop(ctx, sess, clientTools, out)
	return out, nil
}

func (a *Adapter) runLoop(ctx context.Context, sess *clientSession, clientTools []ClientTool, out chan<- EventChunk) {
	defer close(out)
	defer sess.close()

	state := newTranslatorState(clientTools)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sess.readErr:
			out <- EventChunk{Err: fmt.Errorf("wsagent: read error: %w", err)}
			for _, ev := range state.finish() {
				out <- EventChunk{Event: ev}
			}
			return
		case raw, ok := <-sess.incoming:
			if !ok {
				for _, ev := range state.finish() {
					out <- EventChunk{Event: ev}
				}
				return
			}
			typ := jsonType(raw)
			if canonicalEventName(typ) == "fs_operation" {
				a.handleFSOperation(ctx, sess, raw)
				continue
			}
			events := state.translate(raw)
			done := false
			for _, ev := range events {
				out <- EventChunk{Event: ev}
				if ev.Kind == convert.EventMessageStop {
					done = true
				}
			}
			if done {
				return
			}
		}
	}
}

// handleFSOperation services an upstream-initiated fs_operation request
// synchronously over the same socket, or ACKs edit ops without executing
// (edits are re-materialized as tool_use blocks instead, per §4.10).
func (a *Adapter) handleFSOperation(ctx context.Context, sess *clientSession, raw []byte) {
	root := gjson.ParseBytes(raw)
	id := root.Get("id").String()
	op := root.Get("op").String()

	if op == "edit" {
		_ = sess.send(map[string]any{"type": "fs_operation_response", "id": id, "success": true})
		return
	}

	var args map[string]any
	if argsRaw := root.Get("args"); argsRaw.Exists() {
		if v, ok := argsRaw.Value().(map[string]any); ok {
			args = v
		}
	}
	result := a.tools.Execute(ctx, op, args)
	resp := map[string]any{"type": "fs_operation_response", "id": id, "success": result.Success}
	if result.Success {
		resp["data"] = result.Data
	} else {
		resp["error"] = result.Error
	}
	_ = sess.send(resp)
}

// buildEnvelope constructs the upstream request envelope: canonical
// messages/tools plus a fresh request id and the requested model.
func buildEnvelope(model string, req convert.Request) map[string]any {
	return map[string]any{
		"type":    "http_request",
		"id":      uuid.NewString(),
		"model":   model,
		"system":  req.System,
		"stream":  true,
		"payload": canonicalRequestToEnvelope(req),
	}
}

func canonicalRequestToEnvelope(req convert.Request) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]map[string]any, 0, len(m.Content))
		for _, c := range m.Content {
			blocks = append(blocks, map[string]any{
				"kind": string(c.Kind), "text": c.Text, "tool_name": c.ToolName,
				"tool_use_id": c.ToolUseID, "input_json": c.InputJSON,
			})
		}
		messages = append(messages, map[string]any{"role": string(m.Role), "content": blocks})
	}
	return map[string]any{"messages": messages}
}
