package dispatch

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmgatewaycore/gateway/internal/convert"
	"github.com/llmgatewaycore/gateway/internal/dialect"
	"github.com/llmgatewaycore/gateway/internal/lifecycle"
	"github.com/llmgatewaycore/gateway/internal/provider"
	"github.com/llmgatewaycore/gateway/internal/risk"
	"github.com/llmgatewaycore/gateway/internal/signal"
	"github.com/llmgatewaycore/gateway/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func (d *Dispatcher) handleOpenAIChat(c *gin.Context) {
	d.dispatchContent(c, endpointOpenAIChat, dialect.OpenAI, "", false)
}

func (d *Dispatcher) handleOpenAIResponses(c *gin.Context) {
	d.dispatchContent(c, endpointOpenAIResponses, dialect.OpenAIResponses, "", false)
}

func (d *Dispatcher) handleClaudeMessage(c *gin.Context) {
	d.dispatchContent(c, endpointClaudeMessage, dialect.Claude, "", false)
}

func (d *Dispatcher) handleGeminiContent(c *gin.Context) {
	modelAction := c.Param("modelAction")
	pathModel, action := splitModelAction(modelAction)
	d.dispatchContent(c, endpointGeminiContent, dialect.Gemini, pathModel, action == "streamGenerateContent")
}

func splitModelAction(modelAction string) (model, action string) {
	idx := strings.LastIndex(modelAction, ":")
	if idx < 0 {
		return modelAction, ""
	}
	return modelAction[:idx], modelAction[idx+1:]
}

// nativeDialectFor returns the wire dialect a provider's adapter speaks
// natively, so the converter knows which side of the lift/lower to use.
func nativeDialectFor(providerType string) convert.Dialect {
	switch providerType {
	case "claude":
		return convert.Claude
	case "gemini":
		return convert.Gemini
	default:
		return convert.OpenAI
	}
}

// ensureModelField rewrites the outbound body's model field to the
// brand-stripped model id. ConvertRequest is a no-op when the inbound and
// native dialects match, which would otherwise leave a brand-prefixed model
// string (e.g. "[claude] opus-4") in a body routed to a same-dialect provider.
func ensureModelField(nativeDialect convert.Dialect, body []byte, model string) []byte {
	if nativeDialect == convert.Gemini {
		return body
	}
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return body
	}
	return out
}

// dispatchContent implements §4.11 steps 1-8 for one content-generation
// request: routing, admission, conversion, dispatch, and bounded retry.
func (d *Dispatcher) dispatchContent(c *gin.Context, endpoint endpointKind, family dialect.Family, pathModel string, pathIsStream bool) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, errBadRequest("failed to read request body"))
		return
	}

	cleanModel, brand, stream := modelForEndpoint(family, body, pathModel, pathIsStream)
	if cleanModel == "" {
		writeError(c, errBadRequest("missing model"))
		return
	}

	providerType := d.selectProvider(brand, cleanModel)
	requestID := requestIDFrom(c)
	reqCtx := risk.Context{RequestID: requestID, Source: "dispatcher", Model: cleanModel, Streamed: stream}

	inboundStrategy := dialect.ForFamily(family)
	d.logPrompt(d.cfg.Paths.PromptLogInbound, "INPUT", inboundStrategy.ExtractPromptText(body))

	if providerType == "coding_agent" {
		d.dispatchCodingAgent(c, family, cleanModel, body, requestID)
		return
	}

	nativeDialect := nativeDialectFor(providerType)
	convertedBody := convert.ConvertRequest(family, nativeDialect, cleanModel, body, stream)
	convertedBody = ensureModelField(nativeDialect, convertedBody, cleanModel)
	nativeStrategy := dialect.ForFamily(nativeDialect)
	convertedBody = nativeStrategy.ApplySystemPromptFromFile(d.cfg.Paths.SystemPromptFile, convertedBody)

	tried := map[string]bool{}
	start := time.Now()

	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		uuid, credID, err := d.pickCredential(providerType, tried)
		if err != nil {
			writeError(c, errUpstreamUnavailable(err.Error()))
			return
		}
		cred, err := d.buildCredential(providerType, uuid)
		if err != nil {
			writeError(c, errInternal(err.Error()))
			return
		}
		adapter, err := d.registry.Get(providerType)
		if err != nil {
			writeError(c, errBadRequest(err.Error()))
			return
		}

		if stream {
			retryable, handled := d.streamOne(c, adapter, cred, providerType, uuid, credID, cleanModel, convertedBody, family, nativeDialect, attempt, reqCtx, requestID, start)
			if handled {
				return
			}
			tried[uuid] = true
			if !retryable {
				writeError(c, errUpstreamUnavailable("upstream request failed"))
				return
			}
			continue
		}

		respBody, err := adapter.GenerateContent(c.Request.Context(), cred, cleanModel, convertedBody)
		if err != nil {
			retryable := d.handleUpstreamFailure(err, credID, providerType, uuid, attempt, reqCtx)
			tried[uuid] = true
			if !retryable {
				writeError(c, errUpstreamUnavailable(err.Error()))
				return
			}
			continue
		}

		_ = d.risk.ObserveSuccess(credID, reqCtx)
		_ = d.pools.MarkProviderHealthy(providerType, uuid, true)

		translated := convert.ConvertResponse(nativeDialect, family, respBody)
		d.logPrompt(d.cfg.Paths.PromptLogOutbound, "OUTPUT", dialect.ForFamily(family).ExtractResponseText(translated))

		c.Data(http.StatusOK, "application/json", translated)
		d.sendTelemetry(requestID, providerType, cleanModel, string(family), false, http.StatusOK, start, "")
		return
	}

	writeError(c, errUpstreamUnavailable("exhausted retry attempts"))
}

// handleUpstreamFailure normalizes err, applies the remediation table, and
// reports whether the dispatcher may retry with a different credential.
func (d *Dispatcher) handleUpstreamFailure(err error, credID lifecycle.CredentialID, providerType, uuid string, attempt int, reqCtx risk.Context) bool {
	upstreamErr, ok := err.(*provider.UpstreamError)
	if !ok {
		upstreamErr = &provider.UpstreamError{StatusCode: 0, Body: err.Error()}
	}
	return d.classifyAndRemediate(credID, providerType, uuid, upstreamErr, attempt, reqCtx)
}

// streamOne drives a single streaming attempt against one credential. It
// returns (retryable, handled): handled is true once the client has
// received any bytes of the response — a failure past that point can no
// longer be retried with a new credential and is reported inline.
func (d *Dispatcher) streamOne(c *gin.Context, adapter provider.Adapter, cred provider.Credential, providerType, uuid string, credID lifecycle.CredentialID, model string, body []byte, family dialect.Family, nativeDialect convert.Dialect, attempt int, reqCtx risk.Context, requestID string, start time.Time) (retryable, handled bool) {
	ctx := c.Request.Context()
	chunks, err := adapter.GenerateContentStream(ctx, cred, model, body)
	if err != nil {
		return d.handleUpstreamFailure(err, credID, providerType, uuid, attempt, reqCtx), false
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, errInternal("streaming not supported"))
		return false, true
	}

	translator := convert.NewStreamTranslator(nativeDialect, family, model)
	headersSent := false
	setSSEHeaders := func() {
		if headersSent {
			return
		}
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		headersSent = true
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			if !headersSent {
				return d.handleUpstreamFailure(chunk.Err, credID, providerType, uuid, attempt, reqCtx), false
			}
			writeStreamError(c, flusher, chunk.Err)
			_ = d.risk.ObserveError(credID, signal.Input{Message: chunk.Err.Error()}, signal.Hint{}, reqCtx)
			return false, true
		}

		eventName := gjson.GetBytes(chunk.Data, "type").String()
		events := translator.LiftChunk(eventName, chunk.Data)
		for _, ev := range events {
			setSSEHeaders()
			frame := translator.LowerEvent(ev)
			if frame == nil {
				continue
			}
			_, _ = c.Writer.Write(frame)
			flusher.Flush()
			if ev.Kind == convert.EventMessageStop {
				if term := translator.TerminalFrame(); term != nil {
					_, _ = c.Writer.Write(term)
					flusher.Flush()
				}
				_ = d.risk.ObserveSuccess(credID, reqCtx)
				_ = d.pools.MarkProviderHealthy(providerType, uuid, true)
				d.sendTelemetry(requestID, providerType, model, string(family), true, http.StatusOK, start, "")
				return false, true
			}
		}
	}

	if !headersSent {
		return d.handleUpstreamFailure(fmt.Errorf("upstream closed stream without data"), credID, providerType, uuid, attempt, reqCtx), false
	}
	return false, true
}

// writeStreamError reports a mid-stream upstream failure as a trailing JSON
// error object on the same SSE connection, then ends it (§7).
func writeStreamError(c *gin.Context, flusher http.Flusher, err error) {
	payload := fmt.Sprintf(`{"error":{"type":"upstream_unavailable","message":%q}}`, err.Error())
	_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	flusher.Flush()
}

func (d *Dispatcher) dispatchCodingAgent(c *gin.Context, family dialect.Family, model string, body []byte, requestID string) {
	if d.ws == nil {
		writeError(c, errBadRequest("coding_agent provider is not configured"))
		return
	}
	req := convert.LiftRequest(family, body)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, errInternal("streaming not supported"))
		return
	}
	events, err := d.ws.GenerateContentStream(c.Request.Context(), model, req, nil)
	if err != nil {
		writeError(c, errUpstreamUnavailable(err.Error()))
		return
	}

	translator := convert.NewStreamTranslator(convert.Claude, family, model)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for evc := range events {
		if evc.Err != nil {
			log.Warnf("dispatch: coding agent stream error (request %s): %v", requestID, evc.Err)
			continue
		}
		frame := translator.LowerEvent(evc.Event)
		if frame == nil {
			continue
		}
		_, _ = c.Writer.Write(frame)
		flusher.Flush()
	}
}

func (d *Dispatcher) sendTelemetry(requestID, providerType, model, dialectName string, stream bool, status int, start time.Time, errMsg string) {
	if d.sender == nil {
		return
	}
	d.sender.Send(telemetry.Summary{
		RequestID:  requestID,
		Provider:   providerType,
		Model:      model,
		Dialect:    dialectName,
		Stream:     stream,
		StatusCode: status,
		LatencyMS:  time.Since(start).Milliseconds(),
		Error:      errMsg,
	})
}
