package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// WarpCodec encodes a canonical request/chunk to Warp's protobuf wire shape
// and decodes its responses back. The schema itself is an external given
// (§1 Non-goals); this adapter only owns the HTTP/2 transport and the
// request/response/stream lifecycle around whatever codec is supplied.
type WarpCodec interface {
	EncodeRequest(model string, openAIBody []byte) ([]byte, error)
	DecodeUnary(wire []byte) (openAIBody []byte, err error)
	DecodeStreamFrame(wire []byte) (openAIChunk []byte, final bool, err error)
}

// WarpAdapter talks to the Warp coding-agent backend over a protobuf
// envelope carried by HTTP/2. Its catalog and wire bodies are OpenAI-shaped
// so the rest of the pipeline treats it as just another openai-family
// upstream once decoded.
type WarpAdapter struct {
	baseURL string
	codec   WarpCodec
	client  *http.Client
}

// NewWarpAdapter constructs the Warp adapter. codec may be nil only in
// configurations where Warp is disabled; a nil codec fails every call.
func NewWarpAdapter(baseURL string, codec WarpCodec) *WarpAdapter {
	transport := &http2.Transport{
		TLSClientConfig: &tls.Config{NextProtos: []string{"h2"}},
	}
	return &WarpAdapter{
		baseURL: baseURL,
		codec:   codec,
		client:  &http.Client{Transport: transport, Timeout: 120 * time.Second},
	}
}

func (a *WarpAdapter) Identifier() string { return "warp" }

func (a *WarpAdapter) ListModels(ctx context.Context, cred Credential) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/graphql/models", nil)
	if err != nil {
		return nil, err
	}
	a.attachAuth(req, cred)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warp: list models: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return defaultModelsFromBody(body), nil
}

func (a *WarpAdapter) GenerateContent(ctx context.Context, cred Credential, model string, body []byte) ([]byte, error) {
	if a.codec == nil {
		return nil, fmt.Errorf("warp: no codec configured")
	}
	wire, err := a.codec.EncodeRequest(model, body)
	if err != nil {
		return nil, fmt.Errorf("warp: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/ai-service/prompt", bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	a.attachAuth(req, cred)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warp: request failed: %w", err)
	}
	defer resp.Body.Close()
	respWire, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respWire)}
	}
	return a.codec.DecodeUnary(respWire)
}

func (a *WarpAdapter) GenerateContentStream(ctx context.Context, cred Credential, model string, body []byte) (<-chan StreamChunk, error) {
	if a.codec == nil {
		return nil, fmt.Errorf("warp: no codec configured")
	}
	wire, err := a.codec.EncodeRequest(model, body)
	if err != nil {
		return nil, fmt.Errorf("warp: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/ai-service/prompt_stream", bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept", "application/x-protobuf-stream")
	a.attachAuth(req, cred)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warp: stream request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			frame, err := readLengthPrefixedFrame(resp.Body)
			if err == io.EOF {
				return
			}
			if err != nil {
				out <- StreamChunk{Err: err}
				return
			}
			chunk, final, err := a.codec.DecodeStreamFrame(frame)
			if err != nil {
				out <- StreamChunk{Err: err}
				return
			}
			if len(chunk) > 0 {
				select {
				case out <- StreamChunk{Data: chunk}:
				case <-ctx.Done():
					return
				}
			}
			if final {
				return
			}
		}
	}()
	return out, nil
}

func (a *WarpAdapter) attachAuth(req *http.Request, cred Credential) {
	if cred.OAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.OAuthToken)
		return
	}
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)
}

// readLengthPrefixedFrame reads one gRPC-style length-prefixed frame (a
// 1-byte compression flag, a 4-byte big-endian length, then the payload) —
// the framing HTTP/2 streaming protobuf services conventionally use.
func readLengthPrefixedFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	length := int(header[1])<<24 | int(header[2])<<16 | int(header[3])<<8 | int(header[4])
	if length < 0 || length > streamScannerBuffer {
		return nil, fmt.Errorf("warp: implausible frame length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
