package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DirectConfig describes one directly-reachable (API-key authenticated)
// upstream: its base URL, endpoint paths, and how it wants credentials
// attached to the outgoing request.
type DirectConfig struct {
	Name            string
	BaseURL         string
	UnaryPath       func(model string) string
	StreamPath      func(model string) string
	ModelsPath      string
	AttachAuth      func(req *http.Request, cred Credential)
	ModelsFromBody  func(body []byte) []ModelInfo
	RequestTimeout  time.Duration
}

// DirectAdapter is a stateless executor for an upstream reachable with a
// plain API key or bearer token — no OAuth refresh cycle (§4.9).
type DirectAdapter struct {
	cfg DirectConfig
}

// NewDirectAdapter constructs an adapter for an upstream described by cfg.
func NewDirectAdapter(cfg DirectConfig) *DirectAdapter {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	return &DirectAdapter{cfg: cfg}
}

func (a *DirectAdapter) Identifier() string { return a.cfg.Name }

func (a *DirectAdapter) ListModels(ctx context.Context, cred Credential) ([]ModelInfo, error) {
	if a.cfg.ModelsPath == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+a.cfg.ModelsPath, nil)
	if err != nil {
		return nil, err
	}
	a.cfg.AttachAuth(req, cred)
	client := newHTTPClient(cred, a.cfg.RequestTimeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", a.cfg.Name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if a.cfg.ModelsFromBody != nil {
		return a.cfg.ModelsFromBody(body), nil
	}
	return defaultModelsFromBody(body), nil
}

func defaultModelsFromBody(body []byte) []ModelInfo {
	var out []ModelInfo
	gjson.GetBytes(body, "data").ForEach(func(_, m gjson.Result) bool {
		out = append(out, ModelInfo{ID: m.Get("id").String(), DisplayName: m.Get("id").String()})
		return true
	})
	if len(out) == 0 {
		gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
			id := m.Get("name").String()
			if id == "" {
				id = m.Get("id").String()
			}
			out = append(out, ModelInfo{ID: id, DisplayName: m.Get("displayName").String()})
			return true
		})
	}
	return out
}

func (a *DirectAdapter) GenerateContent(ctx context.Context, cred Credential, model string, body []byte) ([]byte, error) {
	req, err := a.newRequest(ctx, cred, model, body)
	if err != nil {
		return nil, err
	}
	client := newHTTPClient(cred, a.cfg.RequestTimeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", a.cfg.Name, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody), Headers: resp.Header}
	}
	return respBody, nil
}

func (a *DirectAdapter) GenerateContentStream(ctx context.Context, cred Credential, model string, body []byte) (<-chan StreamChunk, error) {
	req, err := a.newStreamRequest(ctx, cred, model, body)
	if err != nil {
		return nil, err
	}
	client := newHTTPClient(cred, 0)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: stream request failed: %w", a.cfg.Name, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(errBody), Headers: resp.Header}
	}

	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), streamScannerBuffer)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := scanner.Bytes()
			if len(line) == 0 || bytes.HasPrefix(line, []byte(":")) {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
			if string(data) == "[DONE]" {
				return
			}
			chunk := make([]byte, len(data))
			copy(chunk, data)
			select {
			case out <- StreamChunk{Data: chunk}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: err}
		}
	}()
	return out, nil
}

func (a *DirectAdapter) newRequest(ctx context.Context, cred Credential, model string, body []byte) (*http.Request, error) {
	url := a.cfg.BaseURL + a.cfg.UnaryPath(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	a.cfg.AttachAuth(req, cred)
	return req, nil
}

func (a *DirectAdapter) newStreamRequest(ctx context.Context, cred Credential, model string, body []byte) (*http.Request, error) {
	path := a.cfg.UnaryPath(model)
	if a.cfg.StreamPath != nil {
		path = a.cfg.StreamPath(model)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	a.cfg.AttachAuth(req, cred)
	return req, nil
}

// UpstreamError carries an upstream HTTP failure for classification by the
// Error Normalizer (C1).
type UpstreamError struct {
	StatusCode int
	Body       string
	Headers    http.Header
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, truncate(e.Body, 500))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// --- concrete direct adapters ---

// NewOpenAIAdapter builds the direct OpenAI Chat Completions adapter.
func NewOpenAIAdapter(baseURL string) *DirectAdapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return NewDirectAdapter(DirectConfig{
		Name:       "openai",
		BaseURL:    baseURL,
		UnaryPath:  func(string) string { return "/v1/chat/completions" },
		ModelsPath: "/v1/models",
		AttachAuth: func(req *http.Request, cred Credential) {
			req.Header.Set("Authorization", "Bearer "+cred.APIKey)
		},
	})
}

// NewClaudeAdapter builds the direct Anthropic Messages adapter.
func NewClaudeAdapter(baseURL string) *DirectAdapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return NewDirectAdapter(DirectConfig{
		Name:       "claude",
		BaseURL:    baseURL,
		UnaryPath:  func(string) string { return "/v1/messages" },
		ModelsPath: "/v1/models",
		AttachAuth: func(req *http.Request, cred Credential) {
			req.Header.Set("x-api-key", cred.APIKey)
			req.Header.Set("anthropic-version", "2023-06-01")
		},
	})
}

// NewGeminiAdapter builds the direct Google Generative Language adapter.
// Gemini carries the model and stream mode in the URL path, so model must
// be the clean (brand-stripped) model id the dispatcher resolved.
func NewGeminiAdapter(baseURL string) *DirectAdapter {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return NewDirectAdapter(DirectConfig{
		Name:    "gemini",
		BaseURL: baseURL,
		UnaryPath: func(model string) string {
			return "/v1beta/models/" + model + ":generateContent"
		},
		StreamPath: func(model string) string {
			return "/v1beta/models/" + model + ":streamGenerateContent?alt=sse"
		},
		ModelsPath: "/v1beta/models",
		AttachAuth: func(req *http.Request, cred Credential) {
			if cred.APIKey != "" {
				req.Header.Set("x-goog-api-key", cred.APIKey)
				return
			}
			req.Header.Set("Authorization", "Bearer "+cred.OAuthToken)
		},
		ModelsFromBody: func(body []byte) []ModelInfo {
			var out []ModelInfo
			gjson.GetBytes(body, "models").ForEach(func(_, m gjson.Result) bool {
				id := modelIDFromDotted(m.Get("name").String())
				out = append(out, ModelInfo{ID: id, DisplayName: m.Get("displayName").String()})
				return true
			})
			return out
		},
	})
}

// modelIDFromDotted is a small helper some model catalogs need: Gemini's
// ListModels returns "models/gemini-2.5-pro"-shaped names.
func modelIDFromDotted(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
