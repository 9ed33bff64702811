package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirectAdapterGenerateContentAttachesAuthAndReturnsBody(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := NewOpenAIAdapter(srv.URL)
	body, err := a.GenerateContent(context.Background(), Credential{APIKey: "sk-test"}, "gpt-4o", []byte(`{}`))
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestDirectAdapterGenerateContentUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	a := NewOpenAIAdapter(srv.URL)
	_, err := a.GenerateContent(context.Background(), Credential{APIKey: "k"}, "gpt-4o", []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	upErr, ok := err.(*UpstreamError)
	if !ok {
		t.Fatalf("error type = %T, want *UpstreamError", err)
	}
	if upErr.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want 429", upErr.StatusCode)
	}
}

func TestDirectAdapterGenerateContentStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"a\":1}\n\n"))
		w.Write([]byte("data: {\"a\":2}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	a := NewClaudeAdapter(srv.URL)
	ch, err := a.GenerateContentStream(context.Background(), Credential{APIKey: "k"}, "claude-3-opus", []byte(`{}`))
	if err != nil {
		t.Fatalf("GenerateContentStream: %v", err)
	}
	var chunks []string
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("chunk error: %v", c.Err)
		}
		chunks = append(chunks, string(c.Data))
	}
	if len(chunks) != 2 || chunks[0] != `{"a":1}` || chunks[1] != `{"a":2}` {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestDirectAdapterListModelsDefaultParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	a := NewOpenAIAdapter(srv.URL)
	models, err := a.ListModels(context.Background(), Credential{APIKey: "k"})
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0].ID != "gpt-4o" {
		t.Errorf("models = %+v", models)
	}
}

func TestGeminiAdapterModelIDFromDottedName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro"}]}`))
	}))
	defer srv.Close()

	a := NewGeminiAdapter(srv.URL)
	models, err := a.ListModels(context.Background(), Credential{APIKey: "k"})
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gemini-2.5-pro" {
		t.Errorf("models = %+v", models)
	}
}

func TestGeminiAdapterAuthFallsBackToBearerWithoutAPIKey(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := NewGeminiAdapter(srv.URL)
	if _, err := a.GenerateContent(context.Background(), Credential{OAuthToken: "tok"}, "gemini-2.5-pro", []byte(`{}`)); err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if gotKey != "" {
		t.Errorf("x-goog-api-key header set = %q, want empty", gotKey)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestLoadCredentialFileExtractsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cred.json")
	body := `{"access_token":"tok","refresh_token":"ref","expires_at":"2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	apiKey, oauthToken, oauthRefresh, expiresAt, err := LoadCredentialFile(path)
	if err != nil {
		t.Fatalf("LoadCredentialFile: %v", err)
	}
	if apiKey != "" || oauthToken != "tok" || oauthRefresh != "ref" {
		t.Errorf("fields = (%q, %q, %q)", apiKey, oauthToken, oauthRefresh)
	}
	want, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	if !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}
}

func TestLoadCredentialFileEmptyPathIsNoop(t *testing.T) {
	apiKey, oauthToken, oauthRefresh, expiresAt, err := LoadCredentialFile("")
	if err != nil || apiKey != "" || oauthToken != "" || oauthRefresh != "" || !expiresAt.IsZero() {
		t.Errorf("empty path should return all zero values, got (%q,%q,%q,%v,%v)", apiKey, oauthToken, oauthRefresh, expiresAt, err)
	}
}

func TestLoadCredentialFileFallbackFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cred.json")
	if err := os.WriteFile(path, []byte(`{"apiKey":"sk-legacy"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	apiKey, _, _, _, err := LoadCredentialFile(path)
	if err != nil || apiKey != "sk-legacy" {
		t.Errorf("apiKey = %q, err %v", apiKey, err)
	}
}
