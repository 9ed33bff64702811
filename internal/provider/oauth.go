package provider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// fileLocks serializes credential-file rewrites per path so concurrent
// requests sharing one OAuth-brokered credential don't race a token refresh.
var (
	fileLocksMu sync.Mutex
	fileLocks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	fileLocksMu.Lock()
	defer fileLocksMu.Unlock()
	m, ok := fileLocks[path]
	if !ok {
		m = &sync.Mutex{}
		fileLocks[path] = m
	}
	return m
}

// TokenRefresher exchanges a refresh token for a new access token with an
// OAuth-brokered upstream (Kiro, Qwen, Orchids, ...).
type TokenRefresher func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// OAuthAdapter wraps a DirectAdapter, transparently refreshing the access
// token ahead of expiry and persisting the result back to the credential
// file under a per-file lock (§4.9).
type OAuthAdapter struct {
	inner    *DirectAdapter
	refresh  TokenRefresher
	persist  Persist
}

// NewOAuthAdapter builds an OAuth-brokered adapter over an existing direct
// transport (the two share request/stream plumbing; only auth differs).
func NewOAuthAdapter(inner *DirectAdapter, refresh TokenRefresher, persist Persist) *OAuthAdapter {
	return &OAuthAdapter{inner: inner, refresh: refresh, persist: persist}
}

func (a *OAuthAdapter) Identifier() string { return a.inner.cfg.Name }

func (a *OAuthAdapter) ensureFresh(ctx context.Context, cred *Credential) error {
	if !needsRefresh(cred.OAuthExpiresAt) {
		return nil
	}
	lock := lockFor(cred.CredentialFile)
	lock.Lock()
	defer lock.Unlock()

	// Re-check: another goroutine may have refreshed and persisted the
	// credential file while we waited.
	if _, tok, ref, exp, err := LoadCredentialFile(cred.CredentialFile); err == nil && tok != "" && !exp.IsZero() && !needsRefresh(exp) {
		cred.OAuthToken, cred.OAuthExpiresAt = tok, exp
		if ref != "" {
			cred.OAuthRefresh = ref
		}
		return nil
	}
	if !needsRefresh(cred.OAuthExpiresAt) {
		return nil
	}
	tok, err := a.refresh(ctx, cred.OAuthRefresh)
	if err != nil {
		return err
	}
	cred.OAuthToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.OAuthRefresh = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		cred.OAuthExpiresAt = tok.Expiry
	} else {
		cred.OAuthExpiresAt = time.Now().Add(time.Hour)
	}
	if a.persist != nil {
		return a.persist(*cred)
	}
	return nil
}

func (a *OAuthAdapter) ListModels(ctx context.Context, cred Credential) ([]ModelInfo, error) {
	if err := a.ensureFresh(ctx, &cred); err != nil {
		return nil, err
	}
	return a.inner.ListModels(ctx, cred)
}

func (a *OAuthAdapter) GenerateContent(ctx context.Context, cred Credential, model string, body []byte) ([]byte, error) {
	if err := a.ensureFresh(ctx, &cred); err != nil {
		return nil, err
	}
	return a.inner.GenerateContent(ctx, cred, model, body)
}

func (a *OAuthAdapter) GenerateContentStream(ctx context.Context, cred Credential, model string, body []byte) (<-chan StreamChunk, error) {
	if err := a.ensureFresh(ctx, &cred); err != nil {
		return nil, err
	}
	return a.inner.GenerateContentStream(ctx, cred, model, body)
}

// bearerDirectConfig is the common shape shared by the OpenAI-compatible
// OAuth-brokered upstreams: a bearer token on every request, no API key path.
func bearerDirectConfig(name, baseURL, unaryPath, modelsPath string) DirectConfig {
	return DirectConfig{
		Name:       name,
		BaseURL:    baseURL,
		UnaryPath:  func(string) string { return unaryPath },
		ModelsPath: modelsPath,
		AttachAuth: func(req *http.Request, cred Credential) {
			req.Header.Set("Authorization", "Bearer "+cred.OAuthToken)
		},
	}
}

// NewKiroAdapter builds the Kiro OAuth-brokered adapter (OpenAI-compatible
// wire shape) over the given refresher.
func NewKiroAdapter(baseURL string, refresh TokenRefresher, persist Persist) *OAuthAdapter {
	if baseURL == "" {
		baseURL = "https://api.kiro.dev"
	}
	inner := NewDirectAdapter(bearerDirectConfig("kiro", baseURL, "/v1/chat/completions", "/v1/models"))
	return NewOAuthAdapter(inner, refresh, persist)
}

// NewQwenAdapter builds the Qwen OAuth-brokered adapter (OpenAI-compatible
// wire shape) over the given refresher.
func NewQwenAdapter(baseURL string, refresh TokenRefresher, persist Persist) *OAuthAdapter {
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode"
	}
	inner := NewDirectAdapter(bearerDirectConfig("qwen", baseURL, "/v1/chat/completions", "/v1/models"))
	return NewOAuthAdapter(inner, refresh, persist)
}

// NewOrchidsAdapter builds the Orchids OAuth-brokered adapter
// (OpenAI-compatible wire shape) over the given refresher.
func NewOrchidsAdapter(baseURL string, refresh TokenRefresher, persist Persist) *OAuthAdapter {
	inner := NewDirectAdapter(bearerDirectConfig("orchids", baseURL, "/v1/chat/completions", "/v1/models"))
	return NewOAuthAdapter(inner, refresh, persist)
}

// NewOAuth2Refresher builds a TokenRefresher from a standard oauth2.Config,
// exchanging a refresh token via the provider's token endpoint. No browser
// round trip is involved: TokenSource does the refresh_token grant directly.
func NewOAuth2Refresher(conf *oauth2.Config) TokenRefresher {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		return src.Token()
	}
}
