// Package provider implements the Service Adapters (C9): one per upstream,
// each exposing the same three operations over native-dialect bytes so the
// dispatcher and converter never need upstream-specific knowledge.
package provider

import (
	"context"
	"time"
)

// ModelInfo is one entry of a dialect-appropriate model catalog.
type ModelInfo struct {
	ID          string
	DisplayName string
	Raw         map[string]any
}

// StreamChunk is one native-dialect chunk yielded by GenerateContentStream,
// or a terminal error.
type StreamChunk struct {
	Data []byte
	Err  error
}

// Credential is the adapter-facing view of a pool credential: enough to
// authenticate and route a single request. Persisting a token refresh is
// done through the Persist callback given to the OAuth adapter.
type Credential struct {
	ProviderType   string
	UUID           string
	APIKey         string
	OAuthToken     string
	OAuthRefresh   string
	OAuthExpiresAt time.Time
	AccountID      string
	ProxyURL       string
	EndpointBase   string
	CredentialFile string
	Extra          map[string]string
}

// Persist is called by OAuth-brokered adapters after a token refresh so the
// new token/expiry is written back under a per-file lock.
type Persist func(cred Credential) error

// Adapter is the uniform contract every upstream implements (§4.9).
type Adapter interface {
	// Identifier names the adapter's provider family, e.g. "openai", "claude".
	Identifier() string

	// ListModels returns the adapter's native-dialect model catalog.
	ListModels(ctx context.Context, cred Credential) ([]ModelInfo, error)

	// GenerateContent performs a unary call, returning the upstream's raw
	// native-dialect response body.
	GenerateContent(ctx context.Context, cred Credential, model string, body []byte) ([]byte, error)

	// GenerateContentStream returns a lazy, finite, non-restartable channel
	// of upstream-native chunks. Closing ctx terminates the upstream
	// connection; the channel is always closed when the stream ends.
	GenerateContentStream(ctx context.Context, cred Credential, model string, body []byte) (<-chan StreamChunk, error)
}

// refreshThreshold is how close to expiry a token must be before an adapter
// proactively refreshes it ahead of a request (§4.9).
const refreshThreshold = 2 * time.Minute

func needsRefresh(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Until(expiresAt) < refreshThreshold
}
