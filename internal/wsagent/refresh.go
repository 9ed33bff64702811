package wsagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

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

// RefreshSession implements the pre-request session-refresh protocol
// (§4.10): read the credential file, exchange the long-lived client cookie
// for a short-lived per-request WS token, and persist the new expiry.
func RefreshSession(ctx context.Context, cfg Config) (Credential, error) {
	lock := lockFor(cfg.CredentialFile)
	lock.Lock()
	defer lock.Unlock()

	cred, err := loadCredential(cfg.CredentialFile)
	if err != nil {
		return Credential{}, err
	}
	if cred.ClientJWT == "" {
		return Credential{}, fmt.Errorf("wsagent: credential file missing client cookie/JWT")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+cfg.SessionListEndpoint, nil)
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Cookie", "__client="+cred.ClientJWT)

	client := &http.Client{Timeout: cfg.ConnectTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("wsagent: session listing request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Credential{}, fmt.Errorf("wsagent: session listing returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, fmt.Errorf("wsagent: read session listing body: %w", err)
	}

	first := gjson.GetBytes(body, "sessions.0")
	if !first.Exists() {
		first = gjson.GetBytes(body, "0")
	}
	if !first.Exists() {
		return Credential{}, fmt.Errorf("wsagent: no sessions returned")
	}

	cred.SessionID = first.Get("id").String()
	cred.UserID = first.Get("user.id").String()
	cred.WSToken = first.Get("last_active_token.jwt").String()
	if cred.WSToken == "" {
		return Credential{}, fmt.Errorf("wsagent: session listing missing last_active_token.jwt")
	}

	cred.TokenExpiresAt = jwtExpiry(cred.WSToken)
	if cred.TokenExpiresAt.IsZero() {
		cred.TokenExpiresAt = time.Now().Add(50 * time.Second)
	}

	if err := saveCredential(cfg.CredentialFile, cred); err != nil {
		return Credential{}, fmt.Errorf("wsagent: persist refreshed session: %w", err)
	}
	return cred, nil
}

func loadCredential(path string) (Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, fmt.Errorf("wsagent: read credential file: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("wsagent: parse credential file: %w", err)
	}
	return cred, nil
}

func saveCredential(path string, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// jwtExpiry decodes the unverified "exp" claim from a compact JWT (the
// adapter only needs an expiry hint, not signature verification).
func jwtExpiry(token string) time.Time {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}
	}
	exp := gjson.GetBytes(payload, "exp")
	if !exp.Exists() {
		return time.Time{}
	}
	return time.Unix(exp.Int(), 0)
}

// wsURL builds the per-request WebSocket URL with the short-lived token.
func wsURL(cfg Config, cred Credential) string {
	base := strings.Replace(cfg.BaseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "?token=" + cred.WSToken
}
