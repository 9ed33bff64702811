package provider

import (
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// LoadCredentialFile reads a per-provider credential file (§6 "Credential
// files") and extracts whichever fields it carries: an API key, an OAuth
// access/refresh token pair, and an ISO-8601 expiry. Any field absent from
// the file is returned zero-valued; callers fall back to pool-config values.
func LoadCredentialFile(path string) (apiKey, oauthToken, oauthRefresh string, expiresAt time.Time, err error) {
	if path == "" {
		return "", "", "", time.Time{}, nil
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return "", "", "", time.Time{}, readErr
	}
	root := gjson.ParseBytes(data)
	apiKey = firstField(root, "api_key", "apiKey", "key")
	oauthToken = firstField(root, "access_token", "accessToken", "token", "cookie")
	oauthRefresh = firstField(root, "refresh_token", "refreshToken")
	if exp := firstField(root, "expires_at", "expiresAt"); exp != "" {
		if t, parseErr := time.Parse(time.RFC3339, exp); parseErr == nil {
			expiresAt = t
		}
	}
	return apiKey, oauthToken, oauthRefresh, expiresAt, nil
}

func firstField(root gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := root.Get(k); v.Exists() {
			return v.String()
		}
	}
	return ""
}
