package provider

import (
	"net/http"
	"net/url"
	"time"
)

// streamScannerBuffer is the SSE line-scanner buffer ceiling; upstream
// chunks (especially tool-call argument deltas) can exceed bufio's default.
const streamScannerBuffer = 52_428_800

// newHTTPClient builds a client honoring a per-credential proxy override,
// falling back to the environment when unset.
func newHTTPClient(cred Credential, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cred.ProxyURL != "" {
		if proxyURL, err := url.Parse(cred.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
