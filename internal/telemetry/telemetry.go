// Package telemetry sends a best-effort, fire-and-forget usage summary for
// each completed request. Any transport failure is swallowed: telemetry
// must never affect request handling (§9 Design Notes).
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/llmgatewaycore/gateway/internal/gwconfig"
	log "github.com/sirupsen/logrus"
)

// Summary is the per-request record posted to the configured endpoint.
type Summary struct {
	RequestID    string `json:"request_id"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Dialect      string `json:"dialect"`
	Stream       bool   `json:"stream"`
	StatusCode   int    `json:"status_code"`
	LatencyMS    int64  `json:"latency_ms"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Sender posts Summary records to a configured endpoint, one POST per
// request, without blocking or propagating failures to the caller.
type Sender struct {
	client   *http.Client
	endpoint string
	enabled  bool
}

// NewSender builds a Sender from telemetry configuration. When disabled,
// Send is a no-op.
func NewSender(cfg gwconfig.TelemetryConfig) *Sender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		enabled:  cfg.Enabled && cfg.Endpoint != "",
	}
}

// Send fires the summary in its own goroutine. It never blocks the caller
// and never returns an error; failures are logged at debug level only.
func (s *Sender) Send(summary Summary) {
	if s == nil || !s.enabled {
		return
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			log.WithField("request_id", summary.RequestID).Debugf("telemetry: post failed: %v", err)
			return
		}
		_ = resp.Body.Close()
	}()
}
