// Package dispatch implements the Request Dispatcher (C11): it classifies
// each inbound HTTP request by endpoint and dialect, authorizes it, routes
// it to a provider, converts the wire body if dialects differ, drives the
// selected Adapter, and streams or returns the translated response.
package dispatch

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmgatewaycore/gateway/internal/accountpolicy"
	"github.com/llmgatewaycore/gateway/internal/dialect"
	"github.com/llmgatewaycore/gateway/internal/gwconfig"
	"github.com/llmgatewaycore/gateway/internal/lifecycle"
	applogging "github.com/llmgatewaycore/gateway/internal/logging"
	"github.com/llmgatewaycore/gateway/internal/pool"
	"github.com/llmgatewaycore/gateway/internal/provider"
	"github.com/llmgatewaycore/gateway/internal/risk"
	"github.com/llmgatewaycore/gateway/internal/signal"
	"github.com/llmgatewaycore/gateway/internal/telemetry"
	"github.com/llmgatewaycore/gateway/internal/wsagent"
	log "github.com/sirupsen/logrus"
)

const maxRetryAttempts = 3

// Dispatcher wires every explicit dependency (risk, pool, registry, config)
// through request handlers, per the "global singletons -> explicit
// dependency injection" redesign.
type Dispatcher struct {
	cfg             *gwconfig.Config
	registry        *provider.Registry
	pools           *pool.Manager
	risk            *risk.Manager
	store           *lifecycle.Store
	ws              *wsagent.Adapter
	sender          *telemetry.Sender
	providers       []string
	defaultProvider string
	warpCatalog     func() []string
}

// New constructs a Dispatcher from its explicit collaborators.
func New(cfg *gwconfig.Config, registry *provider.Registry, pools *pool.Manager, riskMgr *risk.Manager, store *lifecycle.Store, ws *wsagent.Adapter, sender *telemetry.Sender) *Dispatcher {
	return &Dispatcher{
		cfg:             cfg,
		registry:        registry,
		pools:           pools,
		risk:            riskMgr,
		store:           store,
		ws:              ws,
		sender:          sender,
		providers:       cfg.Providers,
		defaultProvider: cfg.DefaultProvider,
	}
}

// WithWarpCatalog installs a lazy accessor for the Warp model catalog,
// consulted by provider-selection step 3 before the substring heuristics.
func (d *Dispatcher) WithWarpCatalog(f func() []string) *Dispatcher {
	d.warpCatalog = f
	return d
}

// RegisterRoutes mounts every endpoint from the §6 inbound HTTP table.
func (d *Dispatcher) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/chat/completions", d.authMiddleware(), d.handleOpenAIChat)
	r.POST("/v1/responses", d.authMiddleware(), d.handleOpenAIResponses)
	r.POST("/v1/messages", d.authMiddleware(), d.handleClaudeMessage)
	r.POST("/v1beta/models/:modelAction", d.authMiddleware(), d.handleGeminiContent)
	r.GET("/v1/models", d.authMiddleware(), d.handleOpenAIModelList)
	r.GET("/v1beta/models", d.authMiddleware(), d.handleGeminiModelList)
}

// authMiddleware enforces §6's four accepted credential carriers.
func (d *Dispatcher) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(
			c.GetHeader("Authorization"),
			c.Query("key"),
			c.GetHeader("x-goog-api-key"),
			c.GetHeader("x-api-key"),
		)
		if key == "" || key != d.cfg.RequiredAPIKey {
			writeError(c, errAuthRequired())
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeError(c *gin.Context, e *apiError) {
	if e.Retry != "" {
		c.Header("Retry-After", e.Retry)
	}
	c.JSON(e.Status, errorBody(e))
}

// authStyleFor reports whether a provider's auth_invalid signal is fixed by
// an OAuth token refresh or means the credential is permanently dead.
func authStyleFor(providerType string) accountpolicy.AuthStyle {
	switch providerType {
	case "kiro", "qwen", "orchids":
		return accountpolicy.AuthStyleOAuth
	default:
		return accountpolicy.AuthStyleBearer
	}
}

// buildCredential assembles the adapter-facing Credential for one pool
// entry, merging the static pool config with whatever the credential file
// on disk carries (access/refresh token, expiry).
func (d *Dispatcher) buildCredential(providerType, uuid string) (provider.Credential, error) {
	var found *pool.CredentialConfig
	for _, e := range d.pools.Entries(providerType) {
		if e.Config.UUID == uuid {
			cfg := e.Config
			found = &cfg
			break
		}
	}
	if found == nil {
		return provider.Credential{}, fmt.Errorf("dispatch: credential %s/%s not found", providerType, uuid)
	}

	apiKey, oauthToken, oauthRefresh, expiresAt, err := provider.LoadCredentialFile(found.CredentialFile)
	if err != nil && !os.IsNotExist(err) {
		log.Warnf("dispatch: reading credential file %s: %v", found.CredentialFile, err)
	}
	if apiKey == "" {
		apiKey = found.Extra["api_key"]
	}

	proxyURL := found.ProxyURL
	if proxyURL == "" {
		proxyURL = d.cfg.ProviderProxyURLs[providerType]
	}

	return provider.Credential{
		ProviderType:   providerType,
		UUID:           uuid,
		APIKey:         apiKey,
		OAuthToken:     oauthToken,
		OAuthRefresh:   oauthRefresh,
		OAuthExpiresAt: expiresAt,
		AccountID:      found.AccountID,
		ProxyURL:       proxyURL,
		EndpointBase:   found.EndpointOverride,
		CredentialFile: found.CredentialFile,
		Extra:          found.Extra,
	}, nil
}

// logPrompt appends one framed entry to the configured inbound/outbound
// prompt log file, silently skipping when no path is configured.
func (d *Dispatcher) logPrompt(path, direction, body string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warnf("dispatch: prompt log %s: %v", path, err)
		return
	}
	defer f.Close()
	_, _ = f.WriteString(dialect.PromptLogEntry(direction, body, time.Now()))
}

// classifyAndRemediate normalizes an upstream failure, applies Provider
// Account Policy, and updates the Risk/Pool managers accordingly. It
// returns whether the dispatcher may retry with another credential.
func (d *Dispatcher) classifyAndRemediate(credID lifecycle.CredentialID, providerType, uuid string, upstreamErr *provider.UpstreamError, retryAttempt int, reqCtx risk.Context) bool {
	in := signal.Input{Message: upstreamErr.Error(), ResponseBody: upstreamErr.Body}
	if upstreamErr != nil {
		in.StatusCode = upstreamErr.StatusCode
	}
	obs := signal.Classify(in, signal.Hint{})
	identity := accountpolicy.Identity{ProviderType: providerType, AuthStyle: authStyleFor(providerType)}

	var headers accountpolicy.ResponseHeaders
	if upstreamErr != nil && upstreamErr.Headers != nil {
		headers = accountpolicy.ResponseHeaders{
			RetryAfter:        upstreamErr.Headers.Get("Retry-After"),
			RateLimitResetRaw: upstreamErr.Headers.Get("x-ratelimit-reset"),
		}
	}
	defaults := accountpolicy.DefaultDefaults()
	if d.cfg != nil && d.cfg.Cooldowns.Quota > 0 {
		defaults.QuotaCooldown.Duration = d.cfg.Cooldowns.Quota
	}
	if d.cfg != nil && d.cfg.Cooldowns.Rate > 0 {
		defaults.RateCooldown.Duration = d.cfg.Cooldowns.Rate
	}
	decision := accountpolicy.Evaluate(obs, identity, retryAttempt, defaults, headers, accountpolicy.Hints{})

	_ = d.risk.ObserveError(credID, in, signal.Hint{}, reqCtx)

	switch {
	case decision.MarkUnhealthyImmediately:
		_ = d.pools.MarkProviderUnhealthyImmediately(providerType, uuid, upstreamErr.Error())
	case decision.MarkUnhealthy:
		_ = d.pools.MarkProviderUnhealthy(providerType, uuid, upstreamErr.Error(), 0)
	case !decision.CooldownUntil.IsZero():
		_ = d.pools.ApplyProviderCooldown(providerType, uuid, pool.CooldownSpec{CooldownUntil: decision.CooldownUntil})
	}
	if decision.MarkNeedRefresh {
		_ = d.pools.MarkProviderNeedRefresh(providerType, uuid)
	}

	return decision.Retryable
}

// pickCredential runs admission + selection for providerType, excluding any
// uuid already tried this request.
func (d *Dispatcher) pickCredential(providerType string, tried map[string]bool) (string, lifecycle.CredentialID, error) {
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		uuid, err := d.pools.Select(providerType)
		if err != nil {
			return "", "", err
		}
		if tried[uuid] {
			continue
		}
		credID := lifecycle.NewCredentialID(providerType, uuid)
		admission := d.risk.Admission(credID)
		if admission.Blocked {
			tried[uuid] = true
			continue
		}
		return uuid, credID, nil
	}
	return "", "", fmt.Errorf("dispatch: no admissible credential for provider %s", providerType)
}

// modelForEndpoint extracts model, stream-flag, and brand prefix for one
// inbound request, folding in the URL-carried values for Gemini.
func modelForEndpoint(family dialect.Family, body []byte, pathModel string, pathIsStream bool) (cleanModel, brand string, stream bool) {
	strategy := dialect.ForFamily(family)
	info := strategy.ExtractModelAndStreamInfo(body)
	model, isStream := info.Model, info.IsStream
	if family == dialect.Gemini {
		model, isStream = pathModel, pathIsStream
	}
	clean, b := dialect.StripBrandPrefix(model)
	return clean, b, isStream
}

func requestIDFrom(c *gin.Context) string {
	return applogging.RequestIDFromGin(c)
}
