// Package gateway assembles every component package into a runnable
// Service: lifecycle store, risk manager, pool manager, provider registry,
// the WS coding-agent adapter, and the request dispatcher's Gin routes.
// It mirrors the teacher's sdk/cliproxy Builder/Service split so the core
// can be embedded as a library instead of only driven from cmd/gateway.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmgatewaycore/gateway/internal/dispatch"
	"github.com/llmgatewaycore/gateway/internal/gwconfig"
	"github.com/llmgatewaycore/gateway/internal/lifecycle"
	applogging "github.com/llmgatewaycore/gateway/internal/logging"
	"github.com/llmgatewaycore/gateway/internal/pool"
	"github.com/llmgatewaycore/gateway/internal/policy"
	"github.com/llmgatewaycore/gateway/internal/provider"
	"github.com/llmgatewaycore/gateway/internal/risk"
	"github.com/llmgatewaycore/gateway/internal/telemetry"
	"github.com/llmgatewaycore/gateway/internal/wsagent"
	log "github.com/sirupsen/logrus"
)

// RegistryFactory builds the provider Registry from the loaded config.
// Callers override this in tests to register fakes instead
// of the real network-reaching adapters.
type RegistryFactory func(cfg *gwconfig.Config) *provider.Registry

// Builder constructs a Service with a fluent interface, following the
// teacher's sdk/cliproxy.Builder pattern: every collaborator has a
// sensible default, and any can be overridden before Build.
type Builder struct {
	cfg             *gwconfig.Config
	registryFactory RegistryFactory
	wsAdapter       *wsagent.Adapter
}

// NewBuilder creates a Builder with no configuration; WithConfig is
// required before Build.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the gateway configuration record.
func (b *Builder) WithConfig(cfg *gwconfig.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithRegistryFactory overrides how the provider Registry is constructed,
// e.g. to wire fake adapters in tests.
func (b *Builder) WithRegistryFactory(f RegistryFactory) *Builder {
	b.registryFactory = f
	return b
}

// WithWSAdapter overrides the WS coding-agent adapter instance.
func (b *Builder) WithWSAdapter(a *wsagent.Adapter) *Builder {
	b.wsAdapter = a
	return b
}

// Service is the fully wired gateway: an HTTP server plus the component
// handles a caller may want for out-of-band inspection (the admin surface
// named only by interface in spec §1 is an external collaborator of this
// Service, not implemented here).
type Service struct {
	cfg    *gwconfig.Config
	Engine *gin.Engine

	Store    *lifecycle.Store
	Risk     *risk.Manager
	Pools    *pool.Manager
	Registry *provider.Registry

	httpServer *http.Server
}

// Build validates configuration, constructs every component in dependency
// order, and returns a ready-to-run Service. Nothing is started yet.
func (b *Builder) Build() (*Service, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("gateway: configuration is required")
	}
	cfg := b.cfg

	applogging.Setup(cfg)

	store := lifecycle.NewStore(cfg.Paths.Lifecycle, lifecycle.WithMaxEvents(5000))
	if err := store.LoadFromDisk(); err != nil {
		log.Warnf("gateway: lifecycle store load: %v", err)
	}

	mode, err := parseMode(cfg.Risk.Mode)
	if err != nil {
		return nil, err
	}
	riskMgr := risk.NewManager(store, risk.PolicyConfig{
		Mode:           mode,
		IdentityWindow: cfg.Risk.IdentityWindow,
	})

	pools := pool.NewManager(cfg.Paths.Pools, riskMgr)
	if err := pools.Load(); err != nil {
		return nil, fmt.Errorf("gateway: loading pools: %w", err)
	}
	store.InitializeFromProviderPools(pools.Seeds())

	if err := store.WatchForExternalEdits(); err != nil {
		log.Warnf("gateway: lifecycle file watch: %v", err)
	}
	if err := pools.WatchForExternalEdits(); err != nil {
		log.Warnf("gateway: pools file watch: %v", err)
	}

	registryFactory := b.registryFactory
	if registryFactory == nil {
		registryFactory = defaultRegistry
	}
	registry := registryFactory(cfg)

	wsAdapter := b.wsAdapter
	if wsAdapter == nil && cfg.WSAgent.BaseURL != "" {
		wsCfg := wsagent.DefaultConfig()
		wsCfg.BaseURL = cfg.WSAgent.BaseURL
		wsCfg.SessionListEndpoint = cfg.WSAgent.SessionListEndpoint
		wsCfg.CredentialFile = cfg.WSAgent.CredentialFile
		wsCfg.WorkingDir = cfg.WSAgent.WorkingDir
		wsCfg.AllowRunCommand = cfg.Features.AllowRunCommand
		wsCfg.EmitToolUse = cfg.Features.EmitToolUse
		wsAdapter = wsagent.NewAdapter(wsCfg)
	}

	sender := telemetry.NewSender(cfg.Telemetry)

	d := dispatch.New(cfg, registry, pools, riskMgr, store, wsAdapter, sender)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(applogging.GinRecovery(), applogging.GinLogger())
	d.RegisterRoutes(engine)

	return &Service{
		cfg:      cfg,
		Engine:   engine,
		Store:    store,
		Risk:     riskMgr,
		Pools:    pools,
		Registry: registry,
	}, nil
}

func parseMode(s string) (policy.Mode, error) {
	switch s {
	case "", "observe":
		return policy.ModeObserve, nil
	case "enforce_soft":
		return policy.ModeEnforceSoft, nil
	case "enforce_strict":
		return policy.ModeEnforceStrict, nil
	case "protective_emergency":
		return policy.ModeProtectiveEmergency, nil
	default:
		return "", fmt.Errorf("gateway: unknown risk mode %q", s)
	}
}

// defaultRegistry registers the direct OpenAI, Claude and Gemini adapters.
// The OAuth-brokered adapters and Warp are not registered here; a custom
// RegistryFactory can add them (Warp's protobuf schema is an external
// given, §1).
func defaultRegistry(cfg *gwconfig.Config) *provider.Registry {
	r := provider.NewRegistry()
	r.Register("openai", provider.NewOpenAIAdapter(""))
	r.Register("claude", provider.NewClaudeAdapter(""))
	r.Register("gemini", provider.NewGeminiAdapter(""))
	return r
}

// Run starts the HTTP listener on addr and blocks until ctx is canceled,
// then shuts the server down gracefully.
func (s *Service) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("gateway: listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and flushes the lifecycle
// store, matching the spec's clean-shutdown exit code (§6).
func (s *Service) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Warnf("gateway: http shutdown: %v", err)
		}
	}
	if err := s.Store.FlushNow(); err != nil {
		return fmt.Errorf("gateway: final lifecycle flush: %w", err)
	}
	if err := s.Store.Close(); err != nil {
		log.Warnf("gateway: lifecycle watcher close: %v", err)
	}
	return s.Pools.Close()
}
