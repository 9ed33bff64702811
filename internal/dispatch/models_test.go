package dispatch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/llmgatewaycore/gateway/internal/gwconfig"
	"github.com/llmgatewaycore/gateway/internal/lifecycle"
	"github.com/llmgatewaycore/gateway/internal/pool"
	"github.com/llmgatewaycore/gateway/internal/provider"
	"github.com/llmgatewaycore/gateway/internal/risk"
)

type modelListAdapter struct {
	id     string
	models []provider.ModelInfo
}

func (a *modelListAdapter) Identifier() string { return a.id }
func (a *modelListAdapter) ListModels(context.Context, provider.Credential) ([]provider.ModelInfo, error) {
	return a.models, nil
}
func (a *modelListAdapter) GenerateContent(context.Context, provider.Credential, string, []byte) ([]byte, error) {
	return nil, nil
}
func (a *modelListAdapter) GenerateContentStream(context.Context, provider.Credential, string, []byte) (<-chan provider.StreamChunk, error) {
	return nil, nil
}

func TestAggregateModelsMergesAndTagsAcrossProviders(t *testing.T) {
	pools := pool.NewManager(filepath.Join(t.TempDir(), "pools.json"), nil)
	store := lifecycle.NewStore(filepath.Join(t.TempDir(), "lifecycle.json"))
	riskMgr := risk.NewManager(store, risk.DefaultPolicyConfig())
	registry := provider.NewRegistry()
	registry.Register("openai", &modelListAdapter{id: "openai", models: []provider.ModelInfo{{ID: "gpt-4o"}}})
	registry.Register("claude", &modelListAdapter{id: "claude", models: []provider.ModelInfo{{ID: "opus-4"}}})

	_ = pools.Add("openai", pool.CredentialConfig{UUID: "u1"})
	_ = pools.Add("claude", pool.CredentialConfig{UUID: "u2"})

	cfg := &gwconfig.Config{Providers: []string{"openai", "claude"}, ProviderProxyURLs: map[string]string{}}
	d := New(cfg, registry, pools, riskMgr, store, nil, nil)

	models := d.aggregateModels(context.Background())
	if len(models) != 2 {
		t.Fatalf("aggregateModels returned %d models, want 2: %+v", len(models), models)
	}

	byProvider := map[string]taggedModel{}
	for _, m := range models {
		byProvider[m.Provider] = m
	}
	if byProvider["openai"].ID != "[openai] gpt-4o" {
		t.Errorf("openai model ID = %q", byProvider["openai"].ID)
	}
	if byProvider["claude"].ID != "[claude] opus-4" {
		t.Errorf("claude model ID = %q", byProvider["claude"].ID)
	}
}

func TestListModelsForProviderSkipsUnhealthyEntries(t *testing.T) {
	pools := pool.NewManager(filepath.Join(t.TempDir(), "pools.json"), nil)
	store := lifecycle.NewStore(filepath.Join(t.TempDir(), "lifecycle.json"))
	riskMgr := risk.NewManager(store, risk.DefaultPolicyConfig())
	registry := provider.NewRegistry()
	registry.Register("openai", &modelListAdapter{id: "openai", models: []provider.ModelInfo{{ID: "gpt-4o"}}})

	_ = pools.Add("openai", pool.CredentialConfig{UUID: "u1", IsDisabled: true})

	cfg := &gwconfig.Config{Providers: []string{"openai"}, ProviderProxyURLs: map[string]string{}}
	d := New(cfg, registry, pools, riskMgr, store, nil, nil)

	got := d.listModelsForProvider(context.Background(), "openai")
	if got != nil {
		t.Errorf("listModelsForProvider with no healthy entries = %+v, want nil", got)
	}
}
