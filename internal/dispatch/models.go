package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmgatewaycore/gateway/internal/dialect"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func (d *Dispatcher) handleOpenAIModelList(c *gin.Context) {
	models := d.aggregateModels(c.Request.Context())
	data := make([]map[string]any, 0, len(models))
	for _, m := range models {
		data = append(data, map[string]any{"id": m.ID, "object": "model", "owned_by": m.Provider})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func (d *Dispatcher) handleGeminiModelList(c *gin.Context) {
	models := d.aggregateModels(c.Request.Context())
	out := make([]map[string]any, 0, len(models))
	for _, m := range models {
		out = append(out, map[string]any{"name": "models/" + m.ID, "displayName": m.DisplayName})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

type taggedModel struct {
	ID          string
	DisplayName string
	Provider    string
}

// aggregateModels implements §4.11 operation 9: fan out ListModels in
// parallel across every configured provider's healthy entries, tag each
// result with its brand prefix, and merge into one flat list.
func (d *Dispatcher) aggregateModels(ctx context.Context) []taggedModel {
	results := make([][]taggedModel, len(d.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, providerType := range d.providers {
		i, providerType := i, providerType
		g.Go(func() error {
			results[i] = d.listModelsForProvider(gctx, providerType)
			return nil
		})
	}
	_ = g.Wait()

	var merged []taggedModel
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged
}

func (d *Dispatcher) listModelsForProvider(ctx context.Context, providerType string) []taggedModel {
	adapter, err := d.registry.Get(providerType)
	if err != nil {
		return nil
	}
	now := time.Now()
	var uuid string
	for _, e := range d.pools.Entries(providerType) {
		if e.Healthy(now) {
			uuid = e.Config.UUID
			break
		}
	}
	if uuid == "" {
		return nil
	}
	cred, err := d.buildCredential(providerType, uuid)
	if err != nil {
		return nil
	}
	infos, err := adapter.ListModels(ctx, cred)
	if err != nil {
		log.Debugf("dispatch: list models for %s: %v", providerType, err)
		return nil
	}
	out := make([]taggedModel, 0, len(infos))
	for _, m := range infos {
		out = append(out, taggedModel{
			ID:          dialect.BrandPrefix(providerType, m.ID),
			DisplayName: m.DisplayName,
			Provider:    providerType,
		})
	}
	return out
}
