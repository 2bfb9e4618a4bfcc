package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/internal/registry"
	"github.com/smarthome-agent/backend/internal/semantic"
)

type StatsHandler struct {
	classifier *intent.Classifier
	index      *semantic.Index
	registry   *registry.Registry
}

func NewStatsHandler(classifier *intent.Classifier, index *semantic.Index, reg *registry.Registry) *StatsHandler {
	return &StatsHandler{
		classifier: classifier,
		index:      index,
		registry:   reg,
	}
}

func (h *StatsHandler) IntentCacheStats(c *fiber.Ctx) error {
	stats := h.classifier.CacheStats()
	return c.JSON(fiber.Map{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"hit_rate": stats.HitRate,
		"size":     stats.Size,
	})
}

func (h *StatsHandler) SemanticStats(c *fiber.Ctx) error {
	return c.JSON(h.index.Stats(c.Context()))
}

func (h *StatsHandler) RegistryStatus(c *fiber.Ctx) error {
	return c.JSON(h.registry.SystemStatus())
}
