package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/internal/semantic"
	"github.com/smarthome-agent/backend/pkg/logger"
)

type SearchHandler struct {
	index *semantic.Index
}

func NewSearchHandler(index *semantic.Index) *SearchHandler {
	return &SearchHandler{
		index: index,
	}
}

func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	var req struct {
		Query         string  `json:"query"`
		Limit         int     `json:"limit"`
		MinSimilarity float64 `json:"min_similarity"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	hits, err := h.index.SearchDevices(c.Context(), req.Query, semantic.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		logger.Error("Device search failed",
			zap.String("query", req.Query),
			zap.Error(err))
		if errors.Is(err, semantic.ErrNotInitialized) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Device index is not ready",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to search devices",
		})
	}

	metrics.SemanticSearchResults.Observe(float64(len(hits)))

	return c.JSON(fiber.Map{
		"query":   req.Query,
		"count":   len(hits),
		"results": hits,
	})
}
