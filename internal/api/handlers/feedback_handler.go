package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/internal/storage/models"
	"github.com/smarthome-agent/backend/internal/storage/sqlite"
	"github.com/smarthome-agent/backend/pkg/logger"
)

type FeedbackHandler struct {
	db *sqlite.Client
}

func NewFeedbackHandler(db *sqlite.Client) *FeedbackHandler {
	return &FeedbackHandler{
		db: db,
	}
}

func (h *FeedbackHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		DiagnosticID  string `json:"diagnostic_id"`
		Helpful       *bool  `json:"helpful"`
		IssueCategory string `json:"issue_category"`
		Comment       string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.DiagnosticID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "diagnostic_id is required",
		})
	}
	if req.Helpful == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "helpful is required",
		})
	}

	feedback := models.Feedback{
		DiagnosticID:  req.DiagnosticID,
		Helpful:       *req.Helpful,
		IssueCategory: req.IssueCategory,
		Comment:       req.Comment,
		CreatedAt:     time.Now(),
	}

	if err := h.db.StoreFeedback(&feedback); err != nil {
		logger.Error("Failed to store feedback",
			zap.String("diagnostic_id", req.DiagnosticID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	helpful := "false"
	if *req.Helpful {
		helpful = "true"
	}
	metrics.UserSatisfaction.WithLabelValues(helpful).Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "recorded",
	})
}
