package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/chat"
	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/internal/storage/models"
	"github.com/smarthome-agent/backend/internal/storage/sqlite"
	"github.com/smarthome-agent/backend/pkg/logger"
)

type ChatHandler struct {
	orchestrator *chat.Orchestrator
	db           *sqlite.Client
}

func NewChatHandler(orchestrator *chat.Orchestrator, db *sqlite.Client) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		db:           db,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	start := time.Now()
	reply, err := h.orchestrator.HandleMessage(c.Context(), req.SessionID, req.Message)
	elapsed := time.Since(start)

	mode := string(h.orchestrator.Mode(req.SessionID))
	metrics.ChatDuration.WithLabelValues(mode).Observe(elapsed.Seconds())

	if err != nil {
		metrics.ChatTotal.WithLabelValues(mode, "error").Inc()
		logger.Error("Failed to handle chat message",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}
	metrics.ChatTotal.WithLabelValues(mode, "success").Inc()

	h.persistTurn(req.SessionID, req.Message, reply)

	return c.JSON(fiber.Map{
		"session_id": req.SessionID,
		"reply":      reply.Reply,
		"mode":       reply.Mode,
		"citations":  reply.Citations,
		"latency_ms": elapsed.Milliseconds(),
	})
}

// persistTurn is best effort; a storage failure never fails the chat.
func (h *ChatHandler) persistTurn(sessionID, message string, reply *chat.Reply) {
	if h.db == nil {
		return
	}
	now := time.Now()
	turn := []models.ConversationMessage{
		{SessionID: sessionID, Role: "user", Content: message, Mode: string(reply.Mode), CreatedAt: now},
		{SessionID: sessionID, Role: "assistant", Content: reply.Reply, Mode: string(reply.Mode), CreatedAt: now},
	}
	for i := range turn {
		if err := h.db.InsertConversationMessage(&turn[i]); err != nil {
			logger.Warn("Failed to persist conversation message",
				zap.String("session_id", sessionID),
				zap.Error(err))
			return
		}
	}
}

func (h *ChatHandler) GetMode(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"mode":       h.orchestrator.Mode(sessionID),
	})
}

func (h *ChatHandler) SetMode(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
		Mode      string `json:"mode"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	var mode chat.Mode
	switch req.Mode {
	case string(chat.ModeNormal):
		mode = chat.ModeNormal
	case string(chat.ModeTroubleshooting):
		mode = chat.ModeTroubleshooting
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "mode must be NORMAL or TROUBLESHOOTING",
		})
	}

	h.orchestrator.SetMode(req.SessionID, mode)
	logger.Info("Session mode changed",
		zap.String("session_id", req.SessionID),
		zap.String("mode", req.Mode))

	return c.JSON(fiber.Map{
		"session_id": req.SessionID,
		"mode":       mode,
	})
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}
	limit := c.QueryInt("limit", 50)

	if h.db == nil {
		return c.JSON(fiber.Map{"messages": []models.ConversationMessage{}})
	}

	messages, err := h.db.GetConversation(sessionID, limit)
	if err != nil {
		logger.Error("Failed to load conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve history",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"messages":   messages,
	})
}
