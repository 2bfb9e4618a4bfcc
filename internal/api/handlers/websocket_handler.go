package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/chat"
	"github.com/smarthome-agent/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *chat.Orchestrator
}

func NewWebSocketHandler(orchestrator *chat.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: orchestrator,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// A connection without a session_id gets its own session for its lifetime.
	fallbackSession := uuid.New().String()

	for {
		var msg struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			SessionID string `json:"session_id"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "message" {
			continue
		}
		if msg.SessionID == "" {
			msg.SessionID = fallbackSession
		}

		logger.Info("Processing WebSocket message",
			zap.String("session_id", msg.SessionID))

		err = h.streamResponse(c, msg.SessionID, msg.Content)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process message")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, sessionID, text string) error {
	ctx := context.Background()

	h.sendChunk(c, "status", "Thinking...")

	reply, err := h.orchestrator.HandleMessage(ctx, sessionID, text)
	if err != nil {
		return err
	}

	words := splitIntoWords(reply.Reply)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		err := h.sendChunk(c, "chunk", chunk)
		if err != nil {
			return err
		}
	}

	err = h.sendComplete(c, sessionID, reply)
	if err != nil {
		return err
	}

	return nil
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, sessionID string, reply *chat.Reply) error {
	msg := map[string]interface{}{
		"type":       "complete",
		"session_id": sessionID,
		"mode":       reply.Mode,
		"citations":  reply.Citations,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
