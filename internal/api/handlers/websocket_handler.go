package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/middleware/identity"
	"github.com/decisionhub/backend/internal/notify"
	"github.com/decisionhub/backend/pkg/logger"
)

// WebSocketHandler streams the live events of one issue to a client that
// can view it.
type WebSocketHandler struct {
	engine *engine.Engine
	hub    *notify.Hub
}

func NewWebSocketHandler(e *engine.Engine, hub *notify.Hub) *WebSocketHandler {
	return &WebSocketHandler{engine: e, hub: hub}
}

// Upgrade refuses plain HTTP requests on the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	issueID := c.Params("id")
	userID, _ := c.Locals(identity.LocalsKey).(string)

	defer func() {
		c.Close()
		logger.Debug("WebSocket connection closed", zap.String("issue_id", issueID))
	}()

	if _, err := h.engine.GetIssue(context.Background(), userID, issueID); err != nil {
		h.sendError(c, err)
		return
	}

	sub := h.hub.Subscribe(issueID)
	defer sub.Close()

	logger.Info("WebSocket connection established",
		zap.String("issue_id", issueID),
		zap.String("user_id", userID),
	)
	h.send(c, "subscribed", issueID)

	// Clients only ever send pings; any read error ends the session.
	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := c.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case ev, open := <-sub.C:
			if !open {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				logger.Warn("Failed to write issue event", zap.String("issue_id", issueID), zap.Error(err))
				return
			}
		case <-pings:
			if err := h.send(c, "pong", nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WebSocketHandler) send(c *websocket.Conn, msgType string, data interface{}) error {
	msg := map[string]interface{}{
		"type": msgType,
	}
	if data != nil {
		msg["data"] = data
	}
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, err error) {
	msg := "Internal server error"
	var ee *engine.Error
	if errors.As(err, &ee) {
		msg = ee.Msg
	} else {
		logger.Error("Failed to open issue stream", zap.Error(err))
	}
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": msg,
	})
}
